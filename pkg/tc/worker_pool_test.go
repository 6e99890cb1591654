package tc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iklop007/galaxytx/pkg/wire"
)

func TestWorkerPoolSubmitBeforeStartFails(t *testing.T) {
	wp := NewWorkerPool(func(WireTask) {}, nil)
	err := wp.Submit(WireTask{Message: &wire.RpcMessage{ID: 1}})
	require.Error(t, err)
}

func TestWorkerPoolStartTwiceFails(t *testing.T) {
	wp := NewWorkerPool(func(WireTask) {}, &WorkerPoolConfig{WorkerCount: 1, QueueSize: 1})
	require.NoError(t, wp.Start())
	defer wp.Stop(time.Second)

	require.Error(t, wp.Start())
}

func TestWorkerPoolProcessesSubmittedTasks(t *testing.T) {
	var mu sync.Mutex
	var processed []uint32

	wp := NewWorkerPool(func(task WireTask) {
		mu.Lock()
		processed = append(processed, task.Message.ID)
		mu.Unlock()
	}, &WorkerPoolConfig{WorkerCount: 2, QueueSize: 10})
	require.NoError(t, wp.Start())
	defer wp.Stop(time.Second)

	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, wp.Submit(WireTask{Message: &wire.RpcMessage{ID: i}, Timestamp: time.Now()}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerPoolSubmitFailsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)

	wp := NewWorkerPool(func(task WireTask) {
		started <- struct{}{}
		<-block // hold the one worker busy so the queue backs up
	}, &WorkerPoolConfig{WorkerCount: 1, QueueSize: 1})
	require.NoError(t, wp.Start())
	defer func() {
		close(block)
		wp.Stop(time.Second)
	}()

	require.NoError(t, wp.Submit(WireTask{Message: &wire.RpcMessage{ID: 1}}))
	<-started // the single worker is now blocked inside dispatch

	require.NoError(t, wp.Submit(WireTask{Message: &wire.RpcMessage{ID: 2}})) // fills the queue
	err := wp.Submit(WireTask{Message: &wire.RpcMessage{ID: 3}})
	require.Error(t, err)
}
