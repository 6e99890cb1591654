package tc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iklop007/galaxytx/pkg/wire"
)

// WireTask is one inbound frame queued for processing by a worker, paired
// with the connection it arrived on so the worker can write the
// correlated Result frame back.
type WireTask struct {
	Conn      *wire.Conn
	Message   *wire.RpcMessage
	Timestamp time.Time
}

// WorkerPool bounds the concurrency of inbound wire-frame processing so
// that a burst of requests queues instead of spawning unbounded
// goroutines, while keeping the accept loop's read path never blocked on
// business logic.
type WorkerPool struct {
	workerCount int
	queue       chan WireTask
	dispatch    func(WireTask)
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
	mutex       sync.RWMutex
}

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	WorkerCount int
	QueueSize   int
	Timeout     time.Duration
}

// NewWorkerPool builds a WorkerPool that calls dispatch for every queued
// task. The pool is not started until Start is called.
func NewWorkerPool(dispatch func(WireTask), config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{WorkerCount: 25, QueueSize: 1000, Timeout: 30 * time.Second}
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 25
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workerCount: config.WorkerCount,
		queue:       make(chan WireTask, config.QueueSize),
		dispatch:    dispatch,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() error {
	wp.mutex.Lock()
	defer wp.mutex.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	log.Printf("[tc] starting worker pool with %d workers, queue size %d", wp.workerCount, cap(wp.queue))
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.started = true
	return nil
}

// Stop signals shutdown and waits up to timeout for in-flight tasks to
// drain.
func (wp *WorkerPool) Stop(timeout time.Duration) error {
	wp.mutex.Lock()
	if !wp.started {
		wp.mutex.Unlock()
		return nil
	}
	wp.mutex.Unlock()

	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool shutdown timeout")
	}
}

// Submit enqueues a task. It returns an error immediately if the queue is
// full rather than blocking the accept loop's read path.
func (wp *WorkerPool) Submit(task WireTask) error {
	wp.mutex.RLock()
	defer wp.mutex.RUnlock()

	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}

	select {
	case wp.queue <- task:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	default:
		log.Printf("[tc] worker pool queue full, dropping frame %d", task.Message.ID)
		return fmt.Errorf("worker pool queue is full")
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case task := <-wp.queue:
			wp.processTask(id, task)
		}
	}
}

func (wp *WorkerPool) processTask(workerID int, task WireTask) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[tc] worker %d panic recovered processing frame %d: %v", workerID, task.Message.ID, r)
			resp := &wire.RpcMessage{ID: task.Message.ID, Type: wire.Result}
			body, _ := task.Conn.Codec().Encode(map[string]string{"error": fmt.Sprintf("internal error: %v", r)})
			resp.Body = body
			_ = task.Conn.Send(resp)
		}
	}()

	wp.dispatch(task)

	queueTime := start.Sub(task.Timestamp)
	processingTime := time.Since(start)
	if queueTime > time.Second || processingTime > time.Second {
		log.Printf("[tc] worker %d frame %d queue=%v processing=%v", workerID, task.Message.ID, queueTime, processingTime)
	}
}
