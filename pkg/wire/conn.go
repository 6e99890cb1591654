package wire

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iklop007/galaxytx/pkg/txerr"
)

// pending is a single in-flight request's correlation slot.
type pending struct {
	ch chan *RpcMessage
}

// Conn wraps a framed net.Conn with request/response correlation by message
// id, generalizing the reply-queue correlation pattern used by the AMQP
// transport to a direct, persistent TCP connection.
type Conn struct {
	conn    net.Conn
	codec   Codec
	nextID  uint32
	mu      sync.Mutex
	waiters map[uint32]*pending
	closed  atomic.Bool
	onFrame func(*RpcMessage) // handler for server-initiated frames (TC side)
}

// NewConn wraps an established net.Conn. If onFrame is non-nil, every
// received frame that does not correlate to a pending request is passed to
// it instead of being dropped — used on the TC side, where every inbound
// frame is a fresh request rather than a response.
func NewConn(conn net.Conn, codec Codec, onFrame func(*RpcMessage)) *Conn {
	if codec == nil {
		codec = DefaultCodec
	}
	c := &Conn{
		conn:    conn,
		codec:   codec,
		waiters: make(map[uint32]*pending),
		onFrame: onFrame,
	}
	go c.readLoop()
	return c
}

// NextID returns the next monotonic message id for this connection.
func (c *Conn) NextID() uint32 {
	return atomic.AddUint32(&c.nextID, 1)
}

// Codec returns the codec this connection serializes bodies with.
func (c *Conn) Codec() Codec { return c.codec }

// Send writes msg to the wire without waiting for a response.
func (c *Conn) Send(msg *RpcMessage) error {
	if c.closed.Load() {
		return txerr.New(txerr.Network, "connection closed")
	}
	return WriteFrame(c.conn, msg)
}

// Call sends msg and blocks for its correlated response, up to deadline.
// A slot that is not fulfilled before the deadline surfaces a Timeout
// error and the slot is released.
func (c *Conn) Call(msg *RpcMessage, deadline time.Duration) (*RpcMessage, error) {
	slot := &pending{ch: make(chan *RpcMessage, 1)}
	c.mu.Lock()
	c.waiters[msg.ID] = slot
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case resp := <-slot.ch:
		return resp, nil
	case <-timer.C:
		return nil, txerr.New(txerr.Timeout, "no response within deadline")
	}
}

// readLoop continuously reads frames and dispatches them either to a
// waiting correlation slot or, if none matches, to onFrame.
func (c *Conn) readLoop() {
	for {
		msg, err := ReadFrame(c.conn)
		if err != nil {
			if !c.closed.Load() {
				log.Printf("[wire] connection read error: %v", err)
			}
			c.shutdown()
			return
		}

		c.mu.Lock()
		slot, ok := c.waiters[msg.ID]
		c.mu.Unlock()

		if ok {
			slot.ch <- msg
			continue
		}
		if c.onFrame != nil {
			c.onFrame(msg)
		}
	}
}

func (c *Conn) shutdown() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	for id, slot := range c.waiters {
		close(slot.ch)
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Close shuts the connection down and unblocks any pending Call.
func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

// IsClosed reports whether the underlying net.Conn has been shut down,
// either explicitly via Close or after a read error on readLoop.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
