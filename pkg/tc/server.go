package tc

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/wire"
)

// Server accepts wire.Conn connections and dispatches their inbound frames
// through a rate limiter and worker pool to the Coordinator.
type Server struct {
	coord    *Coordinator
	scanner  *Scanner
	pool     *WorkerPool
	limiter  *RateLimiter
	listener net.Listener
	address  string
}

// NewServer builds a Server bound to address, wiring a worker pool and rate
// limiter in front of coord.
func NewServer(coord *Coordinator, address string, poolConfig *WorkerPoolConfig, limiterConfig *RateLimiterConfig) *Server {
	s := &Server{
		coord:   coord,
		scanner: NewScanner(coord),
		limiter: NewRateLimiter(limiterConfig),
		address: address,
	}
	s.pool = NewWorkerPool(s.dispatch, poolConfig)
	return s
}

// ListenAndServe binds the listener and accepts connections until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("tc: listen %s: %w", s.address, err)
	}
	s.listener = ln
	log.Printf("[tc] listening on %s", s.address)

	if err := s.pool.Start(); err != nil {
		return fmt.Errorf("tc: start worker pool: %w", err)
	}
	s.scanner.Start()

	go func() {
		<-ctx.Done()
		log.Printf("[tc] shutting down server...")
		_ = s.listener.Close()
		s.scanner.Stop()
		_ = s.pool.Stop(10 * time.Second)
		s.limiter.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("[tc] accept error: %v", err)
				continue
			}
		}
		go s.handleConn(conn)
	}
}

// RateLimiter exposes the server's rate limiter, for wiring into AdminAPI.
func (s *Server) RateLimiter() *RateLimiter { return s.limiter }

func (s *Server) handleConn(netConn net.Conn) {
	remote := netConn.RemoteAddr().String()
	var wc *wire.Conn
	wc = wire.NewConn(netConn, wire.DefaultCodec, func(msg *wire.RpcMessage) {
		if !s.limiter.Allow(remote) {
			log.Printf("[tc] rate limit exceeded for %s", remote)
			s.writeError(wc, msg, "rate limit exceeded")
			return
		}
		task := WireTask{Conn: wc, Message: msg, Timestamp: time.Now()}
		if err := s.pool.Submit(task); err != nil {
			log.Printf("[tc] submit failed for frame %d from %s: %v", msg.ID, remote, err)
			s.writeError(wc, msg, "server overloaded, please retry")
		}
	})
}

func (s *Server) writeError(wc *wire.Conn, req *wire.RpcMessage, message string) {
	resp := &wire.RpcMessage{ID: req.ID, Type: wire.Result}
	body, _ := wc.Codec().Encode(map[string]string{"error": message})
	resp.Body = body
	_ = wc.Send(resp)
}

// dispatch routes one inbound frame to the Coordinator method matching its
// MessageType and writes the correlated Result frame back.
func (s *Server) dispatch(task WireTask) {
	switch task.Message.Type {
	case wire.GlobalBegin:
		s.handleGlobalBegin(task)
	case wire.GlobalCommit:
		s.handleGlobalCommit(task)
	case wire.GlobalRollback:
		s.handleGlobalRollback(task)
	case wire.GlobalStatus:
		s.handleGlobalStatus(task)
	case wire.BranchRegister:
		s.handleBranchRegister(task)
	case wire.BranchStatusReport:
		s.handleBranchStatusReport(task)
	default:
		log.Printf("[tc] dropping frame %d with unknown type %d", task.Message.ID, task.Message.Type)
		task.Conn.Close()
	}
}

func (s *Server) reply(task WireTask, body interface{}) {
	encoded, err := task.Conn.Codec().Encode(body)
	if err != nil {
		log.Printf("[tc] encode response for frame %d failed: %v", task.Message.ID, err)
		return
	}
	resp := &wire.RpcMessage{ID: task.Message.ID, Type: wire.Result, Codec: task.Conn.Codec().Name(), Body: encoded}
	if err := task.Conn.Send(resp); err != nil {
		log.Printf("[tc] send response for frame %d failed: %v", task.Message.ID, err)
	}
}

func (s *Server) handleGlobalBegin(task WireTask) {
	var req wire.GlobalBeginBody
	if err := task.Conn.Codec().Decode(task.Message.Body, &req); err != nil {
		s.reply(task, wire.GlobalBeginResultBody{Error: err.Error()})
		return
	}
	xid, err := s.coord.Begin(req.ApplicationID, req.TransactionName, req.TimeoutMs)
	if err != nil {
		s.reply(task, wire.GlobalBeginResultBody{Error: err.Error()})
		return
	}
	s.reply(task, wire.GlobalBeginResultBody{XID: xid})
}

func (s *Server) handleGlobalCommit(task WireTask) {
	var req wire.GlobalCommitBody
	if err := task.Conn.Codec().Decode(task.Message.Body, &req); err != nil {
		s.reply(task, wire.GlobalStatusResultBody{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.coord.phaseTwoBudget())
	defer cancel()
	status, err := s.coord.GlobalCommit(ctx, req.XID)
	if err != nil {
		s.reply(task, wire.GlobalStatusResultBody{XID: req.XID, Error: err.Error()})
		return
	}
	s.reply(task, wire.GlobalStatusResultBody{XID: req.XID, Status: string(status)})
}

func (s *Server) handleGlobalRollback(task WireTask) {
	var req wire.GlobalCommitBody
	if err := task.Conn.Codec().Decode(task.Message.Body, &req); err != nil {
		s.reply(task, wire.GlobalStatusResultBody{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.coord.phaseTwoBudget())
	defer cancel()
	status, err := s.coord.GlobalRollback(ctx, req.XID)
	if err != nil {
		s.reply(task, wire.GlobalStatusResultBody{XID: req.XID, Error: err.Error()})
		return
	}
	s.reply(task, wire.GlobalStatusResultBody{XID: req.XID, Status: string(status)})
}

func (s *Server) handleGlobalStatus(task WireTask) {
	var req wire.GlobalStatusBody
	if err := task.Conn.Codec().Decode(task.Message.Body, &req); err != nil {
		s.reply(task, wire.GlobalStatusResultBody{Error: err.Error()})
		return
	}
	status, err := s.coord.GlobalStatus(req.XID)
	if err != nil {
		s.reply(task, wire.GlobalStatusResultBody{XID: req.XID, Error: err.Error()})
		return
	}
	s.reply(task, wire.GlobalStatusResultBody{XID: req.XID, Status: string(status)})
}

func (s *Server) handleBranchRegister(task WireTask) {
	var req wire.BranchRegisterBody
	if err := task.Conn.Codec().Decode(task.Message.Body, &req); err != nil {
		s.reply(task, wire.BranchRegisterResultBody{Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.coord.cfg.BranchTimeoutMs)*time.Millisecond)
	defer cancel()
	branchID, err := s.coord.RegisterBranch(ctx, req.XID, req.ResourceGroupID, req.ResourceID, store.BranchType(req.BranchType), req.LockKey, req.ApplicationData)
	if err != nil {
		s.reply(task, wire.BranchRegisterResultBody{Error: err.Error()})
		return
	}
	s.reply(task, wire.BranchRegisterResultBody{BranchID: branchID})
}

func (s *Server) handleBranchStatusReport(task WireTask) {
	var req wire.BranchStatusReportBody
	if err := task.Conn.Codec().Decode(task.Message.Body, &req); err != nil {
		s.reply(task, map[string]string{"error": err.Error()})
		return
	}
	if err := s.coord.ReportBranchStatus(req.XID, req.BranchID, store.BranchStatus(req.Status)); err != nil {
		s.reply(task, map[string]string{"error": err.Error()})
		return
	}
	s.reply(task, map[string]string{"status": "ok"})
}
