package tc

import (
	"context"
	"log"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
)

// Scanner periodically sweeps non-terminal global transactions, rolling
// back any whose timeout has elapsed and marking their still-pending
// branches Timeout.
type Scanner struct {
	coord    *Coordinator
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScanner builds a Scanner over coord, ticking at coord.cfg.ScanInterval.
func NewScanner(coord *Coordinator) *Scanner {
	interval := coord.cfg.ScanInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scanner{
		coord:    coord,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the scan loop in a background goroutine.
func (s *Scanner) Start() {
	go s.loop()
}

// Stop signals the loop to exit and waits for it to finish its current
// tick.
func (s *Scanner) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scanner) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scanner) tick() {
	globals, err := s.coord.store.ListNonTerminalGlobals()
	if err != nil {
		log.Printf("[tc] scanner: list non-terminal globals failed: %v", err)
		return
	}

	now := store.NowMs()
	for _, g := range globals {
		if !g.Expired(now) {
			continue
		}
		s.markTimedOutBranches(g.XID)

		unlock := s.coord.lockXID(g.XID)
		if g.Status == store.StatusBegin || g.Status == store.StatusCommitting || g.Status == store.StatusRollbacking {
			_ = s.coord.store.UpdateGlobalStatus(g.XID, store.StatusTimeoutRollbacking)
			s.coord.cache.Invalidate(g.XID)
		}
		unlock()

		log.Printf("[tc] scanner: xid=%s exceeded timeoutMs=%d, driving timeout rollback", g.XID, g.TimeoutMs)
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.coord.cfg.BranchTimeoutMs)*time.Millisecond*2)
		if _, err := s.coord.GlobalRollback(ctx, g.XID); err != nil {
			log.Printf("[tc] scanner: timeout rollback of xid=%s failed: %v", g.XID, err)
		}
		cancel()
	}
}

// markTimedOutBranches moves any branch of xid still sitting in
// Registered past its own branch-level deadline into BranchTimeout, making
// it eligible for phase-2 dispatch instead of blocking the global rollback
// forever.
func (s *Scanner) markTimedOutBranches(xid string) {
	branches, err := s.coord.store.ListBranches(xid)
	if err != nil {
		return
	}
	now := store.NowMs()
	for _, b := range branches {
		if b.Status != store.BranchRegistered {
			continue
		}
		if now-b.BeginTimeMs <= b.TimeoutMs {
			continue
		}
		_ = s.coord.store.UpdateBranchStatus(b.BranchID, store.BranchTimeout)
	}
}
