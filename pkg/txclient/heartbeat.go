package txclient

import (
	"log"
	"sync"
	"time"

	"github.com/iklop007/galaxytx/pkg/wire"
)

// HeartbeatConfig tunes the liveness probe a TcClient runs against its
// coordinator connection every Interval, whether or not other calls are in
// flight.
type HeartbeatConfig struct {
	Enabled        bool
	Interval       time.Duration
	Timeout        time.Duration
	MaxMissedBeats int
}

// DefaultHeartbeatConfig mirrors the teacher's heartbeat defaults.
func DefaultHeartbeatConfig() *HeartbeatConfig {
	return &HeartbeatConfig{
		Enabled:        true,
		Interval:       30 * time.Second,
		Timeout:        10 * time.Second,
		MaxMissedBeats: 3,
	}
}

// HeartbeatMonitor periodically round-trips a lightweight GlobalStatus
// query (on a deliberately unknown xid — only the round trip itself is
// observed, not its result) to detect a half-open connection before a real
// RPC would time out against it.
type HeartbeatMonitor struct {
	connMgr *ConnectionManager
	config  *HeartbeatConfig

	mutex       sync.Mutex
	missedBeats int
	lastBeat    time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHeartbeatMonitor builds a monitor over connMgr's connection.
func NewHeartbeatMonitor(connMgr *ConnectionManager, config *HeartbeatConfig) *HeartbeatMonitor {
	if config == nil {
		config = DefaultHeartbeatConfig()
	}
	return &HeartbeatMonitor{connMgr: connMgr, config: config, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start begins the heartbeat loop if heartbeats are enabled.
func (hm *HeartbeatMonitor) Start() {
	if !hm.config.Enabled {
		close(hm.doneCh)
		return
	}
	go hm.loop()
}

// Stop ends the heartbeat loop and waits for it to exit.
func (hm *HeartbeatMonitor) Stop() {
	select {
	case <-hm.doneCh:
		return
	default:
	}
	close(hm.stopCh)
	<-hm.doneCh
}

func (hm *HeartbeatMonitor) loop() {
	defer close(hm.doneCh)
	ticker := time.NewTicker(hm.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-hm.stopCh:
			return
		case <-ticker.C:
			hm.beat()
		}
	}
}

func (hm *HeartbeatMonitor) beat() {
	conn, err := hm.connMgr.Conn()
	if err != nil {
		hm.missed("no connection: " + err.Error())
		return
	}

	req := wire.GlobalStatusBody{XID: "__heartbeat__"}
	body, err := conn.Codec().Encode(req)
	if err != nil {
		hm.missed("encode heartbeat: " + err.Error())
		return
	}
	msg := &wire.RpcMessage{ID: conn.NextID(), Type: wire.GlobalStatus, Codec: conn.Codec().Name(), Body: body}

	if _, err := conn.Call(msg, hm.config.Timeout); err != nil {
		hm.missed("no heartbeat response: " + err.Error())
		return
	}

	hm.mutex.Lock()
	hm.missedBeats = 0
	hm.lastBeat = time.Now()
	hm.mutex.Unlock()
}

func (hm *HeartbeatMonitor) missed(reason string) {
	hm.mutex.Lock()
	hm.missedBeats++
	count := hm.missedBeats
	hm.mutex.Unlock()

	log.Printf("[txclient] missed heartbeat #%d: %s", count, reason)
	if count >= hm.config.MaxMissedBeats {
		log.Printf("[txclient] connection considered dead after %d missed heartbeats", count)
	}
}
