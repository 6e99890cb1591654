package txclient

import (
	"log"
	"sync"
	"time"

	"github.com/iklop007/galaxytx/pkg/txerr"
	"github.com/iklop007/galaxytx/pkg/wire"
)

// ReconnectConfig controls automatic reconnection behavior for a TcClient's
// wire connection, mirroring the teacher's AMQP reconnection knobs
// retargeted to a plain TCP dial.
type ReconnectConfig struct {
	Enabled           bool
	MaxAttempts       int // 0 = unlimited
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	BackoffMultiplier float64
	ResetInterval     time.Duration
}

// DefaultReconnectConfig mirrors the teacher's DefaultReconnectConfig.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		Enabled:           true,
		MaxAttempts:       10,
		InitialInterval:   1 * time.Second,
		MaxInterval:       60 * time.Second,
		BackoffMultiplier: 2.0,
		ResetInterval:     5 * time.Minute,
	}
}

// ConnectionManager owns the current wire.Conn to the coordinator and
// replaces it transparently on failure, with exponential backoff bounded by
// MaxAttempts.
type ConnectionManager struct {
	address     string
	dialTimeout time.Duration
	config      *ReconnectConfig

	mutex         sync.RWMutex
	conn          *wire.Conn
	lastConnected time.Time
	attempts      int
	nextInterval  time.Duration
	closed        bool

	onConnected    func()
	onDisconnected func(error)
}

// NewConnectionManager builds a manager for the given coordinator address.
func NewConnectionManager(address string, dialTimeout time.Duration, config *ReconnectConfig) *ConnectionManager {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	return &ConnectionManager{
		address:      address,
		dialTimeout:  dialTimeout,
		config:       config,
		nextInterval: config.InitialInterval,
	}
}

// Connect establishes the initial connection.
func (cm *ConnectionManager) Connect() error {
	return cm.dialOnce()
}

func (cm *ConnectionManager) dialOnce() error {
	netConn, err := dial(cm.address, cm.dialTimeout)
	if err != nil {
		return err
	}

	cm.mutex.Lock()
	cm.conn = wire.NewConn(netConn, wire.DefaultCodec, nil)
	cm.lastConnected = time.Now()
	cm.attempts = 0
	cm.nextInterval = cm.config.InitialInterval
	cm.mutex.Unlock()

	if cm.onConnected != nil {
		cm.onConnected()
	}
	return nil
}

// Conn returns the current live connection, reconnecting first if the
// previous one has gone down and automatic reconnection is enabled.
func (cm *ConnectionManager) Conn() (*wire.Conn, error) {
	cm.mutex.RLock()
	conn := cm.conn
	closed := cm.closed
	cm.mutex.RUnlock()

	if closed {
		return nil, txerr.New(txerr.Network, "txclient: connection manager closed")
	}
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	if !cm.config.Enabled {
		return nil, txerr.New(txerr.Network, "txclient: connection lost and reconnection disabled")
	}
	return cm.reconnect()
}

func (cm *ConnectionManager) reconnect() (*wire.Conn, error) {
	var lastErr error
	for attempt := 1; cm.config.MaxAttempts == 0 || attempt <= cm.config.MaxAttempts; attempt++ {
		cm.mutex.RLock()
		interval := cm.nextInterval
		cm.mutex.RUnlock()

		log.Printf("[txclient] reconnect attempt %d to %s (waiting %v)", attempt, cm.address, interval)
		time.Sleep(interval)

		if err := cm.dialOnce(); err != nil {
			lastErr = err
			cm.mutex.Lock()
			cm.attempts = attempt
			next := time.Duration(float64(cm.nextInterval) * cm.config.BackoffMultiplier)
			if next > cm.config.MaxInterval {
				next = cm.config.MaxInterval
			}
			cm.nextInterval = next
			cm.mutex.Unlock()
			continue
		}

		cm.mutex.RLock()
		conn := cm.conn
		cm.mutex.RUnlock()
		return conn, nil
	}
	if lastErr == nil {
		lastErr = txerr.New(txerr.Network, "txclient: reconnection exhausted")
	}
	if cm.onDisconnected != nil {
		cm.onDisconnected(lastErr)
	}
	return nil, lastErr
}

// SetCallbacks installs connection lifecycle hooks.
func (cm *ConnectionManager) SetCallbacks(onConnected func(), onDisconnected func(error)) {
	cm.onConnected = onConnected
	cm.onDisconnected = onDisconnected
}

// Close shuts the manager down; further Conn calls fail immediately.
func (cm *ConnectionManager) Close() error {
	cm.mutex.Lock()
	cm.closed = true
	conn := cm.conn
	cm.mutex.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
