// Command tc-server runs the transaction coordinator: the wire-protocol
// listener, the admin HTTP API, the timeout scanner and the retention
// sweeper, all wired from one process configuration.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/iklop007/galaxytx/pkg/config"
	"github.com/iklop007/galaxytx/pkg/idgen"
	"github.com/iklop007/galaxytx/pkg/interceptor"
	"github.com/iklop007/galaxytx/pkg/rm"
	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/tc"
)

var nodeID = flag.Int64("node-id", 0, "snowflake node id for this coordinator instance (0-1023, must be unique per process sharing an epoch)")

func main() {
	cfg := config.Load()

	metaStore, closeStore := openMetadataStore(cfg)
	defer closeStore()

	ids, err := idgen.New(*nodeID)
	if err != nil {
		log.Fatalf("[tc-server] id generator: %v", err)
	}

	locks := openLockManager(cfg, metaStore)

	dispatcher, tccRegistry, closeDispatcher := buildDispatcher(cfg, metaStore)
	defer closeDispatcher()

	coordCfg := tc.Config{
		DefaultTimeoutMs: cfg.DefaultTimeoutMs,
		MaxTimeoutMs:     cfg.MaxTimeoutMs,
		MinTimeoutMs:     1000,
		BranchTimeoutMs:  cfg.BranchTimeoutMs,
		LockPolicy: tc.LockPolicy{
			MaxRetries:     cfg.LockMaxRetries,
			RetryInterval:  time.Duration(cfg.LockRetryIntervalMs) * time.Millisecond,
			JitterFraction: 0.2,
		},
		ScanInterval: time.Duration(cfg.ScanIntervalMs) * time.Millisecond,
	}
	coord := tc.New(metaStore, locks, ids, dispatcher, coordCfg)
	coord.SetTCCRegistry(tccRegistry)

	address := fmt.Sprintf("%s:%d", cfg.ServerAddress, cfg.ServerPort)
	srv := tc.NewServer(coord, address, &tc.WorkerPoolConfig{
		WorkerCount: cfg.Workers,
		QueueSize:   cfg.QueueSize,
		Timeout:     30 * time.Second,
	}, &tc.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit,
		BurstSize:         cfg.BurstSize,
		CleanupInterval:   5 * time.Minute,
	})

	monitor := tc.NewMonitor(coord, srv.RateLimiter(), time.Minute)
	monitor.Start()
	defer monitor.Stop()

	sweeper := store.NewRetentionSweeper(metaStore, cfg.RetentionGracePeriod, time.Hour)
	sweeper.Start()
	defer sweeper.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("[tc-server] shutting down...")
		cancel()
	}()

	admin := tc.NewAdminAPI(coord, srv.RateLimiter())
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: admin.Router()}
	go func() {
		log.Printf("[tc-server] admin API listening on %s", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[tc-server] admin API error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("[tc-server] server stopped: %v", err)
	}
}

// openMetadataStore picks MemoryStore when no metadata DSN is configured
// (local development, the examples, and every literal scenario in this
// repo's own tests), MySQLStore otherwise.
func openMetadataStore(cfg *config.Config) (store.Store, func()) {
	if cfg.MetadataDSN == "" {
		log.Println("[tc-server] no metadata_dsn configured, using in-memory store")
		return store.NewMemoryStore(), func() {}
	}
	s, err := store.OpenMySQLStore(cfg.MetadataDSN, store.DefaultMySQLPoolConfig())
	if err != nil {
		log.Fatalf("[tc-server] open metadata store: %v", err)
	}
	return s, func() { _ = s.Close() }
}

// openLockManager prefers a Redis-backed lock table when redis_addr is
// set, keeping the lock hot path off the metadata store's write path; it
// falls back to the metadata store's own row-based locking otherwise.
func openLockManager(cfg *config.Config, s store.Store) tc.LockManager {
	policy := tc.LockPolicy{
		MaxRetries:     cfg.LockMaxRetries,
		RetryInterval:  time.Duration(cfg.LockRetryIntervalMs) * time.Millisecond,
		JitterFraction: 0.2,
	}
	if cfg.RedisAddr == "" {
		return tc.NewStoreLockManager(s, policy)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Printf("[tc-server] using redis lock manager at %s", cfg.RedisAddr)
	return tc.NewRedisLockManager(rdb, s, policy)
}

// buildDispatcher wires one rm.Handler per branch type against the
// coordinator's own business-side connections: the AT handler reads/writes
// undo logs against the business database, XA issues literal XA
// COMMIT/ROLLBACK against it, MQ republishes parked broker messages, and
// TCC drives whatever confirm/cancel callbacks business code has
// registered into the shared registry. Dial failures for the optional MQ
// transport are logged, not fatal: a deployment with no MQ-mode resources
// never configures amqp_url.
func buildDispatcher(cfg *config.Config, s store.Store) (*rm.Dispatcher, *rm.TCCRegistry, func()) {
	dispatcher := rm.NewDispatcher()
	var closers []func()

	businessDB, err := sql.Open("mysql", cfg.BusinessDSN)
	if err != nil {
		log.Fatalf("[tc-server] open business database: %v", err)
	}
	closers = append(closers, func() { _ = businessDB.Close() })

	undoRepo := interceptor.NewUndoLogRepository(businessDB)
	engine := interceptor.NewEngine(businessDB, undoRepo, s)
	dispatcher.Register(store.BranchAT, rm.NewATHandler(engine))

	dispatcher.Register(store.BranchXA, rm.NewXAHandler(singleDBProvider{db: businessDB}))

	tccRegistry := rm.NewTCCRegistry(nil)
	dispatcher.Register(store.BranchTCC, rm.NewTCCHandler(tccRegistry))

	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Printf("[tc-server] amqp dial failed, MQ-mode branches will not dispatch: %v", err)
		} else {
			ch, err := conn.Channel()
			if err != nil {
				log.Printf("[tc-server] amqp channel failed, MQ-mode branches will not dispatch: %v", err)
				_ = conn.Close()
			} else {
				dispatcher.Register(store.BranchMQ, rm.NewMQHandler(ch, ""))
				closers = append(closers, func() { _ = ch.Close(); _ = conn.Close() })
			}
		}
	}

	dispatcher.Register(store.BranchHTTP, rm.NewHTTPHandler(&http.Client{Timeout: 10 * time.Second}))

	return dispatcher, tccRegistry, func() {
		for _, c := range closers {
			c()
		}
	}
}

// singleDBProvider satisfies rm.XAConnProvider for a deployment with one
// business database shared across every XA-mode resourceId.
type singleDBProvider struct {
	db *sql.DB
}

func (p singleDBProvider) DB(resourceID string) (*sql.DB, error) {
	return p.db, nil
}
