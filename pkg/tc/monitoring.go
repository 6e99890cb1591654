package tc

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Monitor periodically logs a coordinator activity summary: in-flight
// transaction count, cache hit ratio, rate-limiter load.
type Monitor struct {
	coord     *Coordinator
	limiter   *RateLimiter
	interval  time.Duration
	startTime time.Time
	stopCh    chan struct{}
}

// NewMonitor builds a Monitor ticking every interval (defaulting to 60s).
func NewMonitor(coord *Coordinator, limiter *RateLimiter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Monitor{
		coord:     coord,
		limiter:   limiter,
		interval:  interval,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the monitoring loop in a background goroutine.
func (m *Monitor) Start() {
	go m.loop()
	log.Printf("[tc] monitoring started, interval=%v", m.interval)
}

// Stop ends the monitoring loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.report()
		}
	}
}

func (m *Monitor) report() {
	globals, err := m.coord.store.ListNonTerminalGlobals()
	if err != nil {
		log.Printf("[tc] monitor: list non-terminal globals failed: %v", err)
		return
	}
	cacheStats := m.coord.cache.GetStats()

	if len(globals) == 0 && cacheStats.Hits == 0 && cacheStats.Misses == 0 {
		fmt.Printf("tc status: idle (uptime %v)\n", time.Since(m.startTime).Round(time.Second))
		return
	}

	fmt.Println(strings.Repeat("-", 52))
	fmt.Printf("tc report %s\n", time.Now().Format("15:04:05"))
	fmt.Printf("  uptime: %v\n", time.Since(m.startTime).Round(time.Second))
	fmt.Printf("  in-flight transactions: %d\n", len(globals))

	total := cacheStats.Hits + cacheStats.Misses
	if total > 0 {
		ratio := float64(cacheStats.Hits) / float64(total) * 100
		fmt.Printf("  status cache: hits=%d misses=%d ratio=%.1f%% size=%d evictions=%d\n",
			cacheStats.Hits, cacheStats.Misses, ratio, m.coord.cache.Size(), cacheStats.Evictions)
	}

	if m.limiter != nil {
		lstats := m.limiter.GetStats()
		fmt.Printf("  rate limiter: tracked clients=%d\n", lstats.ActiveClients)
	}
	fmt.Println(strings.Repeat("-", 52))
}
