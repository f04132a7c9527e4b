package server

import (
	"log"
	"sync"
	"time"

	"github.com/averyhale/pulsehub/pkg/protocol"
)

// StatsTracker maintains a sliding window of recent request timestamps to
// derive a live requests-per-second figure, and periodically publishes a
// snapshot on the metrics channel. The window is the tracker's only shared
// state and is mutated nowhere else.
type StatsTracker struct {
	registry    *Registry
	broadcaster *Broadcaster

	mu     sync.Mutex
	window []time.Time
	total  uint64
	rps    int

	windowSpan      time.Duration
	evictInterval   time.Duration
	publishInterval time.Duration

	startTime time.Time
	done      chan struct{}
	stopped   chan struct{}
}

// NewStatsTracker creates a tracker over the given registry and broadcaster.
// windowSpan bounds the sliding window; eviction runs every evictInterval and
// snapshots are published every publishInterval.
func NewStatsTracker(registry *Registry, broadcaster *Broadcaster, windowSpan, evictInterval, publishInterval time.Duration) *StatsTracker {
	return &StatsTracker{
		registry:        registry,
		broadcaster:     broadcaster,
		windowSpan:      windowSpan,
		evictInterval:   evictInterval,
		publishInterval: publishInterval,
		startTime:       time.Now(),
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

// RecordEvent appends the current timestamp to the window. Called for every
// inbound HTTP request.
func (t *StatsTracker) RecordEvent() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = append(t.window, time.Now())
	t.total++
}

// Run drives the eviction and publish tickers until Stop is called.
func (t *StatsTracker) Run() {
	defer close(t.stopped)

	evict := time.NewTicker(t.evictInterval)
	defer evict.Stop()
	publish := time.NewTicker(t.publishInterval)
	defer publish.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-evict.C:
			t.evict(time.Now())
		case <-publish.C:
			t.publish()
		}
	}
}

// Stop terminates the ticker loop and waits for it to exit.
func (t *StatsTracker) Stop() {
	close(t.done)
	<-t.stopped
}

// evict drops window entries older than the window span as of now, then
// recomputes the live rate.
func (t *StatsTracker) evict(now time.Time) {
	cutoff := now.Add(-t.windowSpan)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.window[:0]
	for _, ts := range t.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.window = kept
	t.rps = len(kept)
}

// Snapshot returns the current metrics. Active connections are always read
// live from the registry so the figure can never drift from the true count.
func (t *StatsTracker) Snapshot() protocol.MetricsSnapshot {
	t.mu.Lock()
	total := t.total
	rps := t.rps
	t.mu.Unlock()

	return protocol.MetricsSnapshot{
		TotalRequests:     total,
		ActiveConnections: t.registry.Size(),
		RequestsPerSecond: rps,
		UptimeSeconds:     time.Since(t.startTime).Seconds(),
	}
}

// publish broadcasts the current snapshot on the metrics channel. Metrics
// broadcasts are server-initiated, so there is no origin to exclude.
func (t *StatsTracker) publish() {
	data, err := protocol.Encode(protocol.KindMetrics, t.Snapshot())
	if err != nil {
		log.Printf("Error encoding metrics snapshot: %v", err)
		return
	}
	t.broadcaster.Publish(protocol.ChannelMetrics, data, NoOrigin)
}
