package room

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/metrics"
)

// ReaperInterval is how often the reaper scans for stale rooms.
const ReaperInterval = 60 * time.Second

// Reaper periodically removes rooms that have been empty for at least
// the registry's idle threshold. It is a single long-lived goroutine;
// a zero threshold means the reaper should never be started.
type Reaper struct {
	registry *Registry
	interval time.Duration
	clock    clock.WithTicker
	stop     chan struct{}
	done     chan struct{}
}

// NewReaper creates a reaper over the registry with the default interval.
func NewReaper(registry *Registry) *Reaper {
	return NewReaperWithClock(registry, ReaperInterval, clock.RealClock{})
}

// NewReaperWithClock injects the scan interval and clock for tests.
func NewReaperWithClock(registry *Registry, interval time.Duration, c clock.WithTicker) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		clock:    c,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the reaper goroutine.
func (rp *Reaper) Start() {
	go rp.run()
}

// Stop terminates the reaper and waits for its goroutine to exit.
func (rp *Reaper) Stop() {
	close(rp.stop)
	<-rp.done
}

func (rp *Reaper) run() {
	defer close(rp.done)

	ticker := rp.clock.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			rp.sweep()
		case <-rp.stop:
			return
		}
	}
}

// sweep removes every room whose empty-since marker exceeds the
// threshold. RemoveIfIdle re-checks under the registry lock, so a join
// that lands between the snapshot and the removal wins.
func (rp *Reaper) sweep() {
	threshold := rp.registry.IdleTimeout()
	if threshold <= 0 {
		return
	}

	for _, code := range rp.registry.Codes() {
		if rp.registry.RemoveIfIdle(code, threshold) {
			metrics.RoomsReaped.Inc()
			logging.Info(context.Background(), "Room removed after idle timeout",
				zap.String("roomCode", string(code)),
			)
		}
	}
}
