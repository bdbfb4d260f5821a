package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Create-room budget per source IP.
const (
	createRoomRate  = rate.Limit(2)
	createRoomBurst = 5

	staleAfter    = 10 * time.Minute
	evictInterval = 5 * time.Minute
)

// IPBuckets applies a small per-IP token bucket to room creation, in
// front of the global limiter. Buckets are created lazily and evicted
// after ten minutes idle.
type IPBuckets struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	rate    rate.Limit
	burst   int
	stop    chan struct{}
	done    chan struct{}
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewIPBuckets creates the create-room bucket set and starts its
// background eviction loop.
func NewIPBuckets() *IPBuckets {
	return NewIPBucketsWithRate(createRoomRate, createRoomBurst)
}

// NewIPBucketsWithRate is NewIPBuckets with an explicit budget, for tests.
func NewIPBucketsWithRate(r rate.Limit, burst int) *IPBuckets {
	b := &IPBuckets{
		buckets: make(map[string]*ipBucket),
		rate:    r,
		burst:   burst,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.evictLoop()
	return b
}

// Stop terminates the eviction loop and waits for it to exit.
func (b *IPBuckets) Stop() {
	close(b.stop)
	<-b.done
}

// Allow consumes one token for the key, minting a fresh bucket on first
// sight.
func (b *IPBuckets) Allow(key string) bool {
	b.mu.Lock()
	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &ipBucket{lim: rate.NewLimiter(b.rate, b.burst)}
		b.buckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	b.mu.Unlock()

	return bucket.lim.Allow()
}

// Len returns the number of live buckets.
func (b *IPBuckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

func (b *IPBuckets) evictLoop() {
	defer close(b.done)

	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.evictStale(time.Now())
		case <-b.stop:
			return
		}
	}
}

func (b *IPBuckets) evictStale(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, bucket := range b.buckets {
		if now.Sub(bucket.lastSeen) > staleAfter {
			delete(b.buckets, key)
		}
	}
}

// SourceIP extracts the client identity for bucketing: the first
// X-Forwarded-For entry, then X-Real-IP, then "unknown". Requests that
// arrive with no proxy headers share one bucket rather than being
// exempt.
func SourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return "unknown"
}
