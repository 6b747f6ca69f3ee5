package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// senderLimiter is the upstream rate gate, evaluated before the session is
// even loaded. One token bucket per sender.
type senderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSenderLimiter(perMinute, burst int) *senderLimiter {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = 5
	}
	return &senderLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// allow reports whether the sender may be processed right now.
func (l *senderLimiter) allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[senderID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[senderID] = entry
	}
	entry.lastSeen = time.Now()

	if len(l.limiters) > 10000 {
		l.pruneLocked()
	}
	return entry.limiter.Allow()
}

// pruneLocked drops buckets idle for an hour. Caller holds mu.
func (l *senderLimiter) pruneLocked() {
	cutoff := time.Now().Add(-time.Hour)
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}
