package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/auth"
)

// bucketIdle is how long an untouched bucket is kept before it is pruned.
const bucketIdle = time.Minute

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// rateLimiter hands each user rate tokens per second.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      int
	every     time.Duration
	now       func() time.Time
	lastPrune time.Time
}

func newRateLimiter(rate int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		every:   time.Second,
		now:     time.Now,
	}
}

func (l *rateLimiter) allow(userID string) bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{tokens: l.rate, lastRefill: now}
		l.buckets[userID] = b
	}
	if now.Sub(b.lastRefill) >= l.every {
		b.tokens = l.rate
		b.lastRefill = now
	}
	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// prune drops idle buckets, at most once per bucketIdle. Callers hold mu.
func (l *rateLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < bucketIdle {
		return
	}
	l.lastPrune = now
	for id, b := range l.buckets {
		if now.Sub(b.lastRefill) >= bucketIdle {
			delete(l.buckets, id)
		}
	}
}

// withLimit throttles authenticated callers. Anonymous requests pass
// through so the handler can answer them with 401.
func (s *Server) withLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFrom(r.Context())
		if id.Authenticated && !s.limiter.allow(id.UserID) {
			writeJSON(w, apperr.Envelope{
				Message: "Too many uploads, slow down.",
				Status:  http.StatusTooManyRequests,
			}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
