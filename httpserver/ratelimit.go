package httpserver

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ruteri/tee-signing-gateway/interfaces"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterMaxEntries = 10_000
)

var errRateLimited = errors.New("rate limit exceeded")

type identityLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IdentityRateLimiter keeps a token bucket per caller identity.
type IdentityRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[interfaces.Identity]*identityLimiter
}

func NewIdentityRateLimiter(perSecond float64, burst int) *IdentityRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IdentityRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[interfaces.Identity]*identityLimiter),
	}
}

func (l *IdentityRateLimiter) Allow(caller interfaces.Identity) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, found := l.limiters[caller]
	if !found {
		if len(l.limiters) >= limiterMaxEntries {
			l.evictIdle(now)
		}
		entry = &identityLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[caller] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *IdentityRateLimiter) evictIdle(now time.Time) {
	for id, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, id)
		}
	}
}

// Middleware rejects requests of callers over their budget. It must run after
// RequireSignature.
func (l *IdentityRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		if !l.Allow(caller) {
			writeError(w, &RequestError{StatusCode: http.StatusTooManyRequests, Err: errRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}
