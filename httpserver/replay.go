package httpserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

const (
	// DefaultReplayWindow bounds how far issued_at may drift from the server clock.
	DefaultReplayWindow = 5 * time.Minute

	maxNonceLength = 128
)

var (
	errMissingNonce = errors.New("request nonce missing")
	errStaleRequest = errors.New("request issued_at outside the accepted window")
	errReplayed     = errors.New("request nonce already used")
)

type nonceKey struct {
	identity interfaces.Identity
	nonce    string
}

// ReplayGuard admits each signed request envelope at most once. A nonce is
// remembered until its issued_at leaves the window, after which the request
// is refused as stale anyway.
type ReplayGuard struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	seen      map[nonceKey]time.Time
	lastPrune time.Time
}

func NewReplayGuard(window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &ReplayGuard{
		window: window,
		now:    time.Now,
		seen:   make(map[nonceKey]time.Time),
	}
}

// Admit records the envelope's nonce for identity. It fails if the envelope
// is incomplete, stale, or its nonce was already admitted.
func (g *ReplayGuard) Admit(identity interfaces.Identity, env api.RequestEnvelope) error {
	if env.Nonce == "" {
		return errMissingNonce
	}
	if len(env.Nonce) > maxNonceLength {
		return fmt.Errorf("%w: nonce longer than %d bytes", errMissingNonce, maxNonceLength)
	}

	now := g.now()
	issuedAt := time.Unix(env.IssuedAt, 0)
	if env.IssuedAt <= 0 || issuedAt.Before(now.Add(-g.window)) || issuedAt.After(now.Add(g.window)) {
		return errStaleRequest
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastPrune) >= time.Second {
		for k, expires := range g.seen {
			if now.After(expires) {
				delete(g.seen, k)
			}
		}
		g.lastPrune = now
	}

	key := nonceKey{identity: identity, nonce: env.Nonce}
	if _, found := g.seen[key]; found {
		return errReplayed
	}
	g.seen[key] = issuedAt.Add(g.window)
	return nil
}

// Release forgets an admitted nonce so the same request may be retried.
func (g *ReplayGuard) Release(identity interfaces.Identity, nonce string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, nonceKey{identity: identity, nonce: nonce})
}
