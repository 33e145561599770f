package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

const (
	// DefaultExecutionBudget bounds the work the signing service may spend on one request.
	DefaultExecutionBudget uint64 = 250_000_000_000_000

	// MinimalFee is the value attached to every delegated signature request.
	MinimalFee uint64 = 1
)

// CodeIdentityExtractor derives the code identity of a verified report from
// the caller-supplied TCB-info document.
type CodeIdentityExtractor func(report *interfaces.VerifiedReport, tcbInfo []byte, rtmr3Hex string) (interfaces.CodeIdentity, error)

// Delegator accepts signature requests for asynchronous delivery.
type Delegator interface {
	// Enqueue returns false when the request could not be accepted.
	Enqueue(req *interfaces.SignatureRequest) bool
}

// Config wires a Gateway to its collaborators.
type Config struct {
	// Owner is the only identity allowed to change the allowlist.
	Owner interfaces.Identity

	Store     interfaces.TrustStore
	Verifier  interfaces.QuoteVerifier
	Resolver  interfaces.CollateralResolver
	Delegator Delegator

	// ExtractCodeIdentity defaults to attestation.ExtractCodeIdentity.
	ExtractCodeIdentity CodeIdentityExtractor

	// Now defaults to time.Now.
	Now func() time.Time

	ExecutionBudget uint64
	Fee             uint64

	Log *slog.Logger
}

// Gateway admits attested workers and gates their access to the threshold signer.
type Gateway struct {
	owner     interfaces.Identity
	store     interfaces.TrustStore
	verifier  interfaces.QuoteVerifier
	resolver  interfaces.CollateralResolver
	delegator Delegator
	extract   CodeIdentityExtractor
	now       func() time.Time
	budget    uint64
	fee       uint64
	log       *slog.Logger

	// mu serializes every read-then-write of the trust state.
	mu sync.Mutex
}

// New validates cfg and fills in its defaults.
func New(cfg Config) (*Gateway, error) {
	if cfg.Owner == "" {
		return nil, errors.New("gateway owner is required")
	}
	if cfg.Store == nil || cfg.Verifier == nil || cfg.Resolver == nil || cfg.Delegator == nil {
		return nil, errors.New("gateway requires a store, verifier, collateral resolver and delegator")
	}

	g := &Gateway{
		owner:     cfg.Owner,
		store:     cfg.Store,
		verifier:  cfg.Verifier,
		resolver:  cfg.Resolver,
		delegator: cfg.Delegator,
		extract:   cfg.ExtractCodeIdentity,
		now:       cfg.Now,
		budget:    cfg.ExecutionBudget,
		fee:       cfg.Fee,
		log:       cfg.Log,
	}
	if g.extract == nil {
		g.extract = attestation.ExtractCodeIdentity
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.budget == 0 {
		g.budget = DefaultExecutionBudget
	}
	if g.fee == 0 {
		g.fee = MinimalFee
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g, nil
}

// Owner returns the identity allowed to manage the allowlist.
func (g *Gateway) Owner() interfaces.Identity {
	return g.owner
}
