package interfaces

import (
	"context"
	"time"
)

// WorkerRegistry persists the worker record for each admitted identity.
type WorkerRegistry interface {
	// GetWorker returns the record for identity, or ErrWorkerNotFound.
	GetWorker(ctx context.Context, identity Identity) (*Worker, error)

	// PutWorker stores the record for identity, replacing any previous one.
	PutWorker(ctx context.Context, identity Identity, worker Worker) error
}

// CodehashAllowlist is the owner-controlled set of approved code identities.
type CodehashAllowlist interface {
	// Approve inserts code. Approving an already approved identity is a no-op.
	Approve(ctx context.Context, code CodeIdentity) error

	// Revoke removes code. Revoking an unknown identity is a no-op.
	Revoke(ctx context.Context, code CodeIdentity) error

	// IsApproved reports whether code is currently approved.
	IsApproved(ctx context.Context, code CodeIdentity) (bool, error)

	// List returns the approved identities in lexical order.
	List(ctx context.Context) ([]CodeIdentity, error)
}

// TrustStore bundles both persistent collections.
type TrustStore interface {
	WorkerRegistry
	CodehashAllowlist
}

// QuoteVerifier checks a binary quote against collateral at a trusted time.
type QuoteVerifier interface {
	Verify(ctx context.Context, quote []byte, collateral CollateralBundle, now time.Time) (*VerifiedReport, error)
}

// CollateralBundle is the platform collateral needed to verify a quote.
// Implementations serve the PCS documents the verifier asks for.
type CollateralBundle interface {
	// PCSDocument returns the headers and body the PCS would answer for url.
	PCSDocument(url string) (map[string][]string, []byte, error)
}

// CollateralResolver turns the caller-supplied collateral argument into a bundle.
type CollateralResolver interface {
	Resolve(ctx context.Context, raw string) (CollateralBundle, error)
}

// ThresholdSigner is the external signing service the gateway delegates to.
type ThresholdSigner interface {
	// Submit hands req to the signing service. No result is returned to the gateway.
	Submit(ctx context.Context, req *SignatureRequest) error
}
