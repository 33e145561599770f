package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvidence is returned when attestation evidence cannot be decoded.
	ErrMalformedEvidence = errors.New("malformed evidence")

	// ErrAttestationRejected is returned when a quote fails cryptographic or freshness checks.
	ErrAttestationRejected = errors.New("attestation rejected")

	// ErrIdentityBindingFailed is returned when report data does not name the caller.
	ErrIdentityBindingFailed = errors.New("identity binding failed")

	// ErrCodeIdentityUnresolvable is returned when the TCB-info document is
	// inconsistent with the verified measurement register.
	ErrCodeIdentityUnresolvable = errors.New("code identity unresolvable")

	// ErrCodeNotApproved is returned at admission for a code identity outside the allowlist.
	ErrCodeNotApproved = errors.New("code not approved")

	// ErrCodeNoLongerApproved is returned at signing time when a worker's code identity was revoked.
	ErrCodeNoLongerApproved = errors.New("code no longer approved")

	// ErrWorkerNotRegistered is returned when a caller without a worker record asks for a signature.
	ErrWorkerNotRegistered = errors.New("worker not registered")

	// ErrUnauthorized is returned when a non-owner calls an owner-only operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrDelegationUnavailable is returned when a signature request cannot be accepted for delegation.
	ErrDelegationUnavailable = errors.New("signing delegation unavailable")

	// ErrWorkerNotFound is returned by registry lookups for unknown identities.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrInvalidArgument is returned for request fields that fail basic validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Verification stages reported by AttestationError.
const (
	StageParse              = "parse"
	StageUnsupportedVariant = "unsupported_variant"
	StageCollateral         = "collateral"
	StageQuoteVerification  = "quote_verification"
	StageReportVariant      = "report_variant"
)

// AttestationError reports the verification stage at which a quote was rejected.
// It matches ErrAttestationRejected with errors.Is.
type AttestationError struct {
	Stage string
	Err   error
}

func (e *AttestationError) Error() string {
	return fmt.Sprintf("%s at %s: %v", ErrAttestationRejected, e.Stage, e.Err)
}

func (e *AttestationError) Unwrap() []error {
	return []error{ErrAttestationRejected, e.Err}
}

// RejectAttestation wraps err as an AttestationError for the given stage.
func RejectAttestation(stage string, err error) error {
	return &AttestationError{Stage: stage, Err: err}
}
