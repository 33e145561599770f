package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/metrics"
)

// RegisterRequest carries the evidence a worker presents at admission.
type RegisterRequest struct {
	QuoteHex string
	// Collateral is resolved by the configured CollateralResolver.
	Collateral string
	Checksum   string
	TcbInfo    string
}

// RegisterWorker admits caller when its evidence verifies, is bound to
// caller, and resolves to an approved code identity. On success the worker
// record for caller is replaced.
func (g *Gateway) RegisterWorker(ctx context.Context, caller interfaces.Identity, req RegisterRequest) (bool, error) {
	log := g.log.With(slog.String("caller", caller.String()))

	code, err := g.admit(ctx, caller, req)
	if err != nil {
		metrics.RecordAdmission(admissionOutcome(err))
		log.Info("Worker admission refused", "err", err)
		return false, err
	}

	metrics.RecordAdmission("registered")
	log.Info("Worker registered", slog.String("codehash", code.String()), slog.String("checksum", req.Checksum))
	return true, nil
}

func (g *Gateway) admit(ctx context.Context, caller interfaces.Identity, req RegisterRequest) (interfaces.CodeIdentity, error) {
	quote, err := attestation.DecodeQuote(req.QuoteHex)
	if err != nil {
		return "", err
	}

	collateral, err := g.resolver.Resolve(ctx, req.Collateral)
	if err != nil {
		return "", interfaces.RejectAttestation(interfaces.StageCollateral, err)
	}

	report, err := g.verifier.Verify(ctx, quote, collateral, g.now().Truncate(time.Second))
	if err != nil {
		if !errors.Is(err, interfaces.ErrAttestationRejected) {
			err = interfaces.RejectAttestation(interfaces.StageQuoteVerification, err)
		}
		return "", err
	}

	td, ok := report.AsTD10()
	if !ok {
		return "", interfaces.RejectAttestation(interfaces.StageReportVariant, fmt.Errorf("expected a %s report, got %s", interfaces.VariantTD10, report.Variant))
	}

	if err := attestation.CheckCallerBinding(report, caller); err != nil {
		return "", err
	}

	code, err := g.extract(report, []byte(req.TcbInfo), td.RTMR3Hex())
	if err != nil {
		if !errors.Is(err, interfaces.ErrCodeIdentityUnresolvable) {
			err = fmt.Errorf("%w: %v", interfaces.ErrCodeIdentityUnresolvable, err)
		}
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	approved, err := g.store.IsApproved(ctx, code)
	if err != nil {
		return "", fmt.Errorf("checking allowlist: %w", err)
	}
	if !approved {
		return "", fmt.Errorf("%w: %s", interfaces.ErrCodeNotApproved, code)
	}

	if err := g.store.PutWorker(ctx, caller, interfaces.Worker{Checksum: req.Checksum, Codehash: code}); err != nil {
		return "", fmt.Errorf("storing worker: %w", err)
	}
	return code, nil
}

func admissionOutcome(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrMalformedEvidence):
		return "malformed_evidence"
	case errors.Is(err, interfaces.ErrAttestationRejected):
		return "attestation_rejected"
	case errors.Is(err, interfaces.ErrIdentityBindingFailed):
		return "identity_binding_failed"
	case errors.Is(err, interfaces.ErrCodeIdentityUnresolvable):
		return "code_identity_unresolvable"
	case errors.Is(err, interfaces.ErrCodeNotApproved):
		return "code_not_approved"
	default:
		return "error"
	}
}
