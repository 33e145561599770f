package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/metrics"
)

// Sign hands req to the threshold signer on behalf of caller and returns as
// soon as the request is accepted for delivery. caller must hold a worker
// record whose codehash is still approved.
func (g *Gateway) Sign(ctx context.Context, caller interfaces.Identity, req interfaces.SignRequest) (*interfaces.PendingHandle, error) {
	handle, err := g.authorizeAndDelegate(ctx, caller, req)
	if err != nil {
		metrics.RecordSign(signOutcome(err))
		g.log.Info("Signing request refused", slog.String("caller", caller.String()), "err", err)
		return nil, err
	}

	metrics.RecordSign("accepted")
	g.log.Debug("Signing request delegated",
		slog.String("caller", caller.String()),
		slog.String("request_id", handle.ID),
		slog.String("path", req.DerivationPath),
		slog.Uint64("key_version", uint64(req.KeyVersion)))
	return handle, nil
}

func (g *Gateway) authorizeAndDelegate(ctx context.Context, caller interfaces.Identity, req interfaces.SignRequest) (*interfaces.PendingHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	worker, err := g.store.GetWorker(ctx, caller)
	if errors.Is(err, interfaces.ErrWorkerNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrWorkerNotRegistered, caller)
	} else if err != nil {
		return nil, fmt.Errorf("looking up worker: %w", err)
	}

	approved, err := g.store.IsApproved(ctx, worker.Codehash)
	if err != nil {
		return nil, fmt.Errorf("checking allowlist: %w", err)
	}
	if !approved {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrCodeNoLongerApproved, worker.Codehash)
	}

	sigReq := &interfaces.SignatureRequest{
		RequestID:       uuid.NewString(),
		Caller:          caller,
		Payload:         req.Payload,
		DerivationPath:  req.DerivationPath,
		KeyVersion:      req.KeyVersion,
		ExecutionBudget: g.budget,
		Fee:             g.fee,
	}
	if !g.delegator.Enqueue(sigReq) {
		return nil, interfaces.ErrDelegationUnavailable
	}

	return &interfaces.PendingHandle{
		ID:         sigReq.RequestID,
		Caller:     caller,
		AcceptedAt: g.now().UTC(),
	}, nil
}

// GetWorker returns the record kept for identity.
func (g *Gateway) GetWorker(ctx context.Context, identity interfaces.Identity) (*interfaces.Worker, error) {
	return g.store.GetWorker(ctx, identity)
}

func signOutcome(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrWorkerNotRegistered):
		return "worker_not_registered"
	case errors.Is(err, interfaces.ErrCodeNoLongerApproved):
		return "code_no_longer_approved"
	case errors.Is(err, interfaces.ErrDelegationUnavailable):
		return "delegation_unavailable"
	default:
		return "error"
	}
}
