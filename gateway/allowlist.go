package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/metrics"
)

// ApproveCodehash adds code to the allowlist. Only the owner may call it and
// approving an already approved identity is a no-op.
func (g *Gateway) ApproveCodehash(ctx context.Context, caller interfaces.Identity, code string) (interfaces.CodeIdentity, error) {
	identity, err := g.ownerCodeIdentity(caller, code)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Approve(ctx, identity); err != nil {
		return "", fmt.Errorf("approving codehash: %w", err)
	}

	metrics.RecordAllowlistChange("approve")
	g.log.Info("Codehash approved", slog.String("codehash", identity.String()))
	return identity, nil
}

// RevokeCodehash removes code from the allowlist. Workers admitted with it
// keep their records but are refused at their next signing attempt.
func (g *Gateway) RevokeCodehash(ctx context.Context, caller interfaces.Identity, code string) (interfaces.CodeIdentity, error) {
	identity, err := g.ownerCodeIdentity(caller, code)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Revoke(ctx, identity); err != nil {
		return "", fmt.Errorf("revoking codehash: %w", err)
	}

	metrics.RecordAllowlistChange("revoke")
	g.log.Info("Codehash revoked", slog.String("codehash", identity.String()))
	return identity, nil
}

// IsApproved reports whether code is currently on the allowlist.
func (g *Gateway) IsApproved(ctx context.Context, code string) (bool, error) {
	identity, err := interfaces.NewCodeIdentity(code)
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	return g.store.IsApproved(ctx, identity)
}

// ListCodehashes returns every approved code identity.
func (g *Gateway) ListCodehashes(ctx context.Context) ([]interfaces.CodeIdentity, error) {
	return g.store.List(ctx)
}

func (g *Gateway) ownerCodeIdentity(caller interfaces.Identity, code string) (interfaces.CodeIdentity, error) {
	if caller != g.owner {
		return "", fmt.Errorf("%w: %s is not the owner", interfaces.ErrUnauthorized, caller)
	}
	identity, err := interfaces.NewCodeIdentity(code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	return identity, nil
}
