package attestation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-tdx-guest/verify/trust"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

const (
	// ArchivePrefix marks a collateral argument that names an archived bundle by content ID.
	ArchivePrefix = "archive:"

	// LivePCSReference asks for collateral to be fetched from the Intel PCS.
	LivePCSReference = "pcs"
)

var (
	// ErrResolverSkipped is returned by a resolver that does not handle the argument form.
	ErrResolverSkipped = errors.New("collateral form not handled by resolver")

	// ErrNoCollateral is returned when no resolver produced a bundle.
	ErrNoCollateral = errors.New("no collateral resolvable for request")
)

// InlineResolver parses collateral passed inline as JSON.
type InlineResolver struct{}

func (InlineResolver) Resolve(ctx context.Context, raw string) (interfaces.CollateralBundle, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, ErrResolverSkipped
	}
	return ParseCollateral([]byte(trimmed))
}

// ArchiveResolver loads collateral bundles previously stored in a content-addressed backend.
type ArchiveResolver struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

func NewArchiveResolver(backend interfaces.StorageBackend, log *slog.Logger) *ArchiveResolver {
	return &ArchiveResolver{backend: backend, log: log}
}

func (r *ArchiveResolver) Resolve(ctx context.Context, raw string) (interfaces.CollateralBundle, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, ArchivePrefix) {
		return nil, ErrResolverSkipped
	}

	id, err := interfaces.NewContentIDFromHex(strings.TrimPrefix(trimmed, ArchivePrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid collateral reference: %w", err)
	}

	data, err := r.backend.Fetch(ctx, id, interfaces.CollateralType)
	if err != nil {
		r.log.Warn("Failed to fetch archived collateral", "err", err, slog.String("contentID", id.String()))
		return nil, fmt.Errorf("fetching collateral %s: %w", id, err)
	}
	if !interfaces.ComputeID(data).Equal(id) {
		return nil, fmt.Errorf("archived collateral %s does not match its content id", id)
	}

	return ParseCollateral(data)
}

// PCSResolver fetches collateral live from the Intel PCS when asked to.
type PCSResolver struct {
	getter trust.HTTPSGetter
}

// NewPCSResolver returns a resolver using getter, or the default HTTPS getter when nil.
func NewPCSResolver(getter trust.HTTPSGetter) *PCSResolver {
	return &PCSResolver{getter: getter}
}

func (r *PCSResolver) Resolve(ctx context.Context, raw string) (interfaces.CollateralBundle, error) {
	if strings.TrimSpace(raw) != LivePCSReference {
		return nil, ErrResolverSkipped
	}
	return NewPCSCollateral(r.getter), nil
}

// ChainResolver tries each resolver in order until one handles the argument.
type ChainResolver []interfaces.CollateralResolver

func (c ChainResolver) Resolve(ctx context.Context, raw string) (interfaces.CollateralBundle, error) {
	for _, r := range c {
		bundle, err := r.Resolve(ctx, raw)
		if errors.Is(err, ErrResolverSkipped) {
			continue
		}
		return bundle, err
	}
	return nil, ErrNoCollateral
}
