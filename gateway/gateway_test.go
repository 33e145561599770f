package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/attestation/attestationtest"
	"github.com/ruteri/tee-signing-gateway/gateway"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	ownerID  = mustIdentity("0x00000000000000000000000000000000000000aa")
	workerW  = mustIdentity("0x1111111111111111111111111111111111111111")
	callerU  = mustIdentity("0x2222222222222222222222222222222222222222")
	abc123   = []byte{0xab, 0xc1, 0x23}
	someHex  = "0x0400020081000000"
	inlineCC = `{"tcb_info":"{}"}`
)

func mustIdentity(s string) interfaces.Identity {
	id, err := interfaces.NewIdentityFromHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSigner struct {
	submitted chan *interfaces.SignatureRequest
}

func newRecordingSigner() *recordingSigner {
	return &recordingSigner{submitted: make(chan *interfaces.SignatureRequest, 16)}
}

func (s *recordingSigner) Submit(ctx context.Context, req *interfaces.SignatureRequest) error {
	s.submitted <- req
	return nil
}

func (s *recordingSigner) next(t *testing.T) *interfaces.SignatureRequest {
	t.Helper()
	select {
	case req := <-s.submitted:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("signature request was not delivered")
		return nil
	}
}

type harness struct {
	gw       *gateway.Gateway
	store    *registry.MemoryStore
	signer   *recordingSigner
	outbox   *gateway.Outbox
	verifier *attestationtest.StaticVerifier
	resolver *attestationtest.StaticResolver
	fixture  *attestationtest.Fixture
}

func newHarness(t *testing.T, mutate ...func(*gateway.Config)) *harness {
	t.Helper()

	h := &harness{
		store:   registry.NewMemoryStore(),
		signer:  newRecordingSigner(),
		fixture: attestationtest.NewFixture(abc123, ""),
	}
	h.verifier = &attestationtest.StaticVerifier{Report: h.fixture.Report(workerW)}
	h.resolver = &attestationtest.StaticResolver{Bundle: &attestation.Collateral{}}
	h.outbox = gateway.NewOutbox(h.signer, 8, time.Second, discardLogger())
	h.outbox.Start()
	t.Cleanup(func() { _ = h.outbox.Stop(context.Background()) })

	cfg := gateway.Config{
		Owner:     ownerID,
		Store:     h.store,
		Verifier:  h.verifier,
		Resolver:  h.resolver,
		Delegator: h.outbox,
		Log:       discardLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	gw, err := gateway.New(cfg)
	require.NoError(t, err)
	h.gw = gw
	return h
}

func (h *harness) register(caller interfaces.Identity, checksum string) (bool, error) {
	return h.gw.RegisterWorker(context.Background(), caller, gateway.RegisterRequest{
		QuoteHex:   someHex,
		Collateral: inlineCC,
		Checksum:   checksum,
		TcbInfo:    string(h.fixture.TcbInfo),
	})
}

func TestScenario_ApprovedWorkerSigns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	code, err := h.gw.ApproveCodehash(ctx, ownerID, "abc123")
	require.NoError(t, err)
	require.Equal(t, interfaces.CodeIdentity("abc123"), code)

	ok, err := h.register(workerW, "build-1")
	require.NoError(t, err)
	require.True(t, ok)

	worker, err := h.gw.GetWorker(ctx, workerW)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Worker{Checksum: "build-1", Codehash: "abc123"}, *worker)

	payload := []byte("transfer 1 unit")
	handle, err := h.gw.Sign(ctx, workerW, interfaces.SignRequest{Payload: payload, DerivationPath: "m/0", KeyVersion: 0})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, workerW, handle.Caller)

	delivered := h.signer.next(t)
	assert.Equal(t, handle.ID, delivered.RequestID)
	assert.Equal(t, workerW, delivered.Caller)
	assert.Equal(t, payload, delivered.Payload)
	assert.Equal(t, "m/0", delivered.DerivationPath)
	assert.Equal(t, uint32(0), delivered.KeyVersion)
	assert.Equal(t, gateway.DefaultExecutionBudget, delivered.ExecutionBudget)
	assert.Equal(t, gateway.MinimalFee, delivered.Fee)

	_, err = h.gw.Sign(ctx, callerU, interfaces.SignRequest{Payload: payload, DerivationPath: "m/0", KeyVersion: 0})
	require.ErrorIs(t, err, interfaces.ErrWorkerNotRegistered)
}

func TestScenario_UnapprovedCodeIdentity(t *testing.T) {
	h := newHarness(t, func(cfg *gateway.Config) {
		cfg.ExtractCodeIdentity = func(*interfaces.VerifiedReport, []byte, string) (interfaces.CodeIdentity, error) {
			return "zzz999", nil
		}
	})
	_, err := h.gw.ApproveCodehash(context.Background(), ownerID, "abc123")
	require.NoError(t, err)

	ok, err := h.register(workerW, "build-1")
	require.ErrorIs(t, err, interfaces.ErrCodeNotApproved)
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.WorkerCount())

	_, err = h.gw.GetWorker(context.Background(), workerW)
	assert.ErrorIs(t, err, interfaces.ErrWorkerNotFound)
}

func TestRegisterWorker_MalformedEvidence(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.ApproveCodehash(context.Background(), ownerID, "abc123")
	require.NoError(t, err)

	for _, quote := range []string{"", "0x", "not-hex", "abc", "12 34", "0xzz"} {
		t.Run(quote, func(t *testing.T) {
			ok, err := h.gw.RegisterWorker(context.Background(), workerW, gateway.RegisterRequest{
				QuoteHex:   quote,
				Collateral: inlineCC,
				TcbInfo:    string(h.fixture.TcbInfo),
			})
			require.ErrorIs(t, err, interfaces.ErrMalformedEvidence)
			assert.False(t, ok)
			assert.Equal(t, 0, h.store.WorkerCount())
		})
	}
}

func TestRegisterWorker_IdentityBinding(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.ApproveCodehash(context.Background(), ownerID, "abc123")
	require.NoError(t, err)

	// The evidence is valid and approved, but was generated for W.
	ok, err := h.register(callerU, "build-1")
	require.ErrorIs(t, err, interfaces.ErrIdentityBindingFailed)
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.WorkerCount())
}

func TestRegisterWorker_MonotonicAllowlist(t *testing.T) {
	h := newHarness(t)

	_, err := h.register(workerW, "build-1")
	require.ErrorIs(t, err, interfaces.ErrCodeNotApproved)

	_, err = h.gw.ApproveCodehash(context.Background(), ownerID, "abc123")
	require.NoError(t, err)

	ok, err := h.register(workerW, "build-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterWorker_Overwrites(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.ApproveCodehash(context.Background(), ownerID, "abc123")
	require.NoError(t, err)

	_, err = h.register(workerW, "build-1")
	require.NoError(t, err)
	_, err = h.register(workerW, "build-2")
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.WorkerCount())
	worker, err := h.gw.GetWorker(context.Background(), workerW)
	require.NoError(t, err)
	assert.Equal(t, "build-2", worker.Checksum)
}

func TestRegisterWorker_AttestationRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("verifier failure", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.Err = interfaces.RejectAttestation(interfaces.StageQuoteVerification, errors.New("bad signature chain"))

		_, err := h.register(workerW, "build-1")
		require.ErrorIs(t, err, interfaces.ErrAttestationRejected)
	})

	t.Run("unresolvable collateral", func(t *testing.T) {
		h := newHarness(t)
		h.resolver.Err = attestation.ErrNoCollateral

		_, err := h.register(workerW, "build-1")
		var attErr *interfaces.AttestationError
		require.ErrorAs(t, err, &attErr)
		assert.Equal(t, interfaces.StageCollateral, attErr.Stage)
		assert.ErrorIs(t, err, attestation.ErrNoCollateral)
	})

	t.Run("unsupported report variant", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.Report = &interfaces.VerifiedReport{Variant: interfaces.VariantSGXEnclave}

		_, err := h.register(workerW, "build-1")
		var attErr *interfaces.AttestationError
		require.ErrorAs(t, err, &attErr)
		assert.Equal(t, interfaces.StageReportVariant, attErr.Stage)
	})

	t.Run("time is truncated to whole seconds", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 12, 0, 5, 987_000_000, time.UTC)
		verifier := &mockVerifier{}
		verifier.On("Verify", mock.Anything, mock.Anything, mock.Anything, now.Truncate(time.Second)).
			Return(nil, interfaces.RejectAttestation(interfaces.StageQuoteVerification, errors.New("expired")))

		h := newHarness(t, func(cfg *gateway.Config) {
			cfg.Verifier = verifier
			cfg.Now = func() time.Time { return now }
		})
		_, err := h.gw.RegisterWorker(ctx, workerW, gateway.RegisterRequest{QuoteHex: someHex, Collateral: inlineCC})
		require.ErrorIs(t, err, interfaces.ErrAttestationRejected)
		verifier.AssertExpectations(t)
	})
}

func TestRegisterWorker_CodeIdentityUnresolvable(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.ApproveCodehash(context.Background(), ownerID, "abc123")
	require.NoError(t, err)

	other := attestationtest.NewFixture([]byte{0xde, 0xad}, "")
	ok, err := h.gw.RegisterWorker(context.Background(), workerW, gateway.RegisterRequest{
		QuoteHex:   someHex,
		Collateral: inlineCC,
		TcbInfo:    string(other.TcbInfo),
	})
	require.ErrorIs(t, err, interfaces.ErrCodeIdentityUnresolvable)
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.WorkerCount())
}

func TestSign_RevokedCodehashBlockedAtNextUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := interfaces.SignRequest{Payload: []byte{1}, DerivationPath: "m/1", KeyVersion: 2}

	_, err := h.gw.ApproveCodehash(ctx, ownerID, "abc123")
	require.NoError(t, err)
	_, err = h.register(workerW, "build-1")
	require.NoError(t, err)

	_, err = h.gw.RevokeCodehash(ctx, ownerID, "abc123")
	require.NoError(t, err)

	_, err = h.gw.Sign(ctx, workerW, req)
	require.ErrorIs(t, err, interfaces.ErrCodeNoLongerApproved)

	// The record is kept so re-approval restores access.
	_, err = h.gw.GetWorker(ctx, workerW)
	require.NoError(t, err)

	_, err = h.gw.ApproveCodehash(ctx, ownerID, "abc123")
	require.NoError(t, err)
	_, err = h.gw.Sign(ctx, workerW, req)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.signer.next(t).KeyVersion)
}

func TestAllowlist_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.gw.ApproveCodehash(ctx, callerU, "abc123")
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)
	_, err = h.gw.RevokeCodehash(ctx, workerW, "abc123")
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)

	approved, err := h.gw.IsApproved(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, approved)

	_, err = h.gw.ApproveCodehash(ctx, ownerID, "0xABC123")
	require.NoError(t, err)
	_, err = h.gw.ApproveCodehash(ctx, ownerID, "abc123")
	require.NoError(t, err)

	list, err := h.gw.ListCodehashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.CodeIdentity{"abc123"}, list)

	_, err = h.gw.ApproveCodehash(ctx, ownerID, "  ")
	require.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}

func TestSign_DelegationUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.gw.ApproveCodehash(ctx, ownerID, "abc123")
	require.NoError(t, err)
	_, err = h.register(workerW, "build-1")
	require.NoError(t, err)

	require.NoError(t, h.outbox.Stop(ctx))

	_, err = h.gw.Sign(ctx, workerW, interfaces.SignRequest{Payload: []byte{1}, DerivationPath: "m/0"})
	require.ErrorIs(t, err, interfaces.ErrDelegationUnavailable)
	assert.Equal(t, uint64(1), h.outbox.Dropped())
}

func TestGateway_StoreFailures(t *testing.T) {
	ctx := context.Background()
	storeErr := errors.New("database is locked")

	t.Run("allowlist read fails during admission", func(t *testing.T) {
		store := &registry.MockTrustStore{}
		store.On("IsApproved", mock.Anything, interfaces.CodeIdentity("abc123")).Return(false, storeErr)

		h := newHarness(t, func(cfg *gateway.Config) { cfg.Store = store })
		ok, err := h.register(workerW, "build-1")
		require.ErrorIs(t, err, storeErr)
		assert.False(t, ok)

		store.AssertExpectations(t)
		store.AssertNotCalled(t, "PutWorker", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("worker lookup fails during signing", func(t *testing.T) {
		store := &registry.MockTrustStore{}
		store.On("GetWorker", mock.Anything, workerW).Return(nil, storeErr)

		h := newHarness(t, func(cfg *gateway.Config) { cfg.Store = store })
		_, err := h.gw.Sign(ctx, workerW, interfaces.SignRequest{})
		require.ErrorIs(t, err, storeErr)
		assert.NotErrorIs(t, err, interfaces.ErrWorkerNotRegistered)
	})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := gateway.New(gateway.Config{Owner: ownerID})
	assert.Error(t, err)

	_, err = gateway.New(gateway.Config{})
	assert.Error(t, err)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, quote []byte, collateral interfaces.CollateralBundle, now time.Time) (*interfaces.VerifiedReport, error) {
	args := m.Called(ctx, quote, collateral, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.VerifiedReport), args.Error(1)
}
