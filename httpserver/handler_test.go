package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flashbots/go-utils/signature"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/api/clients"
	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/attestation/attestationtest"
	"github.com/ruteri/tee-signing-gateway/gateway"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/kms"
	"github.com/ruteri/tee-signing-gateway/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type queueDelegator struct {
	requests chan *interfaces.SignatureRequest
}

func (d *queueDelegator) Enqueue(req *interfaces.SignatureRequest) bool {
	select {
	case d.requests <- req:
		return true
	default:
		return false
	}
}

type apiFixture struct {
	srv       *httptest.Server
	ownerKey  *signature.Signer
	owner     *clients.GatewayClient
	worker    *clients.GatewayClient
	delegator *queueDelegator
	fixture   *attestationtest.Fixture
}

func newAPIFixture(t *testing.T, limiter *IdentityRateLimiter) *apiFixture {
	t.Helper()

	ownerKey, err := signature.NewRandomSigner()
	require.NoError(t, err)
	workerKey, err := signature.NewRandomSigner()
	require.NoError(t, err)

	f := &apiFixture{
		ownerKey:  ownerKey,
		delegator: &queueDelegator{requests: make(chan *interfaces.SignatureRequest, 1)},
		fixture:   attestationtest.NewFixture([]byte{0xab, 0xc1, 0x23}, ""),
	}
	workerID := interfaces.IdentityFromAddress(workerKey.Address())

	gw, err := gateway.New(gateway.Config{
		Owner:     interfaces.IdentityFromAddress(ownerKey.Address()),
		Store:     registry.NewMemoryStore(),
		Verifier:  &attestationtest.StaticVerifier{Report: f.fixture.Report(workerID)},
		Resolver:  &attestationtest.StaticResolver{Bundle: &attestation.Collateral{}},
		Delegator: f.delegator,
		Log:       testLogger(),
	})
	require.NoError(t, err)

	mux := chi.NewRouter()
	NewHandler(gw, 0, limiter, testLogger()).RegisterRoutes(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	f.owner = clients.NewGatewayClient(f.srv.URL, ownerKey)
	f.worker = clients.NewGatewayClient(f.srv.URL, workerKey)
	return f
}

func (f *apiFixture) registerRequest() *api.RegisterWorkerRequest {
	return &api.RegisterWorkerRequest{
		QuoteHex:   "0x0400020081000000",
		Collateral: `{"tcb_info":"{}"}`,
		Checksum:   "build-1",
		TcbInfo:    string(f.fixture.TcbInfo),
	}
}

func requireStatus(t *testing.T, err error, status int) *clients.APIError {
	t.Helper()
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, status, apiErr.StatusCode, apiErr.Message)
	return apiErr
}

func TestAPI_ApprovedWorkerSigns(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	resp, err := f.owner.ApproveCodehash(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, resp.Approved)

	registered, err := f.worker.RegisterWorker(ctx, f.registerRequest())
	require.NoError(t, err)
	assert.True(t, registered)

	worker, err := f.owner.GetWorker(ctx, f.worker.Identity())
	require.NoError(t, err)
	assert.Equal(t, "build-1", worker.Checksum)
	assert.Equal(t, interfaces.CodeIdentity("abc123"), worker.Codehash)

	handle, err := f.worker.Sign(ctx, &api.SignRequest{Payload: []byte("payload"), Path: "m/0"})
	require.NoError(t, err)
	assert.Equal(t, f.worker.Identity(), handle.Caller)

	delivered := <-f.delegator.requests
	assert.Equal(t, handle.ID, delivered.RequestID)
	assert.Equal(t, []byte("payload"), delivered.Payload)
	assert.Equal(t, uint64(gateway.DefaultExecutionBudget), delivered.ExecutionBudget)
}

func TestAPI_UnapprovedCodeRefused(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	_, err := f.worker.RegisterWorker(ctx, f.registerRequest())
	requireStatus(t, err, http.StatusForbidden)

	_, err = f.worker.GetWorker(ctx, f.worker.Identity())
	requireStatus(t, err, http.StatusNotFound)

	_, err = f.worker.Sign(ctx, &api.SignRequest{Payload: []byte("payload")})
	requireStatus(t, err, http.StatusForbidden)
}

func TestAPI_RevokedCodeBlocksSigning(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	_, err := f.owner.ApproveCodehash(ctx, "abc123")
	require.NoError(t, err)
	_, err = f.worker.RegisterWorker(ctx, f.registerRequest())
	require.NoError(t, err)

	resp, err := f.owner.RevokeCodehash(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, resp.Approved)

	_, err = f.worker.Sign(ctx, &api.SignRequest{Payload: []byte("payload")})
	apiErr := requireStatus(t, err, http.StatusForbidden)
	assert.Contains(t, apiErr.Message, interfaces.ErrCodeNoLongerApproved.Error())

	approved, err := f.owner.IsApproved(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestAPI_OnlyOwnerManagesAllowlist(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	_, err := f.worker.ApproveCodehash(ctx, "abc123")
	requireStatus(t, err, http.StatusForbidden)

	list, err := f.owner.ListCodehashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	owner, err := f.worker.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.owner.Identity(), owner)
}

func TestAPI_MalformedQuote(t *testing.T) {
	f := newAPIFixture(t, nil)
	req := f.registerRequest()
	req.QuoteHex = "not-hex"

	_, err := f.worker.RegisterWorker(context.Background(), req)
	requireStatus(t, err, http.StatusBadRequest)
}

func TestAPI_RejectsUnsignedRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/api/v1/codehashes/approve", "application/json", bytes.NewReader([]byte(`{"codehash":"abc123"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_SignRateLimit(t *testing.T) {
	f := newAPIFixture(t, NewIdentityRateLimiter(0.001, 1))
	ctx := context.Background()

	_, err := f.owner.ApproveCodehash(ctx, "abc123")
	require.NoError(t, err)
	_, err = f.worker.RegisterWorker(ctx, f.registerRequest())
	require.NoError(t, err)

	_, err = f.worker.Sign(ctx, &api.SignRequest{Payload: []byte("one")})
	require.NoError(t, err)

	_, err = f.worker.Sign(ctx, &api.SignRequest{Payload: []byte("two")})
	requireStatus(t, err, http.StatusTooManyRequests)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{interfaces.ErrMalformedEvidence, http.StatusBadRequest},
		{interfaces.RejectAttestation(interfaces.StageCollateral, errors.New("stale")), http.StatusUnprocessableEntity},
		{interfaces.ErrCodeIdentityUnresolvable, http.StatusUnprocessableEntity},
		{interfaces.ErrIdentityBindingFailed, http.StatusForbidden},
		{interfaces.ErrWorkerNotRegistered, http.StatusForbidden},
		{interfaces.ErrUnauthorized, http.StatusForbidden},
		{interfaces.ErrWorkerNotFound, http.StatusNotFound},
		{fmt.Errorf("queue full: %w", interfaces.ErrDelegationUnavailable), http.StatusServiceUnavailable},
		{&RequestError{StatusCode: http.StatusTeapot, Err: errors.New("x")}, http.StatusTeapot},
		{errors.New("database is down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}

func TestWriteError_IncludesStage(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, interfaces.RejectAttestation(interfaces.StageQuoteVerification, errors.New("bad signature")))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"stage":"quote_verification"`)
}

func TestSignerHandler_DeliversThroughClient(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, kms.MinSeedLength)
	local, err := kms.NewLocalSigner(seed, testLogger())
	require.NoError(t, err)

	gatewayKey, err := signature.NewRandomSigner()
	require.NoError(t, err)
	strangerKey, err := signature.NewRandomSigner()
	require.NoError(t, err)

	mux := chi.NewRouter()
	NewSignerHandler(local, []interfaces.Identity{interfaces.IdentityFromAddress(gatewayKey.Address())}, 0, testLogger()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := &interfaces.SignatureRequest{
		RequestID:       "req-1",
		Caller:          "0x1111111111111111111111111111111111111111",
		Payload:         []byte("payload"),
		DerivationPath:  "m/0",
		ExecutionBudget: gateway.DefaultExecutionBudget,
		Fee:             gateway.MinimalFee,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stranger, err := clients.NewSignerClient(srv.URL, 0, strangerKey, testLogger())
	require.NoError(t, err)
	require.Error(t, stranger.Submit(ctx, req))

	client, err := clients.NewSignerClient(srv.URL, 0, gatewayKey, testLogger())
	require.NoError(t, err)
	require.NoError(t, client.Submit(ctx, req))

	gatewayID := interfaces.IdentityFromAddress(gatewayKey.Address())
	sig, found := local.Result("req-1")
	require.True(t, found)
	assert.Equal(t, gatewayID, sig.Requester)
	assert.Equal(t, req.Caller, sig.Caller)
	expected, err := local.Address(gatewayID, "m/0", 0)
	require.NoError(t, err)
	assert.Equal(t, expected, sig.Signer)

	resp, err := http.Get(srv.URL + "/v1/signatures/req-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignerHandler_EmptyGatewayListRefusesAll(t *testing.T) {
	local, err := kms.NewLocalSigner(bytes.Repeat([]byte{0x42}, kms.MinSeedLength), testLogger())
	require.NoError(t, err)
	senderKey, err := signature.NewRandomSigner()
	require.NoError(t, err)

	mux := chi.NewRouter()
	NewSignerHandler(local, nil, 0, testLogger()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := clients.NewSignerClient(srv.URL, 0, senderKey, testLogger())
	require.NoError(t, err)
	err = client.Submit(context.Background(), &interfaces.SignatureRequest{
		RequestID:       "req-1",
		Caller:          "0x1111111111111111111111111111111111111111",
		Payload:         []byte("payload"),
		ExecutionBudget: gateway.DefaultExecutionBudget,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, found := local.Result("req-1")
	assert.False(t, found)
}

// signedPost sends body to path signed by key and returns the status code.
func signedPost(t *testing.T, baseURL string, key *signature.Signer, path string, body []byte) int {
	t.Helper()
	sig, err := key.Create(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(api.SignatureHeader, sig)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestAPI_ReplayedApproveAfterRevokeRefused(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	approve := &api.CodehashRequest{Codehash: "abc123"}
	approve.Stamp(time.Now(), "approve-once")
	body, err := json.Marshal(approve)
	require.NoError(t, err)
	sig, err := f.ownerKey.Create(body)
	require.NoError(t, err)

	send := func() int {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/v1/codehashes/approve", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(api.SignatureHeader, sig)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, send())
	resp, err := f.owner.RevokeCodehash(ctx, "abc123")
	require.NoError(t, err)
	require.False(t, resp.Approved)

	// The captured approve is refused and the revocation stands.
	assert.Equal(t, http.StatusUnauthorized, send())
	approved, err := f.owner.IsApproved(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestAPI_RejectsStaleOrUnstampedRequests(t *testing.T) {
	f := newAPIFixture(t, nil)

	stale := &api.CodehashRequest{Codehash: "abc123"}
	stale.Stamp(time.Now().Add(-2*DefaultReplayWindow), "stale")
	body, err := json.Marshal(stale)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, signedPost(t, f.srv.URL, f.ownerKey, "/api/v1/codehashes/approve", body))

	assert.Equal(t, http.StatusUnauthorized, signedPost(t, f.srv.URL, f.ownerKey, "/api/v1/codehashes/approve", []byte(`{"codehash":"abc123"}`)))

	approved, err := f.owner.IsApproved(context.Background(), "abc123")
	require.NoError(t, err)
	assert.False(t, approved)
}
