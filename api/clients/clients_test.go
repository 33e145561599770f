package clients

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flashbots/go-utils/signature"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayClient_SignsRequestBodies(t *testing.T) {
	signer, err := signature.NewRandomSigner()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/codehashes/approve", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		addr, err := signature.Verify(r.Header.Get(api.SignatureHeader), body)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), addr)

		var req api.CodehashRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.NotEmpty(t, req.Nonce)
		assert.WithinDuration(t, time.Now(), time.Unix(req.IssuedAt, 0), time.Minute)
		_ = json.NewEncoder(w).Encode(api.CodehashResponse{Codehash: interfaces.CodeIdentity(req.Codehash), Approved: true})
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL, signer)
	resp, err := client.ApproveCodehash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, resp.Approved)
	assert.Equal(t, interfaces.CodeIdentity("abc123"), resp.Codehash)
	assert.Equal(t, interfaces.IdentityFromAddress(signer.Address()), client.Identity())
}

func TestGatewayClient_DecodesErrors(t *testing.T) {
	signer, err := signature.NewRandomSigner()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "attestation rejected", Stage: "quote_verification"})
	}))
	defer srv.Close()

	client := NewGatewayClient(srv.URL, signer)
	ok, err := client.RegisterWorker(context.Background(), &api.RegisterWorkerRequest{QuoteHex: "00"})
	require.Error(t, err)
	assert.False(t, ok)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "quote_verification", apiErr.Stage)
}

func TestGatewayClient_GetEndpoints(t *testing.T) {
	signer, err := signature.NewRandomSigner()
	require.NoError(t, err)
	owner := interfaces.IdentityFromAddress(signer.Address())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/owner", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.OwnerResponse{Owner: owner})
	})
	mux.HandleFunc("/api/v1/codehashes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.CodehashListResponse{Codehashes: []interfaces.CodeIdentity{"abc123"}})
	})
	mux.HandleFunc("/api/v1/codehashes/zzz999", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.CodehashResponse{Codehash: "zzz999", Approved: false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewGatewayClient(srv.URL, signer)
	ctx := context.Background()

	got, err := client.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	list, err := client.ListCodehashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.CodeIdentity{"abc123"}, list)

	approved, err := client.IsApproved(ctx, "zzz999")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestSignerClient_Submit(t *testing.T) {
	gatewayKey, err := signature.NewRandomSigner()
	require.NoError(t, err)

	var received api.SignerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sign", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		addr, err := signature.Verify(r.Header.Get(api.SignatureHeader), body)
		require.NoError(t, err)
		assert.Equal(t, gatewayKey.Address(), addr)

		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewSignerClient(srv.URL, 0, gatewayKey, discardLogger())
	require.NoError(t, err)
	err = client.Submit(context.Background(), &interfaces.SignatureRequest{
		RequestID:       "req-1",
		Caller:          "0x00000000000000000000000000000000000000aa",
		Payload:         []byte{0xde, 0xad},
		DerivationPath:  "m/0",
		ExecutionBudget: 250_000_000_000_000,
		Fee:             1,
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", received.RequestID)
	assert.Equal(t, []byte{0xde, 0xad}, []byte(received.Payload))
	assert.Equal(t, uint64(1), received.Fee)
	assert.NotEmpty(t, received.Nonce)
	assert.NotZero(t, received.IssuedAt)
}

func TestSignerClient_RequiresSigner(t *testing.T) {
	_, err := NewSignerClient("http://127.0.0.1:1", 0, nil, discardLogger())
	require.Error(t, err)
}

func TestSignerClient_RetriesServerErrors(t *testing.T) {
	gatewayKey, err := signature.NewRandomSigner()
	require.NoError(t, err)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewSignerClient(srv.URL, 1, gatewayKey, discardLogger())
	require.NoError(t, err)
	err = client.Submit(context.Background(), &interfaces.SignatureRequest{RequestID: "req-2", Payload: []byte{1}})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
