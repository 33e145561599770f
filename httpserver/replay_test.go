package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flashbots/go-utils/signature"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(issuedAt time.Time, nonce string) api.RequestEnvelope {
	return api.RequestEnvelope{IssuedAt: issuedAt.Unix(), Nonce: nonce}
}

func TestReplayGuard_Admit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewReplayGuard(time.Minute)
	g.now = func() time.Time { return now }

	const alice interfaces.Identity = "0x1111111111111111111111111111111111111111"
	const bob interfaces.Identity = "0x2222222222222222222222222222222222222222"

	require.NoError(t, g.Admit(alice, envelope(now, "n1")))
	assert.ErrorIs(t, g.Admit(alice, envelope(now, "n1")), errReplayed)
	// Nonces are scoped to the signer.
	require.NoError(t, g.Admit(bob, envelope(now, "n1")))

	assert.ErrorIs(t, g.Admit(alice, envelope(now.Add(-2*time.Minute), "n2")), errStaleRequest)
	assert.ErrorIs(t, g.Admit(alice, envelope(now.Add(2*time.Minute), "n3")), errStaleRequest)
	assert.ErrorIs(t, g.Admit(alice, api.RequestEnvelope{Nonce: "n4"}), errStaleRequest)
	assert.ErrorIs(t, g.Admit(alice, envelope(now, "")), errMissingNonce)
	assert.ErrorIs(t, g.Admit(alice, envelope(now, strings.Repeat("x", maxNonceLength+1))), errMissingNonce)

	g.Release(alice, "n1")
	require.NoError(t, g.Admit(alice, envelope(now, "n1")))
}

func TestReplayGuard_ForgetsExpiredNonces(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewReplayGuard(time.Minute)
	g.now = func() time.Time { return now }

	require.NoError(t, g.Admit("0x1111111111111111111111111111111111111111", envelope(now, "n1")))
	require.Len(t, g.seen, 1)

	now = now.Add(2 * time.Minute)
	require.NoError(t, g.Admit("0x1111111111111111111111111111111111111111", envelope(now, "n2")))
	assert.Len(t, g.seen, 1)
}

func TestRequireSignature_ReleasesNonceOnServerError(t *testing.T) {
	key, err := signature.NewRandomSigner()
	require.NoError(t, err)

	fail := true
	handler := RequireSignature(0, NewReplayGuard(time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := &api.CodehashRequest{Codehash: "abc123"}
	req.Stamp(time.Now(), "retry-me")
	body, err := json.Marshal(req)
	require.NoError(t, err)
	sig, err := key.Create(body)
	require.NoError(t, err)

	send := func() int {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		r.Header.Set(api.SignatureHeader, sig)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusServiceUnavailable, send())
	fail = false
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusUnauthorized, send())
}
