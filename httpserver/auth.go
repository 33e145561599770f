package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/flashbots/go-utils/signature"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

const defaultMaxBodyBytes = 1024 * 1024

var errUnauthenticated = errors.New("unauthenticated")

type callerKey struct{}

// CallerFromContext returns the identity authenticated by RequireSignature.
func CallerFromContext(ctx context.Context) (interfaces.Identity, bool) {
	caller, ok := ctx.Value(callerKey{}).(interfaces.Identity)
	return caller, ok && caller != ""
}

func withCaller(ctx context.Context, caller interfaces.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// RequireSignature authenticates the request body against the signature
// header and stores the signer's identity in the request context. The body
// is restored for the next handler.
//
// The signed body must carry an api.RequestEnvelope admitted by guard. A
// nonce consumed by a request that ended in a server error is released so
// the sender may retry it.
func RequireSignature(maxBodyBytes int64, guard *ReplayGuard) func(http.Handler) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if guard == nil {
		guard = NewReplayGuard(DefaultReplayWindow)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("reading request body: %w", err)})
				return
			}

			addr, err := signature.Verify(r.Header.Get(api.SignatureHeader), body)
			if err != nil {
				writeError(w, &RequestError{StatusCode: http.StatusUnauthorized, Err: fmt.Errorf("%w: %v", errUnauthenticated, err)})
				return
			}

			caller := interfaces.IdentityFromAddress(addr)

			var env api.RequestEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				writeError(w, &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid request body: %w", err)})
				return
			}
			if err := guard.Admit(caller, env); err != nil {
				writeError(w, &RequestError{StatusCode: http.StatusUnauthorized, Err: fmt.Errorf("%w: %v", errUnauthenticated, err)})
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(withCaller(r.Context(), caller)))
			if ww.Status() >= http.StatusInternalServerError {
				guard.Release(caller, env.Nonce)
			}
		})
	}
}
