package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/kms"
)

// SignatureResponse is a signature produced by the signing service.
type SignatureResponse struct {
	RequestID string              `json:"request_id"`
	Requester interfaces.Identity `json:"requester"`
	Caller    interfaces.Identity `json:"caller"`
	Signer    string              `json:"signer"`
	Digest    string              `json:"digest"`
	Signature hexutil.Bytes       `json:"signature"`
}

// SignerHandler serves a kms.LocalSigner as the threshold-signing service
// the gateway delegates to.
type SignerHandler struct {
	signer   *kms.LocalSigner
	gateways []interfaces.Identity
	maxBody  int64
	replay   *ReplayGuard
	log      *slog.Logger
}

// NewSignerHandler only accepts requests signed by one of gateways. Each
// request is signed with the key derived for the gateway that sent it. An
// empty list refuses every request.
func NewSignerHandler(signer *kms.LocalSigner, gateways []interfaces.Identity, maxBodyBytes int64, log *slog.Logger) *SignerHandler {
	return &SignerHandler{
		signer:   signer,
		gateways: gateways,
		maxBody:  maxBodyBytes,
		replay:   NewReplayGuard(DefaultReplayWindow),
		log:      log,
	}
}

func (h *SignerHandler) RegisterRoutes(mux chi.Router) {
	mux.With(RequireSignature(h.maxBody, h.replay)).Post("/v1/sign", h.HandleSubmit)
	mux.Get("/v1/signatures/{request_id}", h.HandleResult)
}

func (h *SignerHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sender, _ := CallerFromContext(r.Context())
	if !slices.Contains(h.gateways, sender) {
		writeError(w, fmt.Errorf("%w: %s is not an authorized gateway", interfaces.ErrUnauthorized, sender))
		return
	}

	var req api.SignerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.signer.SubmitFrom(r.Context(), sender, req.SignatureRequest()); err != nil {
		h.log.Warn("Signer refused request", slog.String("request_id", req.RequestID), "err", err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, kms.ErrEmptyPayload), errors.Is(err, kms.ErrBudgetExhausted):
			status = http.StatusBadRequest
		case errors.Is(err, kms.ErrDuplicateRequest):
			status = http.StatusConflict
		}
		writeError(w, &RequestError{StatusCode: status, Err: err})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *SignerHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	sig, found := h.signer.Result(chi.URLParam(r, "request_id"))
	if !found {
		writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("no signature for request")})
		return
	}

	writeJSON(w, http.StatusOK, SignatureResponse{
		RequestID: sig.RequestID,
		Requester: sig.Requester,
		Caller:    sig.Caller,
		Signer:    sig.Signer.Hex(),
		Digest:    sig.Digest.Hex(),
		Signature: sig.Signature,
	})
}
