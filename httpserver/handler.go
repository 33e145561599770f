package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/gateway"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Handler exposes the gateway operations over HTTP.
type Handler struct {
	gw          *gateway.Gateway
	maxBody     int64
	signLimiter *IdentityRateLimiter
	replay      *ReplayGuard
	log         *slog.Logger
}

// NewHandler creates the API handler. A nil limiter disables signing rate limits.
func NewHandler(gw *gateway.Gateway, maxBodyBytes int64, signLimiter *IdentityRateLimiter, log *slog.Logger) *Handler {
	return &Handler{
		gw:          gw,
		maxBody:     maxBodyBytes,
		signLimiter: signLimiter,
		replay:      NewReplayGuard(DefaultReplayWindow),
		log:         log,
	}
}

func (h *Handler) RegisterRoutes(mux chi.Router) {
	mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/owner", h.HandleOwner)
		r.Get("/codehashes", h.HandleListCodehashes)
		r.Get("/codehashes/{codehash}", h.HandleGetCodehash)
		r.Get("/workers/{identity}", h.HandleGetWorker)

		r.Group(func(r chi.Router) {
			r.Use(RequireSignature(h.maxBody, h.replay))
			r.Post("/workers/register", h.HandleRegisterWorker)
			r.Post("/codehashes/approve", h.HandleApproveCodehash)
			r.Post("/codehashes/revoke", h.HandleRevokeCodehash)

			if h.signLimiter != nil {
				r.With(h.signLimiter.Middleware).Post("/sign", h.HandleSign)
			} else {
				r.Post("/sign", h.HandleSign)
			}
		})
	})
}

// HandleRegisterWorker admits the calling worker.
//
// URL format: POST /api/v1/workers/register
// Request body: api.RegisterWorkerRequest
func (h *Handler) HandleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req api.RegisterWorkerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	registered, err := h.gw.RegisterWorker(r.Context(), caller, gateway.RegisterRequest{
		QuoteHex:   req.QuoteHex,
		Collateral: string(req.Collateral),
		Checksum:   req.Checksum,
		TcbInfo:    req.TcbInfo,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.RegisterWorkerResponse{Registered: registered})
}

func (h *Handler) HandleApproveCodehash(w http.ResponseWriter, r *http.Request) {
	h.handleAllowlistChange(w, r, true)
}

func (h *Handler) HandleRevokeCodehash(w http.ResponseWriter, r *http.Request) {
	h.handleAllowlistChange(w, r, false)
}

func (h *Handler) handleAllowlistChange(w http.ResponseWriter, r *http.Request, approve bool) {
	caller, _ := CallerFromContext(r.Context())

	var req api.CodehashRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	change := h.gw.RevokeCodehash
	if approve {
		change = h.gw.ApproveCodehash
	}

	codehash, err := change(r.Context(), caller, req.Codehash)
	if err != nil {
		h.log.Warn("Allowlist change refused", slog.String("caller", caller.String()), slog.Bool("approve", approve), "err", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CodehashResponse{Codehash: codehash, Approved: approve})
}

// HandleSign accepts a signing request from a registered worker and answers
// 202 with a pending handle. The signature itself is produced out of band.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req api.SignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	handle, err := h.gw.Sign(r.Context(), caller, interfaces.SignRequest{
		Payload:        req.Payload,
		DerivationPath: req.Path,
		KeyVersion:     req.KeyVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, handle)
}

func (h *Handler) HandleGetWorker(w http.ResponseWriter, r *http.Request) {
	identity, err := interfaces.NewIdentityFromHex(chi.URLParam(r, "identity"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err))
		return
	}

	worker, err := h.gw.GetWorker(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.WorkerResponse{
		Identity: identity,
		Checksum: worker.Checksum,
		Codehash: worker.Codehash,
	})
}

func (h *Handler) HandleGetCodehash(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "codehash")
	approved, err := h.gw.IsApproved(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	codehash, _ := interfaces.NewCodeIdentity(code)
	writeJSON(w, http.StatusOK, api.CodehashResponse{Codehash: codehash, Approved: approved})
}

func (h *Handler) HandleListCodehashes(w http.ResponseWriter, r *http.Request) {
	codehashes, err := h.gw.ListCodehashes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if codehashes == nil {
		codehashes = []interfaces.CodeIdentity{}
	}
	writeJSON(w, http.StatusOK, api.CodehashListResponse{Codehashes: codehashes})
}

func (h *Handler) HandleOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.OwnerResponse{Owner: h.gw.Owner()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// statusFor maps gateway errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}

	switch {
	case errors.Is(err, interfaces.ErrMalformedEvidence), errors.Is(err, interfaces.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrAttestationRejected), errors.Is(err, interfaces.ErrCodeIdentityUnresolvable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrIdentityBindingFailed),
		errors.Is(err, interfaces.ErrCodeNotApproved),
		errors.Is(err, interfaces.ErrCodeNoLongerApproved),
		errors.Is(err, interfaces.ErrWorkerNotRegistered),
		errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrWorkerNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrDelegationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := api.ErrorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}

	var attErr *interfaces.AttestationError
	if errors.As(err, &attErr) {
		resp.Stage = attErr.Stage
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
