package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// SignatureHeader carries the caller's signature over the request body.
const SignatureHeader = "X-Flashbots-Signature"

// RequestEnvelope is carried by every signed request body. The signature
// covers it, so a captured request is only accepted once and only while
// IssuedAt is within the server's freshness window.
type RequestEnvelope struct {
	// IssuedAt is the unix time in seconds at which the request was signed.
	IssuedAt int64  `json:"issued_at"`
	Nonce    string `json:"nonce"`
}

// Stamp sets the issue time and the single-use nonce.
func (e *RequestEnvelope) Stamp(t time.Time, nonce string) {
	e.IssuedAt = t.Unix()
	e.Nonce = nonce
}

// Stamper is a request body that carries a RequestEnvelope.
type Stamper interface {
	Stamp(t time.Time, nonce string)
}

// CollateralArg is the opaque collateral argument of an admission request. On
// the wire it is either a string (an archive reference, "pcs", or bundle JSON)
// or the bundle JSON object itself.
type CollateralArg string

func (c CollateralArg) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(c))
}

func (c *CollateralArg) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*c = ""
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = CollateralArg(s)
		return nil
	case trimmed[0] == '{':
		*c = CollateralArg(trimmed)
		return nil
	default:
		return errors.New("collateral must be a string or an object")
	}
}

type RegisterWorkerRequest struct {
	RequestEnvelope
	QuoteHex   string        `json:"quote_hex"`
	Collateral CollateralArg `json:"collateral"`
	Checksum   string        `json:"checksum"`
	TcbInfo    string        `json:"tcb_info"`
}

type RegisterWorkerResponse struct {
	Registered bool `json:"registered"`
}

type CodehashRequest struct {
	RequestEnvelope
	Codehash string `json:"codehash"`
}

type CodehashResponse struct {
	Codehash interfaces.CodeIdentity `json:"codehash"`
	Approved bool                    `json:"approved"`
}

type CodehashListResponse struct {
	Codehashes []interfaces.CodeIdentity `json:"codehashes"`
}

type SignRequest struct {
	RequestEnvelope
	Payload    hexutil.Bytes `json:"payload"`
	Path       string        `json:"path"`
	KeyVersion uint32        `json:"key_version"`
}

// SignResponse is the pending handle of an accepted signing request.
type SignResponse = interfaces.PendingHandle

type WorkerResponse struct {
	Identity interfaces.Identity     `json:"identity"`
	Checksum string                  `json:"checksum"`
	Codehash interfaces.CodeIdentity `json:"codehash"`
}

type OwnerResponse struct {
	Owner interfaces.Identity `json:"owner"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Stage is set for rejected attestations.
	Stage string `json:"stage,omitempty"`
}

// SignerRequest is the body posted to the threshold-signing service.
type SignerRequest struct {
	RequestEnvelope
	RequestID       string              `json:"request_id"`
	Caller          interfaces.Identity `json:"caller"`
	Payload         hexutil.Bytes       `json:"payload"`
	DerivationPath  string              `json:"derivation_path"`
	KeyVersion      uint32              `json:"key_version"`
	ExecutionBudget uint64              `json:"execution_budget"`
	Fee             uint64              `json:"fee"`
}

func NewSignerRequest(req *interfaces.SignatureRequest) *SignerRequest {
	return &SignerRequest{
		RequestID:       req.RequestID,
		Caller:          req.Caller,
		Payload:         req.Payload,
		DerivationPath:  req.DerivationPath,
		KeyVersion:      req.KeyVersion,
		ExecutionBudget: req.ExecutionBudget,
		Fee:             req.Fee,
	}
}

func (r *SignerRequest) SignatureRequest() *interfaces.SignatureRequest {
	return &interfaces.SignatureRequest{
		RequestID:       r.RequestID,
		Caller:          r.Caller,
		Payload:         r.Payload,
		DerivationPath:  r.DerivationPath,
		KeyVersion:      r.KeyVersion,
		ExecutionBudget: r.ExecutionBudget,
		Fee:             r.Fee,
	}
}
