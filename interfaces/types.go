package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the authenticated principal behind a call. Identities derived
// from secp256k1 keys are lowercase 0x-prefixed hex addresses.
type Identity string

// IdentityFromAddress returns the canonical identity of an Ethereum-style address.
func IdentityFromAddress(addr common.Address) Identity {
	return Identity(strings.ToLower(addr.Hex()))
}

// NewIdentityFromHex parses an address in any hex casing into its canonical identity.
func NewIdentityFromHex(s string) (Identity, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid identity %q: expected 20-byte hex address", s)
	}
	return IdentityFromAddress(common.HexToAddress(s)), nil
}

func (i Identity) String() string {
	return string(i)
}

const maxCodeIdentityLen = 128

// CodeIdentity is the lowercase hex digest naming a recognized application image.
type CodeIdentity string

// NewCodeIdentity normalizes a code identity: surrounding whitespace and a
// 0x prefix are dropped and hex digits are lowercased.
func NewCodeIdentity(s string) (CodeIdentity, error) {
	clean := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if clean == "" {
		return "", errors.New("empty code identity")
	}
	if len(clean) > maxCodeIdentityLen || strings.ContainsAny(clean, " \t\r\n") {
		return "", fmt.Errorf("invalid code identity %q", s)
	}
	return CodeIdentity(clean), nil
}

func (c CodeIdentity) String() string {
	return string(c)
}

// Worker is the registry record kept for an admitted identity.
type Worker struct {
	// Checksum is the opaque build fingerprint reported by the worker.
	Checksum string `json:"checksum"`

	// Codehash is the code identity that was approved when the worker was admitted.
	Codehash CodeIdentity `json:"codehash"`
}

// ReportVariant distinguishes attestation report generations.
type ReportVariant string

const (
	// VariantTD10 is a TDX 1.0 TD report carried in a v4 quote.
	VariantTD10 ReportVariant = "TD10"
	// VariantTD15 is a TDX 1.5 TD report carried in a v5 quote.
	VariantTD15 ReportVariant = "TD15"
	// VariantSGXEnclave is an SGX enclave report.
	VariantSGXEnclave ReportVariant = "SGX"
)

// TD10Report holds the TD 1.0 fields the gateway consumes.
type TD10Report struct {
	MrTd       [48]byte
	Rtmrs      [4][48]byte
	ReportData [64]byte
}

// VerifiedReport is the output of a successful quote verification.
type VerifiedReport struct {
	Variant ReportVariant
	TD10    *TD10Report
}

// AsTD10 returns the TD 1.0 body when the report is of that variant.
func (r *VerifiedReport) AsTD10() (*TD10Report, bool) {
	if r == nil || r.Variant != VariantTD10 || r.TD10 == nil {
		return nil, false
	}
	return r.TD10, true
}

// RTMR3Hex returns the lowercase hex of the application measurement register.
func (r *TD10Report) RTMR3Hex() string {
	return hex.EncodeToString(r.Rtmrs[3][:])
}

// SignRequest is what a worker asks the gateway to have signed.
type SignRequest struct {
	Payload        []byte
	DerivationPath string
	KeyVersion     uint32
}

// SignatureRequest is the message handed to the threshold-signing service.
type SignatureRequest struct {
	RequestID      string
	Caller         Identity
	Payload        []byte
	DerivationPath string
	KeyVersion     uint32

	// ExecutionBudget bounds the work the signing service may spend on the request.
	ExecutionBudget uint64
	// Fee is the minimal value attached to the request.
	Fee uint64
}

// PendingHandle refers to a signature request that was accepted for delegation.
type PendingHandle struct {
	ID         string    `json:"id"`
	Caller     Identity  `json:"caller"`
	AcceptedAt time.Time `json:"accepted_at"`
}
