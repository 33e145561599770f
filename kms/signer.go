package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"golang.org/x/crypto/hkdf"
)

const derivationDomain = "tee-signing-gateway/derive/v1"

var (
	ErrNoRequester      = errors.New("request has no authenticated requester")
	ErrEmptyPayload     = errors.New("empty payload")
	ErrBudgetExhausted  = errors.New("request carries no execution budget")
	ErrDuplicateRequest = errors.New("duplicate request id")
)

// Signature is the result LocalSigner records for a delivered request.
// Requester is the authenticated party whose key signed. Caller is carried
// through from the request for bookkeeping only.
type Signature struct {
	RequestID string              `json:"request_id"`
	Requester interfaces.Identity `json:"requester"`
	Caller    interfaces.Identity `json:"caller"`
	Signer    common.Address      `json:"signer"`
	Digest    common.Hash         `json:"digest"`
	Signature []byte              `json:"signature"`
	SignedAt  time.Time           `json:"signed_at"`
}

// LocalSigner signs with keys derived from a single master seed for
// (requester, derivation path, key version). The requester is the
// authenticated party delivering the request, normally a gateway, so every
// worker admitted by one gateway shares that gateway's keys. It is meant for
// development and tests.
type LocalSigner struct {
	masterKey []byte
	log       *slog.Logger

	mu      sync.RWMutex
	results map[string]*Signature
}

func NewLocalSigner(masterKey []byte, log *slog.Logger) (*LocalSigner, error) {
	if len(masterKey) < MinSeedLength {
		return nil, fmt.Errorf("master seed must be at least %d bytes", MinSeedLength)
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalSigner{
		masterKey: masterKey,
		log:       log,
		results:   make(map[string]*Signature),
	}, nil
}

// SubmitFrom signs keccak256(req.Payload) with the key derived for requester.
func (s *LocalSigner) SubmitFrom(ctx context.Context, requester interfaces.Identity, req *interfaces.SignatureRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if requester == "" {
		return ErrNoRequester
	}
	if len(req.Payload) == 0 {
		return ErrEmptyPayload
	}
	if req.ExecutionBudget == 0 {
		return ErrBudgetExhausted
	}

	key, err := s.deriveKey(requester, req.DerivationPath, req.KeyVersion)
	if err != nil {
		return err
	}

	digest := crypto.Keccak256Hash(req.Payload)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return fmt.Errorf("signing request %s: %w", req.RequestID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.results[req.RequestID]; found {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.RequestID)
	}
	s.results[req.RequestID] = &Signature{
		RequestID: req.RequestID,
		Requester: requester,
		Caller:    req.Caller,
		Signer:    crypto.PubkeyToAddress(key.PublicKey),
		Digest:    digest,
		Signature: sig,
		SignedAt:  time.Now().UTC(),
	}

	s.log.Debug("Signed request",
		slog.String("request_id", req.RequestID),
		slog.String("requester", requester.String()),
		slog.String("caller", req.Caller.String()),
		slog.String("path", req.DerivationPath))
	return nil
}

// Result returns the signature recorded for requestID.
func (s *LocalSigner) Result(requestID string) (*Signature, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, found := s.results[requestID]
	return sig, found
}

// For binds the signer to requester, for gateways that run it in process.
func (s *LocalSigner) For(requester interfaces.Identity) interfaces.ThresholdSigner {
	return &boundSigner{signer: s, requester: requester}
}

type boundSigner struct {
	signer    *LocalSigner
	requester interfaces.Identity
}

func (b *boundSigner) Submit(ctx context.Context, req *interfaces.SignatureRequest) error {
	return b.signer.SubmitFrom(ctx, b.requester, req)
}

// Address returns the address of the key used for (requester, path, keyVersion).
func (s *LocalSigner) Address(requester interfaces.Identity, path string, keyVersion uint32) (common.Address, error) {
	key, err := s.deriveKey(requester, path, keyVersion)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (s *LocalSigner) deriveKey(requester interfaces.Identity, path string, keyVersion uint32) (*ecdsa.PrivateKey, error) {
	info := []byte(derivationDomain + "|" + requester.String() + "|" + path + "|" + strconv.FormatUint(uint64(keyVersion), 10))
	kdf := hkdf.New(sha256.New, s.masterKey, nil, info)

	// A derived scalar outside the curve order is vanishingly rare; read the next block when it happens.
	var scalar [32]byte
	for range 4 {
		if _, err := io.ReadFull(kdf, scalar[:]); err != nil {
			return nil, fmt.Errorf("deriving key: %w", err)
		}
		if key, err := crypto.ToECDSA(scalar[:]); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("could not derive a valid secp256k1 key")
}
