package attestation

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-tdx-guest/verify/trust"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// PCS response headers carrying the URL-encoded issuer chains.
const (
	tcbInfoIssuerChainHeader    = "TCB-Info-Issuer-Chain"
	qeIdentityIssuerChainHeader = "SGX-Enclave-Identity-Issuer-Chain"
	pckCrlIssuerChainHeader     = "SGX-PCK-CRL-Issuer-Chain"
)

var ErrNoCollateralDocument = errors.New("collateral has no document for url")

// HexBytes is a byte slice carried as a hex string in JSON.
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// Collateral is a pre-fetched PCS collateral set for one platform. The JSON
// layout matches the quote collateral produced by dcap-qvl and the dstack tooling.
type Collateral struct {
	PckCrlIssuerChain     string   `json:"pck_crl_issuer_chain"`
	RootCaCrl             HexBytes `json:"root_ca_crl"`
	PckCrl                HexBytes `json:"pck_crl"`
	TcbInfoIssuerChain    string   `json:"tcb_info_issuer_chain"`
	TcbInfo               string   `json:"tcb_info"`
	TcbInfoSignature      HexBytes `json:"tcb_info_signature"`
	QeIdentityIssuerChain string   `json:"qe_identity_issuer_chain"`
	QeIdentity            string   `json:"qe_identity"`
	QeIdentitySignature   HexBytes `json:"qe_identity_signature"`
}

// ParseCollateral decodes and sanity checks a collateral bundle.
func ParseCollateral(data []byte) (*Collateral, error) {
	var c Collateral
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid collateral: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every document needed for verification is present.
func (c *Collateral) Validate() error {
	var missing []string
	if c.TcbInfo == "" {
		missing = append(missing, "tcb_info")
	}
	if len(c.TcbInfoSignature) == 0 {
		missing = append(missing, "tcb_info_signature")
	}
	if c.TcbInfoIssuerChain == "" {
		missing = append(missing, "tcb_info_issuer_chain")
	}
	if c.QeIdentity == "" {
		missing = append(missing, "qe_identity")
	}
	if len(c.QeIdentitySignature) == 0 {
		missing = append(missing, "qe_identity_signature")
	}
	if c.QeIdentityIssuerChain == "" {
		missing = append(missing, "qe_identity_issuer_chain")
	}
	if len(c.PckCrl) == 0 {
		missing = append(missing, "pck_crl")
	}
	if c.PckCrlIssuerChain == "" {
		missing = append(missing, "pck_crl_issuer_chain")
	}
	if len(c.RootCaCrl) == 0 {
		missing = append(missing, "root_ca_crl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid collateral: missing %s", strings.Join(missing, ", "))
	}
	if !json.Valid([]byte(c.TcbInfo)) {
		return errors.New("invalid collateral: tcb_info is not JSON")
	}
	if !json.Valid([]byte(c.QeIdentity)) {
		return errors.New("invalid collateral: qe_identity is not JSON")
	}
	return nil
}

// PCSDocument answers a PCS request from the bundle, the way the Intel PCS
// would have answered it online.
func (c *Collateral) PCSDocument(rawURL string) (map[string][]string, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid collateral url %q: %w", rawURL, err)
	}

	header := http.Header{}
	switch {
	case strings.HasSuffix(u.Path, "/tcb"):
		header.Set(tcbInfoIssuerChainHeader, url.QueryEscape(c.TcbInfoIssuerChain))
		return header, signedDocument("tcbInfo", c.TcbInfo, c.TcbInfoSignature), nil
	case strings.HasSuffix(u.Path, "/qe/identity"):
		header.Set(qeIdentityIssuerChainHeader, url.QueryEscape(c.QeIdentityIssuerChain))
		return header, signedDocument("enclaveIdentity", c.QeIdentity, c.QeIdentitySignature), nil
	case strings.HasSuffix(u.Path, "/pckcrl"):
		header.Set(pckCrlIssuerChainHeader, url.QueryEscape(c.PckCrlIssuerChain))
		return header, c.PckCrl, nil
	case strings.HasSuffix(u.Path, ".der") || strings.HasSuffix(u.Path, ".crl"):
		return header, c.RootCaCrl, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNoCollateralDocument, rawURL)
}

// signedDocument rebuilds the PCS response body around the exact signed bytes.
func signedDocument(field, body string, signature []byte) []byte {
	var b strings.Builder
	b.WriteString(`{"`)
	b.WriteString(field)
	b.WriteString(`":`)
	b.WriteString(body)
	b.WriteString(`,"signature":"`)
	b.WriteString(hex.EncodeToString(signature))
	b.WriteString(`"}`)
	return []byte(b.String())
}

// PCSCollateral fetches collateral from the Intel PCS on demand.
type PCSCollateral struct {
	getter trust.HTTPSGetter
}

// NewPCSCollateral returns a bundle backed by getter, or by the library
// default HTTPS getter when getter is nil.
func NewPCSCollateral(getter trust.HTTPSGetter) *PCSCollateral {
	if getter == nil {
		getter = trust.DefaultHTTPSGetter()
	}
	return &PCSCollateral{getter: getter}
}

func (c *PCSCollateral) PCSDocument(rawURL string) (map[string][]string, []byte, error) {
	return c.getter.Get(rawURL)
}

// bundleGetter adapts a collateral bundle to the verifier's HTTPS getter.
type bundleGetter struct {
	bundle interfaces.CollateralBundle
}

func (g *bundleGetter) Get(rawURL string) (map[string][]string, []byte, error) {
	return g.bundle.PCSDocument(rawURL)
}
