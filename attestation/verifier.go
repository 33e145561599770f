package attestation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

const (
	quoteVersionV4 = 4
	teeTypeTDX     = 0x81
)

// TDXVerifier verifies Intel TDX DCAP quotes with go-tdx-guest against
// caller-supplied collateral and a trusted clock.
type TDXVerifier struct {
	// TrustedRoots overrides the embedded Intel SGX root CA when set.
	TrustedRoots *x509.CertPool

	// CheckRevocations enables CRL checks on the PCK chain.
	CheckRevocations bool

	log *slog.Logger
}

// NewTDXVerifier returns a verifier with revocation checks enabled.
func NewTDXVerifier(log *slog.Logger) *TDXVerifier {
	return &TDXVerifier{
		CheckRevocations: true,
		log:              log,
	}
}

// Verify checks quote against collateral as of now, truncated to whole seconds.
// Every failure is an *interfaces.AttestationError naming the rejecting stage.
func (v *TDXVerifier) Verify(ctx context.Context, quote []byte, collateral interfaces.CollateralBundle, now time.Time) (*interfaces.VerifiedReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	protoQuote, err := tdx_abi.QuoteToProto(quote)
	if err != nil {
		return nil, interfaces.RejectAttestation(interfaces.StageParse, fmt.Errorf("could not parse quote: %w", err))
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, interfaces.RejectAttestation(interfaces.StageUnsupportedVariant, fmt.Errorf("unsupported quote type: %T", protoQuote))
	}

	if collateral == nil {
		return nil, interfaces.RejectAttestation(interfaces.StageCollateral, errors.New("no collateral supplied"))
	}

	trustedTime := now.Truncate(time.Second)
	options := &verify.Options{
		GetCollateral:    true,
		CheckRevocations: v.CheckRevocations,
		Getter:           &bundleGetter{bundle: collateral},
		Now:              trustedTime,
		TrustedRoots:     v.TrustedRoots,
	}
	if err := verify.TdxQuote(v4Quote, options); err != nil {
		v.log.Debug("Quote verification failed", "err", err, slog.Time("trustedTime", trustedTime))
		return nil, interfaces.RejectAttestation(interfaces.StageQuoteVerification, err)
	}

	return ReportFromQuote(v4Quote)
}

// ReportFromQuote extracts the typed report from a parsed quote. It does not
// verify anything and must only be called on quotes that passed verification.
func ReportFromQuote(quote *tdx_pb.QuoteV4) (*interfaces.VerifiedReport, error) {
	header := quote.GetHeader()
	if header.GetVersion() != quoteVersionV4 {
		return nil, interfaces.RejectAttestation(interfaces.StageUnsupportedVariant, fmt.Errorf("quote version %d", header.GetVersion()))
	}
	if header.GetTeeType() != teeTypeTDX {
		return &interfaces.VerifiedReport{Variant: interfaces.VariantSGXEnclave}, nil
	}

	body := quote.GetTdQuoteBody()
	if body == nil {
		return nil, interfaces.RejectAttestation(interfaces.StageParse, errors.New("quote has no TD body"))
	}

	report := &interfaces.TD10Report{}
	if err := copyExact(report.MrTd[:], body.GetMrTd(), "mrtd"); err != nil {
		return nil, err
	}
	if len(body.GetRtmrs()) != len(report.Rtmrs) {
		return nil, interfaces.RejectAttestation(interfaces.StageParse, fmt.Errorf("quote has %d rtmrs", len(body.GetRtmrs())))
	}
	for i, rtmr := range body.GetRtmrs() {
		if err := copyExact(report.Rtmrs[i][:], rtmr, fmt.Sprintf("rtmr%d", i)); err != nil {
			return nil, err
		}
	}
	if err := copyExact(report.ReportData[:], body.GetReportData(), "report data"); err != nil {
		return nil, err
	}

	return &interfaces.VerifiedReport{Variant: interfaces.VariantTD10, TD10: report}, nil
}

func copyExact(dst, src []byte, field string) error {
	if len(src) != len(dst) {
		return interfaces.RejectAttestation(interfaces.StageParse, fmt.Errorf("%s has %d bytes, expected %d", field, len(src), len(dst)))
	}
	copy(dst, src)
	return nil
}
