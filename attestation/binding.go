package attestation

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// ReportDataText decodes report data as text with trailing NUL padding removed.
// Invalid UTF-8 sequences are replaced rather than rejected.
func ReportDataText(reportData [64]byte) string {
	trimmed := bytes.TrimRight(reportData[:], "\x00")
	return strings.ToValidUTF8(string(trimmed), "\uFFFD")
}

// CheckCallerBinding verifies that the report was generated for identity.
func CheckCallerBinding(report *interfaces.VerifiedReport, identity interfaces.Identity) error {
	td, ok := report.AsTD10()
	if !ok {
		return fmt.Errorf("%w: report is not a TD10 report", interfaces.ErrIdentityBindingFailed)
	}
	bound := ReportDataText(td.ReportData)
	if bound != identity.String() {
		return fmt.Errorf("%w: report is bound to %q, caller is %q", interfaces.ErrIdentityBindingFailed, bound, identity)
	}
	return nil
}

// ReportDataForIdentity builds the report data a worker embeds in its quote.
func ReportDataForIdentity(identity interfaces.Identity) ([64]byte, error) {
	var reportData [64]byte
	if len(identity) > len(reportData) {
		return reportData, fmt.Errorf("identity %q does not fit in report data", identity)
	}
	copy(reportData[:], identity)
	return reportData, nil
}
