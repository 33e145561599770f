package attestation

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// DecodeQuote converts hex-encoded attestation evidence into the raw quote bytes.
// A leading 0x and surrounding whitespace are accepted.
func DecodeQuote(quoteHex string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(quoteHex), "0x")
	if clean == "" {
		return nil, fmt.Errorf("%w: empty quote", interfaces.ErrMalformedEvidence)
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedEvidence, err)
	}
	return raw, nil
}
