package attestation

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/tee-signing-gateway/interfaces"
)

const (
	// RuntimeEventType tags events extended into RTMR3 by the dstack guest agent.
	RuntimeEventType uint32 = 0x08000001

	// ComposeHashEvent names the runtime event carrying the application image hash.
	ComposeHashEvent = "compose-hash"

	appMeasurementRegister = 3
)

// EventLogEntry is one measured event in a TCB-info event log.
type EventLogEntry struct {
	IMR          uint32 `json:"imr"`
	EventType    uint32 `json:"event_type"`
	Digest       string `json:"digest"`
	Event        string `json:"event"`
	EventPayload string `json:"event_payload"`
}

// TcbInfo is the application TCB-info document reported by a dstack guest.
type TcbInfo struct {
	Mrtd       string          `json:"mrtd"`
	Rtmr0      string          `json:"rtmr0"`
	Rtmr1      string          `json:"rtmr1"`
	Rtmr2      string          `json:"rtmr2"`
	Rtmr3      string          `json:"rtmr3"`
	EventLog   []EventLogEntry `json:"event_log"`
	AppCompose string          `json:"app_compose"`
}

// ParseTcbInfo decodes a TCB-info document.
func ParseTcbInfo(data []byte) (*TcbInfo, error) {
	var info TcbInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: invalid tcb info: %v", interfaces.ErrCodeIdentityUnresolvable, err)
	}
	return &info, nil
}

// RuntimeEventDigest computes the digest the guest agent extends for a runtime event.
func RuntimeEventDigest(eventType uint32, event string, payload []byte) [sha512.Size384]byte {
	var typeBytes [4]byte
	binary.LittleEndian.PutUint32(typeBytes[:], eventType)

	h := sha512.New384()
	h.Write(typeBytes[:])
	h.Write([]byte(":"))
	h.Write([]byte(event))
	h.Write([]byte(":"))
	h.Write(payload)

	var digest [sha512.Size384]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// ReplayRTMR recomputes a measurement register from the events extended into it.
func ReplayRTMR(events []EventLogEntry, imr uint32) ([sha512.Size384]byte, error) {
	var rtmr [sha512.Size384]byte
	for i, e := range events {
		if e.IMR != imr {
			continue
		}
		digest, err := hex.DecodeString(e.Digest)
		if err != nil {
			return rtmr, fmt.Errorf("event %d: invalid digest: %w", i, err)
		}
		if len(digest) > sha512.Size384 {
			return rtmr, fmt.Errorf("event %d: digest has %d bytes", i, len(digest))
		}
		// Short digests are zero padded to the register width before extending.
		var padded [sha512.Size384]byte
		copy(padded[:], digest)

		h := sha512.New384()
		h.Write(rtmr[:])
		h.Write(padded[:])
		copy(rtmr[:], h.Sum(nil))
	}
	return rtmr, nil
}

// ExtractCodeIdentity derives the application image identity of a verified
// report. The TCB-info event log must replay to the quote's RTMR3, and its
// compose-hash event must be consistent with its digest and with app_compose.
func ExtractCodeIdentity(report *interfaces.VerifiedReport, tcbInfo []byte, rtmr3Hex string) (interfaces.CodeIdentity, error) {
	td, ok := report.AsTD10()
	if !ok {
		return "", fmt.Errorf("%w: report is not a TD10 report", interfaces.ErrCodeIdentityUnresolvable)
	}
	if !strings.EqualFold(rtmr3Hex, td.RTMR3Hex()) {
		return "", fmt.Errorf("%w: rtmr3 does not belong to the report", interfaces.ErrCodeIdentityUnresolvable)
	}

	info, err := ParseTcbInfo(tcbInfo)
	if err != nil {
		return "", err
	}

	if info.Mrtd != "" && !strings.EqualFold(info.Mrtd, hex.EncodeToString(td.MrTd[:])) {
		return "", fmt.Errorf("%w: tcb info mrtd does not match the report", interfaces.ErrCodeIdentityUnresolvable)
	}
	if info.Rtmr3 != "" && !strings.EqualFold(info.Rtmr3, rtmr3Hex) {
		return "", fmt.Errorf("%w: tcb info rtmr3 does not match the report", interfaces.ErrCodeIdentityUnresolvable)
	}

	replayed, err := ReplayRTMR(info.EventLog, appMeasurementRegister)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrCodeIdentityUnresolvable, err)
	}
	if !bytes.Equal(replayed[:], td.Rtmrs[appMeasurementRegister][:]) {
		return "", fmt.Errorf("%w: event log replays to %x, report has %s", interfaces.ErrCodeIdentityUnresolvable, replayed, rtmr3Hex)
	}

	payload, err := composeHashPayload(info.EventLog)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrCodeIdentityUnresolvable, err)
	}

	if info.AppCompose != "" {
		composeHash := sha256.Sum256([]byte(info.AppCompose))
		if !bytes.Equal(composeHash[:], payload) {
			return "", fmt.Errorf("%w: app_compose does not hash to the measured compose-hash", interfaces.ErrCodeIdentityUnresolvable)
		}
	}

	return interfaces.CodeIdentity(hex.EncodeToString(payload)), nil
}

func composeHashPayload(events []EventLogEntry) ([]byte, error) {
	var found *EventLogEntry
	for i := range events {
		e := &events[i]
		if e.IMR != appMeasurementRegister || e.Event != ComposeHashEvent {
			continue
		}
		if found != nil {
			return nil, errors.New("event log has more than one compose-hash event")
		}
		found = e
	}
	if found == nil {
		return nil, errors.New("event log has no compose-hash event")
	}

	payload, err := hex.DecodeString(found.EventPayload)
	if err != nil {
		return nil, fmt.Errorf("invalid compose-hash payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("empty compose-hash payload")
	}

	digest, err := hex.DecodeString(found.Digest)
	if err != nil {
		return nil, fmt.Errorf("invalid compose-hash digest: %w", err)
	}
	expected := RuntimeEventDigest(found.EventType, found.Event, payload)
	if !bytes.Equal(digest, expected[:]) {
		return nil, errors.New("compose-hash digest does not match its payload")
	}
	return payload, nil
}
