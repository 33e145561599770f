// Package attestationtest builds consistent attestation fixtures for tests:
// TCB-info documents whose event logs replay to a known RTMR3, and verified
// reports bound to a caller identity.
package attestationtest

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// Fixture is a TCB-info document together with the register values it implies.
type Fixture struct {
	TcbInfo []byte
	MrTd    [48]byte
	Rtmr3   [48]byte
}

// NewFixture builds a TCB-info document whose compose-hash event carries
// composeHash. An optional app_compose string is embedded verbatim.
func NewFixture(composeHash []byte, appCompose string) *Fixture {
	events := []attestation.EventLogEntry{
		runtimeEvent("system-preparing", nil),
		runtimeEvent("app-id", []byte{0x01, 0x02, 0x03}),
		runtimeEvent(attestation.ComposeHashEvent, composeHash),
		runtimeEvent("instance-id", []byte{0x0a, 0x0b}),
		{IMR: 1, EventType: 0x80000001, Digest: hex.EncodeToString(make([]byte, sha512.Size384)), Event: ""},
	}

	rtmr3, err := attestation.ReplayRTMR(events, 3)
	if err != nil {
		panic(err)
	}

	f := &Fixture{Rtmr3: rtmr3}
	copy(f.MrTd[:], []byte("fixture-mrtd"))

	doc := attestation.TcbInfo{
		Mrtd:       hex.EncodeToString(f.MrTd[:]),
		Rtmr3:      hex.EncodeToString(rtmr3[:]),
		EventLog:   events,
		AppCompose: appCompose,
	}
	f.TcbInfo, err = json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return f
}

// Report returns a TD10 report for the fixture bound to identity.
func (f *Fixture) Report(identity interfaces.Identity) *interfaces.VerifiedReport {
	reportData, err := attestation.ReportDataForIdentity(identity)
	if err != nil {
		panic(err)
	}
	td := &interfaces.TD10Report{MrTd: f.MrTd, ReportData: reportData}
	td.Rtmrs[3] = f.Rtmr3
	return &interfaces.VerifiedReport{Variant: interfaces.VariantTD10, TD10: td}
}

func runtimeEvent(name string, payload []byte) attestation.EventLogEntry {
	digest := attestation.RuntimeEventDigest(attestation.RuntimeEventType, name, payload)
	return attestation.EventLogEntry{
		IMR:          3,
		EventType:    attestation.RuntimeEventType,
		Digest:       hex.EncodeToString(digest[:]),
		Event:        name,
		EventPayload: hex.EncodeToString(payload),
	}
}

// StaticVerifier returns a fixed report for every quote it is given, after
// checking that collateral was supplied.
type StaticVerifier struct {
	Report *interfaces.VerifiedReport
	Err    error
}

func (v *StaticVerifier) Verify(ctx context.Context, quote []byte, collateral interfaces.CollateralBundle, now time.Time) (*interfaces.VerifiedReport, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	if collateral == nil {
		return nil, interfaces.RejectAttestation(interfaces.StageCollateral, attestation.ErrNoCollateral)
	}
	return v.Report, nil
}

// StaticResolver resolves every argument to the same bundle.
type StaticResolver struct {
	Bundle interfaces.CollateralBundle
	Err    error
}

func (r *StaticResolver) Resolve(ctx context.Context, raw string) (interfaces.CollateralBundle, error) {
	return r.Bundle, r.Err
}
