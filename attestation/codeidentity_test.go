package attestation_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ruteri/tee-signing-gateway/attestation"
	"github.com/ruteri/tee-signing-gateway/attestation/attestationtest"
	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIdentity = interfaces.Identity("0x00000000000000000000000000000000000000aa")

func TestExtractCodeIdentity(t *testing.T) {
	appCompose := `{"manifest_version":2,"name":"shade-agent","runner":"docker-compose"}`
	composeHash := sha256.Sum256([]byte(appCompose))
	fixture := attestationtest.NewFixture(composeHash[:], appCompose)
	report := fixture.Report(testIdentity)

	code, err := attestation.ExtractCodeIdentity(report, fixture.TcbInfo, hex.EncodeToString(fixture.Rtmr3[:]))
	require.NoError(t, err)
	assert.Equal(t, interfaces.CodeIdentity(hex.EncodeToString(composeHash[:])), code)
}

func TestExtractCodeIdentity_WithoutAppCompose(t *testing.T) {
	fixture := attestationtest.NewFixture([]byte{0xab, 0xc1, 0x23}, "")
	report := fixture.Report(testIdentity)

	code, err := attestation.ExtractCodeIdentity(report, fixture.TcbInfo, report.TD10.RTMR3Hex())
	require.NoError(t, err)
	assert.Equal(t, interfaces.CodeIdentity("abc123"), code)
}

func TestExtractCodeIdentity_Rejections(t *testing.T) {
	appCompose := `{"name":"app"}`
	composeHash := sha256.Sum256([]byte(appCompose))
	fixture := attestationtest.NewFixture(composeHash[:], appCompose)

	mutate := func(fn func(info *attestation.TcbInfo)) []byte {
		info, err := attestation.ParseTcbInfo(fixture.TcbInfo)
		require.NoError(t, err)
		fn(info)
		doc, err := json.Marshal(info)
		require.NoError(t, err)
		return doc
	}

	tests := []struct {
		name    string
		report  func() *interfaces.VerifiedReport
		tcbInfo []byte
		rtmr3   string
	}{
		{
			name:    "not json",
			tcbInfo: []byte("not json"),
		},
		{
			name:  "rtmr3 argument does not belong to report",
			rtmr3: hex.EncodeToString(make([]byte, 48)),
		},
		{
			name: "report rtmr3 differs from event log",
			report: func() *interfaces.VerifiedReport {
				r := fixture.Report(testIdentity)
				r.TD10.Rtmrs[3][0] ^= 0xff
				return r
			},
		},
		{
			name: "event removed from log",
			tcbInfo: mutate(func(info *attestation.TcbInfo) {
				info.EventLog = info.EventLog[1:]
				info.Rtmr3 = ""
			}),
		},
		{
			name: "compose hash payload swapped",
			tcbInfo: mutate(func(info *attestation.TcbInfo) {
				for i := range info.EventLog {
					if info.EventLog[i].Event == attestation.ComposeHashEvent {
						info.EventLog[i].EventPayload = "abc123"
					}
				}
			}),
		},
		{
			name: "app compose does not match",
			tcbInfo: mutate(func(info *attestation.TcbInfo) {
				info.AppCompose = `{"name":"other"}`
			}),
		},
		{
			name: "mrtd mismatch",
			tcbInfo: mutate(func(info *attestation.TcbInfo) {
				info.Mrtd = hex.EncodeToString(make([]byte, 48))
			}),
		},
		{
			name: "document rtmr3 mismatch",
			tcbInfo: mutate(func(info *attestation.TcbInfo) {
				info.Rtmr3 = hex.EncodeToString(make([]byte, 48))
			}),
		},
		{
			name: "sgx report",
			report: func() *interfaces.VerifiedReport {
				return &interfaces.VerifiedReport{Variant: interfaces.VariantSGXEnclave}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := fixture.Report(testIdentity)
			if tt.report != nil {
				report = tt.report()
			}
			tcbInfo := fixture.TcbInfo
			if tt.tcbInfo != nil {
				tcbInfo = tt.tcbInfo
			}
			rtmr3 := hex.EncodeToString(fixture.Rtmr3[:])
			if tt.rtmr3 != "" {
				rtmr3 = tt.rtmr3
			}

			_, err := attestation.ExtractCodeIdentity(report, tcbInfo, rtmr3)
			assert.ErrorIs(t, err, interfaces.ErrCodeIdentityUnresolvable)
		})
	}
}

func TestExtractCodeIdentity_DuplicateComposeHash(t *testing.T) {
	fixture := attestationtest.NewFixture([]byte{0x01}, "")
	info, err := attestation.ParseTcbInfo(fixture.TcbInfo)
	require.NoError(t, err)

	for _, e := range info.EventLog {
		if e.Event == attestation.ComposeHashEvent {
			info.EventLog = append(info.EventLog, e)
			break
		}
	}
	rtmr3, err := attestation.ReplayRTMR(info.EventLog, 3)
	require.NoError(t, err)
	info.Rtmr3 = ""
	doc, err := json.Marshal(info)
	require.NoError(t, err)

	report := fixture.Report(testIdentity)
	report.TD10.Rtmrs[3] = rtmr3

	_, err = attestation.ExtractCodeIdentity(report, doc, report.TD10.RTMR3Hex())
	assert.ErrorIs(t, err, interfaces.ErrCodeIdentityUnresolvable)
}

func TestReplayRTMR(t *testing.T) {
	empty, err := attestation.ReplayRTMR(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, [48]byte{}, empty)

	_, err = attestation.ReplayRTMR([]attestation.EventLogEntry{{IMR: 3, Digest: "xyz"}}, 3)
	assert.Error(t, err)

	// Events for other registers do not change RTMR3.
	other, err := attestation.ReplayRTMR([]attestation.EventLogEntry{{IMR: 0, Digest: "00"}}, 3)
	require.NoError(t, err)
	assert.Equal(t, [48]byte{}, other)
}
