package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollateralArg_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected CollateralArg
		wantErr  bool
	}{
		{name: "archive reference", body: `{"collateral":"archive:ab"}`, expected: "archive:ab"},
		{name: "inline object", body: `{"collateral": {"tcb_info":"{}"} }`, expected: `{"tcb_info":"{}"}`},
		{name: "missing", body: `{}`, expected: ""},
		{name: "null", body: `{"collateral":null}`, expected: ""},
		{name: "number", body: `{"collateral":12}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req RegisterWorkerRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, req.Collateral)
		})
	}
}

func TestSignRequest_HexPayload(t *testing.T) {
	var req SignRequest
	require.NoError(t, json.Unmarshal([]byte(`{"payload":"0x0102","path":"m/0","key_version":3}`), &req))
	assert.Equal(t, []byte{1, 2}, []byte(req.Payload))
	assert.Equal(t, uint32(3), req.KeyVersion)
}

func TestRequestEnvelope_PromotedFields(t *testing.T) {
	req := &CodehashRequest{Codehash: "abc123"}
	var stamper Stamper = req
	stamper.Stamp(time.Unix(1700000000, 0), "n-1")

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"codehash":"abc123","issued_at":1700000000,"nonce":"n-1"}`, string(data))

	var decoded CodehashRequest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(1700000000), decoded.IssuedAt)
	assert.Equal(t, "n-1", decoded.Nonce)
}
