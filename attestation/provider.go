package attestation

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"
	tdx_client "github.com/google/go-tdx-guest/client"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// QuoteProvider produces a raw quote embedding reportData.
type QuoteProvider interface {
	Attest(reportData [64]byte) ([]byte, error)
}

// DCAPQuoteProvider obtains quotes from the local TDX guest, preferring the
// configfs-tsm interface and falling back to the TDX guest device.
type DCAPQuoteProvider struct{}

func (DCAPQuoteProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// RemoteQuoteProvider asks a quote service at Address for a quote.
type RemoteQuoteProvider struct {
	Address string
}

func (p *RemoteQuoteProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(reportData[:]))
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// TcbInfoSource returns the TCB-info document of the running application.
type TcbInfoSource interface {
	TcbInfo(ctx context.Context) (string, error)
}

// DstackTcbInfoSource reads the TCB-info document from the dstack guest agent.
type DstackTcbInfoSource struct {
	client *dstacksdk.DstackClient
}

// NewDstackTcbInfoSource connects to the guest agent at endpoint, or the
// default socket when endpoint is empty.
func NewDstackTcbInfoSource(endpoint string) *DstackTcbInfoSource {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackTcbInfoSource{client: dstacksdk.NewDstackClient(opts...)}
}

func (s *DstackTcbInfoSource) TcbInfo(ctx context.Context) (string, error) {
	info, err := s.client.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("dstack info: %w", err)
	}
	return info.TcbInfo, nil
}

// Evidence is what a worker submits at admission.
type Evidence struct {
	QuoteHex string
	TcbInfo  string
}

// CollectEvidence produces a quote bound to identity together with the
// application's TCB-info document.
func CollectEvidence(ctx context.Context, identity interfaces.Identity, quotes QuoteProvider, tcbInfo TcbInfoSource) (*Evidence, error) {
	reportData, err := ReportDataForIdentity(identity)
	if err != nil {
		return nil, err
	}

	quote, err := quotes.Attest(reportData)
	if err != nil {
		return nil, fmt.Errorf("obtaining quote: %w", err)
	}

	doc, err := tcbInfo.TcbInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining tcb info: %w", err)
	}

	return &Evidence{QuoteHex: hex.EncodeToString(quote), TcbInfo: doc}, nil
}

// FileTcbInfoSource reads a saved TCB-info document.
type FileTcbInfoSource string

func (f FileTcbInfoSource) TcbInfo(ctx context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("reading tcb info: %w", err)
	}
	return string(data), nil
}
