package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/signature"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// SignerClient delivers signature requests to a threshold-signing service
// at <base>/v1/sign. Connection errors and 5xx answers are retried.
type SignerClient struct {
	baseURL string
	client  *retryablehttp.Client
	signer  *signature.Signer
}

// NewSignerClient creates a client retrying each delivery up to retryMax times.
// Request bodies are signed by signer so the service can authenticate the
// gateway and derive keys for it.
func NewSignerClient(baseURL string, retryMax int, signer *signature.Signer, log *slog.Logger) (*SignerClient, error) {
	if signer == nil {
		return nil, errors.New("signer client requires a request signer")
	}
	if log == nil {
		log = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = log

	return &SignerClient{baseURL: baseURL, client: client, signer: signer}, nil
}

func (c *SignerClient) Submit(ctx context.Context, req *interfaces.SignatureRequest) error {
	signerReq := api.NewSignerRequest(req)
	// Retries resend the same nonce. The service only consumes a nonce once
	// it has answered without a server error.
	signerReq.Stamp(time.Now(), uuid.NewString())
	body, err := json.Marshal(signerReq)
	if err != nil {
		return fmt.Errorf("failed to marshal signer request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sign", body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	sig, err := c.signer.Create(body)
	if err != nil {
		return fmt.Errorf("failed to sign signer request: %w", err)
	}
	httpReq.Header.Set(api.SignatureHeader, sig)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("signer request %s failed: %w", req.RequestID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("signer returned %d for request %s: %s", resp.StatusCode, req.RequestID, string(msg))
	}
	return nil
}
