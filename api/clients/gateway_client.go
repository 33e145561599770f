package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flashbots/go-utils/signature"
	"github.com/google/uuid"
	"github.com/ruteri/tee-signing-gateway/api"
	"github.com/ruteri/tee-signing-gateway/interfaces"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Message    string
	Stage      string
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("gateway returned %d: %s (stage %s)", e.StatusCode, e.Message, e.Stage)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// GatewayClient calls the gateway API as the identity of its signer.
type GatewayClient struct {
	baseURL    string
	signer     *signature.Signer
	httpClient *http.Client
}

func NewGatewayClient(baseURL string, signer *signature.Signer) *GatewayClient {
	return &GatewayClient{
		baseURL:    baseURL,
		signer:     signer,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Identity is the caller identity the gateway will see.
func (c *GatewayClient) Identity() interfaces.Identity {
	return interfaces.IdentityFromAddress(c.signer.Address())
}

func (c *GatewayClient) RegisterWorker(ctx context.Context, req *api.RegisterWorkerRequest) (bool, error) {
	var resp api.RegisterWorkerResponse
	if err := c.post(ctx, "/api/v1/workers/register", req, &resp); err != nil {
		return false, err
	}
	return resp.Registered, nil
}

func (c *GatewayClient) ApproveCodehash(ctx context.Context, codehash string) (*api.CodehashResponse, error) {
	var resp api.CodehashResponse
	if err := c.post(ctx, "/api/v1/codehashes/approve", &api.CodehashRequest{Codehash: codehash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) RevokeCodehash(ctx context.Context, codehash string) (*api.CodehashResponse, error) {
	var resp api.CodehashResponse
	if err := c.post(ctx, "/api/v1/codehashes/revoke", &api.CodehashRequest{Codehash: codehash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) Sign(ctx context.Context, req *api.SignRequest) (*api.SignResponse, error) {
	var resp api.SignResponse
	if err := c.post(ctx, "/api/v1/sign", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) ListCodehashes(ctx context.Context) ([]interfaces.CodeIdentity, error) {
	var resp api.CodehashListResponse
	if err := c.get(ctx, "/api/v1/codehashes", &resp); err != nil {
		return nil, err
	}
	return resp.Codehashes, nil
}

func (c *GatewayClient) IsApproved(ctx context.Context, codehash string) (bool, error) {
	var resp api.CodehashResponse
	if err := c.get(ctx, "/api/v1/codehashes/"+url.PathEscape(codehash), &resp); err != nil {
		return false, err
	}
	return resp.Approved, nil
}

func (c *GatewayClient) GetWorker(ctx context.Context, identity interfaces.Identity) (*api.WorkerResponse, error) {
	var resp api.WorkerResponse
	if err := c.get(ctx, "/api/v1/workers/"+url.PathEscape(identity.String()), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) Owner(ctx context.Context) (interfaces.Identity, error) {
	var resp api.OwnerResponse
	if err := c.get(ctx, "/api/v1/owner", &resp); err != nil {
		return "", err
	}
	return resp.Owner, nil
}

// post stamps body with a fresh envelope, signs it and sends it.
func (c *GatewayClient) post(ctx context.Context, path string, body api.Stamper, out any) error {
	body.Stamp(time.Now(), uuid.NewString())
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	sig, err := c.signer.Create(payload)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.SignatureHeader, sig)

	return c.do(req, out)
}

func (c *GatewayClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *GatewayClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var errResp api.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Stage = errResp.Stage
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
