package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the toolpay platform.
type Config struct {
	APIURL         string // Base URL, e.g. "http://localhost:8080"
	APIKey         string // API key, e.g. "sk_..."
	AccountAddress string // Caller's account address, e.g. "0x..."
}

// ToolpayClient is a pure HTTP client for the toolpay platform API.
type ToolpayClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewToolpayClient creates a new client for the toolpay platform.
func NewToolpayClient(cfg Config) *ToolpayClient {
	return &ToolpayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *ToolpayClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListTools lists tools registered on the platform.
func (c *ToolpayClient) ListTools(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/tools", q, nil)
}

// GetTool fetches a single tool listing.
func (c *ToolpayClient) GetTool(ctx context.Context, toolID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tools/"+toolID, nil, nil)
}

// GetBalances returns the caller's account balances across all denoms.
func (c *ToolpayClient) GetBalances(ctx context.Context) (json.RawMessage, error) {
	path := "/v1/accounts/" + c.cfg.AccountAddress + "/balances"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// GetHeight returns the platform's view of the current block height.
func (c *ToolpayClient) GetHeight(ctx context.Context) (uint64, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/heights", nil, nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("parse height: %w", err)
	}
	return resp.Height, nil
}

// GetPlatform returns platform parameters (fee percent, TTL, default denom).
func (c *ToolpayClient) GetPlatform(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/platform", nil, nil)
}

// LockFunds opens an escrow for a tool call, funding it with exactly maxFee.
func (c *ToolpayClient) LockFunds(ctx context.Context, toolID, maxFee, denom string, expires uint64) (json.RawMessage, error) {
	body := map[string]any{
		"toolId":  toolID,
		"maxFee":  maxFee,
		"expires": expires,
		"funds": map[string]string{
			"denom":  denom,
			"amount": maxFee,
		},
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// GetEscrow fetches a single escrow by ID.
func (c *ToolpayClient) GetEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+escrowID, nil, nil)
}

// ReleaseEscrow settles an escrow with the metered usage fee. Only the
// tool's provider may call this.
func (c *ToolpayClient) ReleaseEscrow(ctx context.Context, escrowID, usageFee string) (json.RawMessage, error) {
	body := map[string]string{"usageFee": usageFee}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/release", nil, body)
}

// RefundExpired refunds an escrow whose expiry height has passed.
func (c *ToolpayClient) RefundExpired(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+escrowID+"/refund", nil, nil)
}

// GetCollectedFees returns the protocol's accrued fees per denom.
func (c *ToolpayClient) GetCollectedFees(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/fees", nil, nil)
}

// CallEndpoint makes a direct HTTP POST to a tool endpoint with escrow headers.
// The provider meters usage and settles the escrow out of band.
func (c *ToolpayClient) CallEndpoint(ctx context.Context, endpoint string, params map[string]any, escrowID, authToken string) (json.RawMessage, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Escrow-ID", escrowID)
	req.Header.Set("X-Escrow-Caller", c.cfg.AccountAddress)
	if authToken != "" {
		req.Header.Set("X-Escrow-Auth", authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tool response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}
