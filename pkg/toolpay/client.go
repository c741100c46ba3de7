package toolpay

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

// Client talks to a toolpay platform instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the API key used for authenticated endpoints.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the platform at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode, Code: "unknown"}
		_ = json.Unmarshal(respBody, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// --- Registry ---

// ListTools returns registered tools, newest offsets first by tool ID.
func (c *Client) ListTools(ctx context.Context, limit, offset int) ([]*Tool, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var resp struct {
		Tools []*Tool `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tools", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// GetTool fetches a single tool listing.
func (c *Client) GetTool(ctx context.Context, toolID string) (*Tool, error) {
	var resp struct {
		Tool *Tool `json:"tool"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+toolID, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tool, nil
}

// RegisterToolParams describes a new tool listing.
type RegisterToolParams struct {
	ToolID      string `json:"toolId"`
	Price       string `json:"price"`
	Denom       string `json:"denom,omitempty"`
	Description string `json:"description,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// RegisterTool registers a tool under the authenticated provider.
func (c *Client) RegisterTool(ctx context.Context, params RegisterToolParams) (*Tool, error) {
	var resp struct {
		Tool *Tool `json:"tool"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/tools", nil, params, &resp); err != nil {
		return nil, err
	}
	return resp.Tool, nil
}

// UpdatePrice changes a tool's price ceiling. Provider only.
func (c *Client) UpdatePrice(ctx context.Context, toolID, price string) (*Tool, error) {
	var resp struct {
		Tool *Tool `json:"tool"`
	}
	body := map[string]string{"price": price}
	if err := c.do(ctx, http.MethodPost, "/v1/tools/"+toolID+"/price", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Tool, nil
}

// PauseTool stops a tool from accepting new escrows. Provider only.
func (c *Client) PauseTool(ctx context.Context, toolID string) error {
	return c.do(ctx, http.MethodPost, "/v1/tools/"+toolID+"/pause", nil, nil, nil)
}

// ResumeTool reactivates a paused tool. Provider only.
func (c *Client) ResumeTool(ctx context.Context, toolID string) error {
	return c.do(ctx, http.MethodPost, "/v1/tools/"+toolID+"/resume", nil, nil, nil)
}

// --- Escrow ---

// LockParams describes an escrow to open. Funds must equal MaxFee exactly
// in the tool's denom; the server rejects over- and underfunding.
type LockParams struct {
	ToolID    string `json:"toolId"`
	MaxFee    string `json:"maxFee"`
	AuthToken string `json:"authToken,omitempty"`
	Expires   uint64 `json:"expires"`
	Funds     Coin   `json:"funds"`
}

// LockFunds opens an escrow for the authenticated caller.
func (c *Client) LockFunds(ctx context.Context, params LockParams) (*LockResult, error) {
	var resp struct {
		Escrow *LockResult `json:"escrow"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/escrows", nil, params, &resp); err != nil {
		return nil, err
	}
	return resp.Escrow, nil
}

// GetEscrow fetches a pending escrow by ID.
func (c *Client) GetEscrow(ctx context.Context, id uint64) (*Escrow, error) {
	var resp struct {
		Escrow *Escrow `json:"escrow"`
	}
	path := "/v1/escrows/" + strconv.FormatUint(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Escrow, nil
}

// Release settles an escrow for the metered usage fee. The authenticated
// account must be the tool's current provider.
func (c *Client) Release(ctx context.Context, id uint64, usageFee string) error {
	path := "/v1/escrows/" + strconv.FormatUint(id, 10) + "/release"
	body := map[string]string{"usageFee": usageFee}
	return c.do(ctx, http.MethodPost, path, nil, body, nil)
}

// RefundExpired refunds an escrow whose expiry height has passed.
func (c *Client) RefundExpired(ctx context.Context, id uint64) error {
	path := "/v1/escrows/" + strconv.FormatUint(id, 10) + "/refund"
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// --- Fees ---

// CollectedFees returns the protocol's accrued fees.
func (c *Client) CollectedFees(ctx context.Context) (*Fees, error) {
	var resp struct {
		Fees *Fees `json:"fees"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/fees", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Fees, nil
}

// ClaimFees pays accrued fees out to the owner. Owner only. An empty
// denom claims every denomination with a balance.
func (c *Client) ClaimFees(ctx context.Context, denom string) error {
	var body any
	if denom != "" {
		body = map[string]string{"denom": denom}
	}
	return c.do(ctx, http.MethodPost, "/v1/fees/claim", nil, body, nil)
}

// --- Accounts ---

// Balances returns an account's balances across all denoms.
func (c *Client) Balances(ctx context.Context, address string) ([]*Balance, error) {
	var resp struct {
		Balances []*Balance `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+address+"/balances", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

// --- Platform ---

// Height returns the platform's view of the current block height. Use it
// to compute the expires height for LockFunds.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	var resp struct {
		Height uint64 `json:"height"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/heights", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}
