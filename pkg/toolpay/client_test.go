package toolpay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, func()) {
	ts := httptest.NewServer(handler)
	return NewClient(ts.URL, WithAPIKey("sk_test")), ts.Close
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"tools":[]}`))
	})
	defer cleanup()

	_, err := c.ListTools(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_test", gotAuth)
}

func TestGetTool(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tools/summarize", r.URL.Path)
		_, _ = w.Write([]byte(`{"tool":{"toolId":"summarize","provider":"0xprovider","price":"1000000","denom":"untrn","active":true}}`))
	})
	defer cleanup()

	tool, err := c.GetTool(context.Background(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, "summarize", tool.ToolID)
	assert.Equal(t, "1000000", tool.Price)
	assert.True(t, tool.Active)
}

func TestGetToolNotFound(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "not_found",
			"message": "Tool not found",
		})
	})
	defer cleanup()

	_, err := c.GetTool(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestLockFunds(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		assert.Equal(t, "summarize", body["toolId"])
		assert.Equal(t, "1000000", body["maxFee"])

		funds, ok := body["funds"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "1000000", funds["amount"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"escrow":{"escrowId":42,"denom":"untrn"}}`))
	})
	defer cleanup()

	result, err := c.LockFunds(context.Background(), LockParams{
		ToolID:  "summarize",
		MaxFee:  "1000000",
		Expires: 150,
		Funds:   Coin{Denom: "untrn", Amount: "1000000"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result.EscrowID)
	assert.Equal(t, "untrn", result.Denom)
}

func TestReleaseErrorSurfacesMessage(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escrows/42/release", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "fee_exceeds_ceiling",
			"message": "Usage fee exceeds the escrow ceiling",
		})
	})
	defer cleanup()

	err := c.Release(context.Background(), 42, "2000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_exceeds_ceiling")
	assert.Contains(t, err.Error(), "ceiling")
}

func TestCollectedFees(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/fees", r.URL.Path)
		_, _ = w.Write([]byte(`{"fees":{"owner":"0xowner","feePercent":10,"balances":{"untrn":"60000"}}}`))
	})
	defer cleanup()

	fees, err := c.CollectedFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), fees.FeePercent)
	assert.Equal(t, "60000", fees.Balances["untrn"])
}

func TestClaimFeesAllDenoms(t *testing.T) {
	var bodyLen int64
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		bodyLen = r.ContentLength
		_, _ = w.Write([]byte(`{"status":"claimed"}`))
	})
	defer cleanup()

	// No denom means no request body; the server claims everything.
	err := c.ClaimFees(context.Background(), "")
	require.NoError(t, err)
	assert.LessOrEqual(t, bodyLen, int64(0))
}

func TestHeight(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"height":1234}`))
	})
	defer cleanup()

	h, err := c.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), h)
}

func TestBalances(t *testing.T) {
	c, cleanup := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/0xabc/balances", r.URL.Path)
		_, _ = w.Write([]byte(`{"address":"0xabc","balances":[{"denom":"untrn","available":"5000000"}]}`))
	})
	defer cleanup()

	balances, err := c.Balances(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "5000000", balances[0].Available)
}
