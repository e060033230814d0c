package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testSecret = "c2VjcmV0LWtleS1mb3ItdGVzdHM=" // base64url of a fixed key

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "key", testSecret, "pass", "0xfunder")
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("https://clob.example.com", "", "sec", "pass", "0xfunder")
	require.Error(t, err)

	_, err = NewClient("", "key", "sec", "pass", "0xfunder")
	require.Error(t, err)
}

func TestSubmitOrderSignsRequest(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		capturedBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"orderID":"ord-9","status":"MATCHED"}`))
	})

	resp, err := c.SubmitOrder(context.Background(), "101",
		decimal.NewFromFloat(0.62), decimal.NewFromInt(16), "buy",
		decimal.NewFromFloat(0.01), false)
	require.NoError(t, err)
	require.Equal(t, "ord-9", resp.OrderID)
	// Status comparisons downstream are lowercase.
	require.Equal(t, StatusMatched, resp.Status)

	require.Equal(t, "key", captured.Header.Get("POLY_API_KEY"))
	require.Equal(t, "pass", captured.Header.Get("POLY_PASSPHRASE"))
	ts := captured.Header.Get("POLY_TIMESTAMP")
	require.NotEmpty(t, ts)

	secret, err := base64.URLEncoding.DecodeString(testSecret)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + http.MethodPost + "/order" + string(capturedBody)))
	require.Equal(t, base64.URLEncoding.EncodeToString(mac.Sum(nil)),
		captured.Header.Get("POLY_SIGNATURE"))
}

func TestSubmitOrderAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"not enough balance / allowance"}`))
	})

	_, err := c.SubmitOrder(context.Background(), "101",
		decimal.NewFromFloat(0.62), decimal.NewFromInt(16), "BUY",
		decimal.NewFromFloat(0.01), false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not enough balance")
}

func TestSubmitOrderHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := c.SubmitOrder(context.Background(), "101",
		decimal.NewFromFloat(0.62), decimal.NewFromInt(16), "BUY",
		decimal.NewFromFloat(0.01), false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestGetBalanceAllowance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		w.Write([]byte(`{"balance":"125.50","allowance":"1000"}`))
	})

	ba, err := c.GetBalanceAllowance(context.Background(), "COLLATERAL")
	require.NoError(t, err)
	require.True(t, ba.Balance.Equal(decimal.NewFromFloat(125.50)))
	require.True(t, ba.Allowance.Equal(decimal.NewFromInt(1000)))
}
