// Package clob is the order-submission client for the Polymarket CLOB.
//
// Authentication uses the L2 API-key scheme: key/passphrase headers plus an
// HMAC-SHA256 signature over timestamp+method+path+body.
package clob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Order statuses the CLOB reports for a freshly placed order. "matched" and
// "live" both mean the order was accepted.
const (
	StatusMatched = "matched"
	StatusLive    = "live"
)

// OrderResponse is the result of a submission.
type OrderResponse struct {
	OrderID string
	Status  string
}

// BalanceAllowance is the funder's collateral balance and spend allowance.
type BalanceAllowance struct {
	Balance   decimal.Decimal
	Allowance decimal.Decimal
}

// Client talks to the CLOB REST API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	funder     string
	httpClient *http.Client
}

// NewClient creates a CLOB client. Credentials are required; callers in
// dry-run mode never construct one.
func NewClient(baseURL, apiKey, apiSecret, passphrase, funder string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("clob base url required")
	}
	if apiKey == "" || apiSecret == "" || passphrase == "" {
		return nil, fmt.Errorf("clob api credentials required")
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		funder:     funder,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SubmitOrder places a good-till-cancelled limit order.
func (c *Client) SubmitOrder(ctx context.Context, tokenID string, price, size decimal.Decimal, side string, tickSize decimal.Decimal, negRisk bool) (OrderResponse, error) {
	payload := map[string]interface{}{
		"tokenID":     tokenID,
		"price":       price.String(),
		"size":        size.String(),
		"side":        strings.ToUpper(side),
		"orderType":   "GTC",
		"tickSize":    tickSize.String(),
		"negRisk":     negRisk,
		"feeRateBps":  "0",
		"nonce":       time.Now().UnixNano(),
		"owner":       c.funder,
	}

	body, err := c.post(ctx, "/order", payload)
	if err != nil {
		return OrderResponse{}, err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return OrderResponse{}, fmt.Errorf("parse order response: %w", err)
	}
	if result.Error != "" {
		return OrderResponse{}, fmt.Errorf("clob: %s", result.Error)
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Str("side", strings.ToUpper(side)).
		Str("price", price.StringFixed(2)).
		Str("size", size.String()).
		Msg("✅ Order submitted")

	return OrderResponse{OrderID: result.OrderID, Status: strings.ToLower(result.Status)}, nil
}

// CancelAll cancels every open order for the authenticated account.
func (c *Client) CancelAll(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/cancel-all", nil)
	return err
}

// GetBalanceAllowance returns collateral balance and allowance for the
// given asset kind ("COLLATERAL" or "CONDITIONAL").
func (c *Client) GetBalanceAllowance(ctx context.Context, assetKind string) (BalanceAllowance, error) {
	body, err := c.do(ctx, http.MethodGet, "/balance-allowance?asset_type="+assetKind, nil)
	if err != nil {
		return BalanceAllowance{}, err
	}

	var result struct {
		Balance   string `json:"balance"`
		Allowance string `json:"allowance"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return BalanceAllowance{}, fmt.Errorf("parse balance response: %w", err)
	}

	balance, _ := decimal.NewFromString(result.Balance)
	allowance, _ := decimal.NewFromString(result.Allowance)
	return BalanceAllowance{Balance: balance, Allowance: allowance}, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuthHeaders(req, method, path, body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("clob HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func (c *Client) addAuthHeaders(req *http.Request, method, path string, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_SIGNATURE", c.sign(timestamp, method, path, body))
}

// sign builds the base64url HMAC signature over timestamp+method+path+body.
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	secret, err := base64.URLEncoding.DecodeString(c.apiSecret)
	if err != nil {
		secret = []byte(c.apiSecret)
	}

	msg := timestamp + method + path
	if body != nil {
		msg += string(body)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
