// Package gifts implements the authenticated client for the remote
// NS.Gifts-style gifting API: token lifecycle, balance checks, and gift
// dispatch with a typed failure taxonomy.
package gifts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/scwee/autogift/core/logger"
)

// Region selects the store region a gift is purchased for.
type Region string

const (
	RegionRU Region = "ru"
	RegionUA Region = "ua"
	RegionKZ Region = "kz"
)

// ParseRegion normalizes a region string, defaulting to RegionRU.
func ParseRegion(s string) Region {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ua":
		return RegionUA
	case "kz":
		return RegionKZ
	case "", "ru":
		return RegionRU
	default:
		return Region(strings.ToLower(strings.TrimSpace(s)))
	}
}

// FulfillmentRequest describes one dispatch attempt. Immutable once built.
type FulfillmentRequest struct {
	Target   string
	GiftName string
	Region   Region
}

// FailureReason classifies expected remote rejections of a dispatch.
type FailureReason string

const (
	// ReasonInsufficientBalance drives the auto-refund branch.
	ReasonInsufficientBalance FailureReason = "insufficient_balance"
	// ReasonOther covers every other remote business-rule rejection.
	ReasonOther FailureReason = "other"
)

// DispatchResult is the outcome of SendGift. Expected remote rejections land
// here as OK=false with a reason instead of an error, so callers branch on
// remediation without error-based control flow.
type DispatchResult struct {
	OK      bool
	Reason  FailureReason
	Message string
	Details map[string]any
}

// Config holds client construction parameters.
type Config struct {
	BaseURL         string
	Credentials     Credentials
	HTTPClient      *http.Client
	AuthTimeout     time.Duration
	BalanceTimeout  time.Duration
	DispatchTimeout time.Duration
	// GiftDescription is attached to every outbound order.
	GiftDescription string
}

const defaultGiftDescription = "Спасибо за покупку!"

// Client talks to the gifting API with transparent token handling.
type Client struct {
	baseURL         string
	http            *http.Client
	tokens          *TokenManager
	balanceTimeout  time.Duration
	dispatchTimeout time.Duration
	giftDescription string
}

// NewClient builds a Client and its owned TokenManager.
func NewClient(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	balanceTimeout := cfg.BalanceTimeout
	if balanceTimeout <= 0 {
		balanceTimeout = 10 * time.Second
	}
	dispatchTimeout := cfg.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = 30 * time.Second
	}
	desc := cfg.GiftDescription
	if desc == "" {
		desc = defaultGiftDescription
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		baseURL:         base,
		http:            httpc,
		tokens:          NewTokenManager(base, cfg.Credentials, httpc, cfg.AuthTimeout),
		balanceTimeout:  balanceTimeout,
		dispatchTimeout: dispatchTimeout,
		giftDescription: desc,
	}
}

// Tokens exposes the token manager, mainly for tests and diagnostics.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

type balanceResponse struct {
	Success bool        `json:"success"`
	Balance json.Number `json:"balance"`
	Error   string      `json:"error"`
}

// GetBalance fetches the current account balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	start := time.Now()
	body, _, err := c.do(ctx, http.MethodGet, "/check_balance", nil, c.balanceTimeout)
	if err != nil {
		return decimal.Zero, err
	}

	var br balanceResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return decimal.Zero, &ProtocolError{Msg: fmt.Sprintf("undecodable balance response: %v", err)}
	}
	if !br.Success {
		msg := br.Error
		if msg == "" {
			msg = "unknown"
		}
		return decimal.Zero, &APIError{Message: msg}
	}

	balance := decimal.Zero
	if br.Balance != "" {
		parsed, perr := decimal.NewFromString(br.Balance.String())
		if perr != nil {
			return decimal.Zero, &ProtocolError{Msg: fmt.Sprintf("bad balance value %q", br.Balance)}
		}
		balance = parsed
	}

	logger.Debug(ctx, "gifts.api", "balance.check",
		slog.String("status", "ok"),
		slog.String("balance", balance.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return balance, nil
}

type dispatchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SendGift places a gift order against the remote API. Transport, auth, and
// protocol failures return an error; remote business rejections return a
// DispatchResult with OK=false.
func (c *Client) SendGift(ctx context.Context, req FulfillmentRequest) (*DispatchResult, error) {
	start := time.Now()
	payload := map[string]any{
		"friendLink":      req.Target,
		"sub_id":          0,
		"region":          string(req.Region),
		"giftName":        req.GiftName,
		"giftDescription": c.giftDescription,
	}

	body, _, err := c.do(ctx, http.MethodPost, "/steam_gift/create_order", payload, c.dispatchTimeout)
	if err != nil {
		logger.Error(ctx, "gifts.api", "dispatch",
			slog.String("status", "fail"),
			slog.String("game", req.GiftName),
			slog.String("region", string(req.Region)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	var dr dispatchResponse
	details := map[string]any{}
	if uerr := json.Unmarshal(body, &dr); uerr != nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("undecodable dispatch response: %v", uerr)}
	}
	_ = json.Unmarshal(body, &details)

	if !dr.Success {
		msg := dr.Error
		if msg == "" {
			msg = "unknown error"
		}
		reason := classifyRejection(msg)
		logger.Warn(ctx, "gifts.api", "dispatch",
			slog.String("status", "fail"),
			slog.String("outcome", "fail"),
			slog.String("game", req.GiftName),
			slog.String("err", msg),
			slog.String("err_code", string(reason)),
			slog.Duration("duration", logger.Took(start)),
		)
		return &DispatchResult{OK: false, Reason: reason, Message: msg, Details: details}, nil
	}

	logger.Info(ctx, "gifts.api", "dispatch",
		slog.String("status", "ok"),
		slog.String("outcome", "ok"),
		slog.String("game", req.GiftName),
		slog.String("region", string(req.Region)),
		slog.Duration("duration", logger.Took(start)),
	)
	return &DispatchResult{OK: true, Details: details}, nil
}

// classifyRejection splits balance-exhaustion failures from all others; the
// distinction drives the engine's refund policy.
func classifyRejection(msg string) FailureReason {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "insufficient") || strings.Contains(lower, "balance") {
		return ReasonInsufficientBalance
	}
	return ReasonOther
}

// do performs one authenticated request. A 401 invalidates the cached token
// so the next attempt re-authenticates.
func (c *Client) do(ctx context.Context, method, path string, payload any, timeout time.Duration) ([]byte, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var reqBody io.Reader
	if payload != nil {
		data, merr := json.Marshal(payload)
		if merr != nil {
			return nil, 0, fmt.Errorf("gifts: marshal request: %w", merr)
		}
		reqBody = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("gifts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, &NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate(token)
		return nil, resp.StatusCode, &AuthError{Reason: "token rejected"}
	case resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, &AuthError{Reason: "forbidden"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, resp.StatusCode, &NetworkError{Status: resp.StatusCode, Body: string(body)}
	}

	return body, resp.StatusCode, nil
}
