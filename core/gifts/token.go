package gifts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/scwee/autogift/core/logger"
)

// Credentials is the auth payload for the remote gifting API.
type Credentials struct {
	Login    string
	Password string
}

// expirySkew keeps us from handing out a token that dies mid-request.
const expirySkew = 30 * time.Second

// defaultTokenTTL applies when the auth response carries no valid_thru.
const defaultTokenTTL = 2 * time.Hour

// TokenManager lazily acquires and caches one bearer token per credential
// pair. Refresh happens on the first Token call after expiry; there is no
// background refresh. Concurrent refreshes may race, last writer wins, and
// no caller ever observes a token without its matching expiry.
type TokenManager struct {
	creds       Credentials
	baseURL     string
	client      *http.Client
	authTimeout time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time

	now func() time.Time
}

// NewTokenManager builds a manager for one credential pair.
func NewTokenManager(baseURL string, creds Credentials, client *http.Client, authTimeout time.Duration) *TokenManager {
	if client == nil {
		client = http.DefaultClient
	}
	if authTimeout <= 0 {
		authTimeout = 10 * time.Second
	}
	return &TokenManager{
		creds:       creds,
		baseURL:     baseURL,
		client:      client,
		authTimeout: authTimeout,
		now:         time.Now,
	}
}

// Token returns a valid bearer token, reusing the cache when possible.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && m.now().Before(m.expiry.Add(-expirySkew)) {
		token := m.token
		m.mu.Unlock()
		// cache hits happen on every API call; sample them
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "gifts.auth", "token.cache", slog.String("cache", "hit"))
		}
		return token, nil
	}
	m.mu.Unlock()

	// No lock across the network call: concurrent callers may both refresh,
	// the committed pair of the last writer wins.
	token, expiry, err := m.authenticate(ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.token = token
	m.expiry = expiry
	m.mu.Unlock()

	logger.Info(ctx, "gifts.auth", "token.refresh",
		slog.String("cache", "refresh"),
		slog.Time("valid_thru", expiry),
	)
	return token, nil
}

// Invalidate drops the cached token if it is still the one the caller saw
// fail. The next Token call re-authenticates.
func (m *TokenManager) Invalidate(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" || m.token == token {
		m.token = ""
		m.expiry = time.Time{}
	}
}

type authResponse struct {
	Token       string          `json:"token"`
	AccessToken string          `json:"access_token"`
	ValidThru   json.Number     `json:"valid_thru"`
	Data        json.RawMessage `json:"data"`
}

func (m *TokenManager) authenticate(ctx context.Context) (string, time.Time, error) {
	start := m.now()
	payload, err := json.Marshal(map[string]string{
		"email":    m.creds.Login,
		"password": m.creds.Password,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gifts: marshal auth payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.baseURL+"/get_token", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gifts: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		logger.Error(ctx, "gifts.auth", "token.request",
			slog.String("status", "fail"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return "", time.Time{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, &NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", time.Time{}, &AuthError{Reason: "invalid credentials"}
	case resp.StatusCode == http.StatusForbidden:
		return "", time.Time{}, &AuthError{Reason: "forbidden"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", time.Time{}, &NetworkError{Status: resp.StatusCode, Body: string(body)}
	}

	token, validThru, perr := parseAuthResponse(body)
	if perr != nil {
		return "", time.Time{}, perr
	}

	expiry := m.now().Add(defaultTokenTTL)
	if validThru > 0 {
		expiry = time.Unix(validThru, 0)
	}

	logger.Debug(ctx, "gifts.auth", "token.request",
		slog.String("status", "ok"),
		slog.Duration("duration", logger.Took(start)),
	)
	return token, expiry, nil
}

// parseAuthResponse tolerates the documented shape variance of the auth
// endpoint: the token may live at the top level under "token" or
// "access_token", or nested inside a "data" object.
func parseAuthResponse(body []byte) (string, int64, error) {
	var ar authResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return "", 0, &ProtocolError{Msg: fmt.Sprintf("undecodable auth response: %v", err)}
	}

	token := ar.Token
	if token == "" {
		token = ar.AccessToken
	}
	validThru := ar.ValidThru

	if token == "" && len(ar.Data) > 0 {
		var nested authResponse
		if err := json.Unmarshal(ar.Data, &nested); err == nil {
			token = nested.Token
			if token == "" {
				token = nested.AccessToken
			}
			if validThru == "" {
				validThru = nested.ValidThru
			}
		}
	}

	if token == "" {
		return "", 0, &ProtocolError{Msg: "no token field in auth response"}
	}

	var expiry int64
	if validThru != "" {
		// valid_thru arrives as Unix seconds, sometimes with a fraction
		if f, err := validThru.Float64(); err == nil {
			expiry = int64(f)
		}
	}
	return token, expiry, nil
}
