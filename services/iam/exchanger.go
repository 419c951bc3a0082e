package iam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/classifier-control-plane/config"
	"github.com/upb/classifier-control-plane/services"
	"go.uber.org/zap"
)

const (
	apiKeyGrantType = "urn:ibm:params:oauth:grant-type:apikey"

	errorCodeInvalidKey = "BXNIM0415E"
	errorCodeBlockedKey = "BXNIM0436E"
)

// TokenResponse represents the identity endpoint response for an API key exchange
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

type identityErrorResponse struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Exchanger trades a long-lived API key for a short-lived bearer token
type Exchanger interface {
	Exchange(ctx context.Context, apikey string) (*TokenResponse, error)
}

// HTTPExchanger exchanges API keys with the identity service over HTTP
type HTTPExchanger struct {
	tokenURL   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPExchanger creates a new identity token exchanger
func NewHTTPExchanger(cfg config.IdentityConfig, logger *zap.Logger) *HTTPExchanger {
	return &HTTPExchanger{
		tokenURL:   cfg.URL,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Exchange posts the API key to the identity service. Failures are returned as
// identity domain errors; the remote payload is only logged.
func (e *HTTPExchanger) Exchange(ctx context.Context, apikey string) (*TokenResponse, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	data := url.Values{
		"grant_type": {apiKeyGrantType},
		"apikey":     {apikey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, services.Derive(services.ErrIdentityUnknown, fmt.Errorf("create token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("identity token request failed", zap.Error(err))
		return nil, services.Derive(services.ErrIdentityUnknown, fmt.Errorf("token request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Derive(services.ErrIdentityUnknown, fmt.Errorf("read token response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, e.classifyFailure(resp.StatusCode, body)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, services.Derive(services.ErrIdentityUnknown, fmt.Errorf("parse token response: %w", err))
	}
	if tokenResp.AccessToken == "" {
		return nil, services.Derive(services.ErrIdentityUnknown, fmt.Errorf("no access_token in response"))
	}

	return &tokenResp, nil
}

func (e *HTTPExchanger) classifyFailure(statusCode int, body []byte) error {
	var errResp identityErrorResponse
	_ = json.Unmarshal(body, &errResp)

	e.logger.Warn("identity token exchange rejected",
		zap.Int("status", statusCode),
		zap.String("error_code", errResp.ErrorCode),
		zap.ByteString("body", body))

	cause := fmt.Errorf("identity service returned status %d (%s)", statusCode, errResp.ErrorCode)

	switch {
	case errResp.ErrorCode == errorCodeInvalidKey:
		return services.Derive(services.ErrInvalidAPIKey, cause)
	case errResp.ErrorCode == errorCodeBlockedKey:
		return services.Derive(services.ErrBlockedAPIKey, cause)
	case statusCode == http.StatusTooManyRequests:
		return services.Derive(services.ErrIdentityRateLimited, cause)
	default:
		return services.Derive(services.ErrIdentityUnknown, cause)
	}
}
