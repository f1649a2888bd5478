package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
)

const maxTokenResponseBytes = 1 << 20

// Refresher exchanges refresh secrets for fresh access tokens at an
// OAuth token endpoint.
type Refresher struct {
	tokenURL string
	clientID string
	client   *http.Client
	now      func() time.Time
}

// NewRefresher creates a refresher for the given token endpoint.
func NewRefresher(tokenURL, clientID string, client *http.Client) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Refresher{
		tokenURL: tokenURL,
		clientID: clientID,
		client:   client,
		now:      time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Refresh performs the refresh_token grant. An invalid_grant response
// means the secret itself was revoked or expired and maps to
// errors.ErrCredentialExpired; anything else is transient.
func (r *Refresher) Refresh(ctx context.Context, refreshSecret string) (*Material, error) {
	if strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.ErrCredentialUnavailable
	}

	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", refreshSecret)
	if r.clientID != "" {
		values.Set("client_id", r.clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call token endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var terr tokenErrorResponse
		if json.Unmarshal(body, &terr) == nil && terr.Error == "invalid_grant" {
			return nil, fmt.Errorf("issuer rejected refresh secret: %w", errors.ErrCredentialExpired)
		}
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access token")
	}

	material := &Material{
		AccessToken:   tokens.AccessToken,
		RefreshSecret: tokens.RefreshToken,
		ExpiresAt:     r.now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	return material, nil
}
