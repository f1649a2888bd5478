package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/usagedeck/usagedeck/internal/credstore"
	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/normalize"
	"github.com/usagedeck/usagedeck/pkg/headers"
)

const sessionCookieName = "__Secure-next-auth.session-token"

// SessionSource fetches usage through a live authenticated browser
// session: the stored session cookie is exchanged for a short-lived JWT
// at the provider's session endpoint, which then authorizes the usage
// endpoint. Highest fidelity, most fragile.
type SessionSource struct {
	client    HTTPDoer
	store     credstore.Store
	norm      *normalize.Normalizer
	parsers   *headers.Registry
	endpoints EndpointMap
	retry     RetryPolicy
	logger    *logging.Logger
	now       func() time.Time
}

// NewSessionSource wires the session chain member.
func NewSessionSource(client HTTPDoer, store credstore.Store, norm *normalize.Normalizer, parsers *headers.Registry, endpoints EndpointMap, retry RetryPolicy, logger *logging.Logger) *SessionSource {
	return &SessionSource{
		client:    client,
		store:     store,
		norm:      norm,
		parsers:   parsers,
		endpoints: endpoints,
		retry:     retry,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *SessionSource) Kind() models.SourceKind {
	return models.SourceSession
}

type sessionExchangeResponse struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (s *SessionSource) Fetch(ctx context.Context, account *models.Account, window time.Duration) (*models.UsageRecord, error) {
	endpoints := s.endpoints.For(account)
	if endpoints.SessionURL == "" || endpoints.UsageURL == "" {
		return nil, fmt.Errorf("no session endpoints for provider %s: %w", account.Provider, errors.ErrSourceInapplicable)
	}

	material, err := s.store.Extract(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	cookie := material.AccessToken
	if cookie == "" {
		return nil, fmt.Errorf("stored credential has no session token: %w", errors.ErrCredentialUnavailable)
	}

	var jwt, userID string
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		jwt, userID, err = s.exchangeCookie(ctx, endpoints.SessionURL, cookie)
		return err
	})
	if err != nil {
		return nil, err
	}

	var payload normalize.SessionPayload
	var respHeaders http.Header
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		respHeaders, err = s.fetchUsage(ctx, endpoints.UsageURL, jwt, userID, &payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	rate, _ := s.parsers.Parse(account.Provider, respHeaders)
	record := s.norm.Session(account, &payload, rate, s.now())
	s.logger.DebugWithContext(ctx, "session usage fetched",
		"account_id", account.ID,
		"status", string(record.Status))
	if record.Status == models.StatusInactive {
		return nil, fmt.Errorf("%s: %w", record.StatusReason, errors.ErrSourceInapplicable)
	}
	return record, nil
}

func (s *SessionSource) exchangeCookie(ctx context.Context, url, cookie string) (jwt, userID string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Cookie", sessionCookieName+"="+cookie)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", &errors.ErrSourceUnreachable{Source: string(models.SourceSession), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", "", fmt.Errorf("session cookie rejected (status %d): %w", resp.StatusCode, errors.ErrCredentialUnavailable)
	case resp.StatusCode != http.StatusOK:
		return "", "", &errors.ErrSourceUnreachable{Source: string(models.SourceSession), Err: fmt.Errorf("session exchange status %d", resp.StatusCode)}
	}

	var parsed sessionExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", &errors.ErrSourceMalformed{Source: string(models.SourceSession), Err: err}
	}
	if parsed.AccessToken == "" {
		return "", "", fmt.Errorf("session exchange returned no token: %w", errors.ErrCredentialUnavailable)
	}
	return parsed.AccessToken, parsed.User.ID, nil
}

func (s *SessionSource) fetchUsage(ctx context.Context, url, jwt, userID string, payload *normalize.SessionPayload) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	if userID != "" {
		req.Header.Set("X-Account-Id", userID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &errors.ErrSourceUnreachable{Source: string(models.SourceSession), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.Header, &errors.ErrSourceUnreachable{Source: string(models.SourceSession), Err: fmt.Errorf("usage endpoint status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return resp.Header, &errors.ErrSourceMalformed{Source: string(models.SourceSession), Err: err}
	}
	return resp.Header, nil
}
