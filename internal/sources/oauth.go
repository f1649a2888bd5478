package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/normalize"
	"github.com/usagedeck/usagedeck/internal/token"
)

// OAuthSource fetches the provider's OAuth telemetry endpoint with a
// bearer token from the lifecycle manager. Billing-grade counts when it
// works; unusable whenever no valid token can be produced.
type OAuthSource struct {
	client    HTTPDoer
	tokens    *token.Manager
	norm      *normalize.Normalizer
	endpoints EndpointMap
	retry     RetryPolicy
	logger    *logging.Logger
	now       func() time.Time
}

// NewOAuthSource wires the OAuth chain member.
func NewOAuthSource(client HTTPDoer, tokens *token.Manager, norm *normalize.Normalizer, endpoints EndpointMap, retry RetryPolicy, logger *logging.Logger) *OAuthSource {
	return &OAuthSource{
		client:    client,
		tokens:    tokens,
		norm:      norm,
		endpoints: endpoints,
		retry:     retry,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *OAuthSource) Kind() models.SourceKind {
	return models.SourceOAuth
}

func (s *OAuthSource) Fetch(ctx context.Context, account *models.Account, window time.Duration) (*models.UsageRecord, error) {
	endpoints := s.endpoints.For(account)
	if endpoints.UsageURL == "" {
		return nil, fmt.Errorf("no telemetry endpoint for provider %s: %w", account.Provider, errors.ErrSourceInapplicable)
	}

	bearer, err := s.tokens.GetValidToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	var payload normalize.OAuthPayload
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.fetchTelemetry(ctx, endpoints.UsageURL, bearer, account.ID, &payload)
	})
	if err != nil {
		return nil, err
	}

	record := s.norm.OAuth(account, &payload, s.now())
	s.logger.DebugWithContext(ctx, "oauth telemetry fetched",
		"account_id", account.ID,
		"status", string(record.Status))
	if record.Status == models.StatusInactive {
		return nil, fmt.Errorf("%s: %w", record.StatusReason, errors.ErrSourceInapplicable)
	}
	return record, nil
}

func (s *OAuthSource) fetchTelemetry(ctx context.Context, url, bearer, accountID string, payload *normalize.OAuthPayload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &errors.ErrSourceUnreachable{Source: string(models.SourceOAuth), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// The token passed the lifecycle check but the endpoint
		// rejected it; drop it so the next cycle re-extracts.
		s.tokens.Invalidate(accountID)
		return fmt.Errorf("telemetry endpoint rejected bearer token: %w", errors.ErrCredentialUnavailable)
	case resp.StatusCode != http.StatusOK:
		return &errors.ErrSourceUnreachable{Source: string(models.SourceOAuth), Err: fmt.Errorf("telemetry status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return &errors.ErrSourceMalformed{Source: string(models.SourceOAuth), Err: err}
	}
	return nil
}
