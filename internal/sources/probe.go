package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/normalize"
)

// ProbeSource is the zero-credential baseline, an unauthenticated GET
// against a capability endpoint. It always yields a record: a minimal
// inactive one when the endpoint answers, an error-status one when
// nothing does. It is the only source that never falls through.
type ProbeSource struct {
	client    HTTPDoer
	norm      *normalize.Normalizer
	endpoints EndpointMap
	retry     RetryPolicy
	logger    *logging.Logger
	now       func() time.Time
}

// NewProbeSource wires the baseline chain member.
func NewProbeSource(client HTTPDoer, norm *normalize.Normalizer, endpoints EndpointMap, retry RetryPolicy, logger *logging.Logger) *ProbeSource {
	return &ProbeSource{
		client:    client,
		norm:      norm,
		endpoints: endpoints,
		retry:     retry,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *ProbeSource) Kind() models.SourceKind {
	return models.SourceProbe
}

func (s *ProbeSource) Fetch(ctx context.Context, account *models.Account, window time.Duration) (*models.UsageRecord, error) {
	url := s.endpoints.For(account).ProbeURL
	if url == "" {
		return s.norm.Probe(account, normalize.ProbeResult{Reachable: false}, s.now()), nil
	}

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.probe(ctx, url)
	})
	if err != nil {
		s.logger.WarnWithContext(ctx, "baseline probe failed",
			"account_id", account.ID,
			"error", err.Error())
		return s.norm.Probe(account, normalize.ProbeResult{Reachable: false}, s.now()), nil
	}
	return s.norm.Probe(account, normalize.ProbeResult{Reachable: true}, s.now()), nil
}

func (s *ProbeSource) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &errors.ErrSourceUnreachable{Source: string(models.SourceProbe), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// Any HTTP answer below the server-error range proves the endpoint
	// is alive; an auth challenge still counts as reachable.
	if resp.StatusCode >= http.StatusInternalServerError {
		return &errors.ErrSourceUnreachable{Source: string(models.SourceProbe), Err: fmt.Errorf("probe status %d", resp.StatusCode)}
	}
	return nil
}
