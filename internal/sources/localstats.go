package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/normalize"
)

// LocalStatsSource estimates usage from the derived-statistics file a
// provider CLI maintains on disk. No credential needed; the numbers are
// extrapolated from local activity logs, not authoritative counters.
type LocalStatsSource struct {
	norm      *normalize.Normalizer
	endpoints EndpointMap
	logger    *logging.Logger
	now       func() time.Time
}

// NewLocalStatsSource wires the local-statistics chain member.
func NewLocalStatsSource(norm *normalize.Normalizer, endpoints EndpointMap, logger *logging.Logger) *LocalStatsSource {
	return &LocalStatsSource{
		norm:      norm,
		endpoints: endpoints,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *LocalStatsSource) Kind() models.SourceKind {
	return models.SourceLocalStats
}

func (s *LocalStatsSource) Fetch(ctx context.Context, account *models.Account, window time.Duration) (*models.UsageRecord, error) {
	path := s.endpoints.For(account).StatsPath
	if path == "" {
		return nil, fmt.Errorf("no stats path configured for account %s: %w", account.ID, errors.ErrSourceInapplicable)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stats cache %s absent: %w", path, errors.ErrSourceInapplicable)
		}
		return nil, &errors.ErrSourceUnreachable{Source: string(models.SourceLocalStats), Err: err}
	}

	var stats normalize.StatsCache
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, &errors.ErrSourceMalformed{Source: string(models.SourceLocalStats), Err: err}
	}

	record := s.norm.LocalStats(account, &stats, window, s.now())
	s.logger.DebugWithContext(ctx, "local stats estimated",
		"account_id", account.ID,
		"requests", record.Requests)
	if record.Status == models.StatusInactive {
		return nil, fmt.Errorf("%s: %w", record.StatusReason, errors.ErrSourceInapplicable)
	}
	return record, nil
}
