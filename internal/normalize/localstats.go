package normalize

import (
	"time"

	"github.com/usagedeck/usagedeck/internal/models"
)

// StatsCache mirrors the derived-statistics JSON written by provider
// CLIs. Only the per-day series matter here; lifetime totals are kept
// for the activity check.
type StatsCache struct {
	Version          int                       `json:"version"`
	LastComputedDate string                    `json:"lastComputedDate"`
	DailyActivity    []DailyActivity           `json:"dailyActivity"`
	DailyModelTokens []DailyModelTokens        `json:"dailyModelTokens"`
	ModelUsage       map[string]CachedModelUse `json:"modelUsage"`
	TotalSessions    int                       `json:"totalSessions"`
	TotalMessages    int                       `json:"totalMessages"`
}

// DailyActivity is one day's request-level activity.
type DailyActivity struct {
	Date          string `json:"date"`
	MessageCount  uint64 `json:"messageCount"`
	SessionCount  uint64 `json:"sessionCount"`
	ToolCallCount uint64 `json:"toolCallCount"`
}

// DailyModelTokens is one day's token consumption keyed by model.
type DailyModelTokens struct {
	Date          string            `json:"date"`
	TokensByModel map[string]uint64 `json:"tokensByModel"`
}

// CachedModelUse is a lifetime per-model tally, used only for plan
// detection and cost fallback ratios.
type CachedModelUse struct {
	InputTokens              uint64  `json:"inputTokens"`
	OutputTokens             uint64  `json:"outputTokens"`
	CacheReadInputTokens     uint64  `json:"cacheReadInputTokens"`
	CacheCreationInputTokens uint64  `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUSD"`
}

const statsDateLayout = "2006-01-02"

// LocalStats estimates usage for the requested window from the bounded
// recent slice of the daily series. The numbers are statistical
// estimates derived from local activity logs, not billing-grade
// counters; the one property they keep is monotonicity, more recorded
// activity never lowers the estimate.
func (n *Normalizer) LocalStats(account *models.Account, stats *StatsCache, window time.Duration, now time.Time) *models.UsageRecord {
	record := &models.UsageRecord{
		AccountID:   account.ID,
		Status:      models.StatusActive,
		Source:      models.SourceLocalStats,
		CollectedAt: now,
	}
	if stats == nil {
		record.Status = models.StatusInactive
		record.StatusReason = "stats cache empty"
		return record
	}

	cutoff := now.Add(-window)
	var requests uint64
	for _, day := range stats.DailyActivity {
		if dayInWindow(day.Date, cutoff, now) {
			requests += day.MessageCount
		}
	}
	record.Requests = requests

	var tokens models.TokenCount
	var cost models.CostUSD
	perModel := map[string]models.TokenCount{}
	for _, day := range stats.DailyModelTokens {
		if !dayInWindow(day.Date, cutoff, now) {
			continue
		}
		for model, count := range day.TokensByModel {
			perModel[model] += models.TokenCount(count)
		}
	}
	if len(perModel) > 0 {
		breakdown := make([]models.ModelUsage, 0, len(perModel))
		for model, count := range perModel {
			// The daily series does not split input from output, so
			// price the whole count at the model's input rate. The
			// estimate stays monotonic either way.
			modelCost := n.prices.EstimateCost(model, TokenTally{Input: count})
			breakdown = append(breakdown, models.ModelUsage{
				Model:  model,
				Tokens: count,
				Cost:   modelCost,
			})
			tokens += count
			cost += modelCost
		}
		record.ModelBreakdown = breakdown
		record.Tokens = &tokens
		record.Cost = cost.Round()
	}

	if account.QuotaCeiling > 0 && requests > 0 {
		record.Quota = clampQuota(&models.QuotaWindow{
			Limit: account.QuotaCeiling,
			Used:  requests,
		})
	}

	if requests == 0 && record.Tokens == nil {
		record.Status = models.StatusInactive
		record.StatusReason = "no recorded activity in window"
	}
	return record
}

// dayInWindow reports whether a yyyy-mm-dd stats date falls inside
// (cutoff, now]. The whole day counts once its date is past the cutoff,
// which keeps the estimate inclusive rather than prorating partial
// days.
func dayInWindow(date string, cutoff, now time.Time) bool {
	day, err := time.Parse(statsDateLayout, date)
	if err != nil {
		return false
	}
	endOfDay := day.Add(24*time.Hour - time.Nanosecond)
	return endOfDay.After(cutoff) && !day.After(now)
}
