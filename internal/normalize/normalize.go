// Package normalize converts raw per-source payloads into the uniform
// usage record. Every function here is pure: payload in, record out, no
// I/O, with the current time passed in explicitly.
package normalize

import (
	"time"

	"github.com/usagedeck/usagedeck/internal/models"
)

// Normalizer holds the shared pricing table used for cost estimation.
type Normalizer struct {
	prices PriceTable
}

// New creates a normalizer. Overrides extend or replace the built-in
// price table per model family.
func New(overrides map[string]Price) *Normalizer {
	return &Normalizer{prices: DefaultPriceTable().Merge(overrides)}
}

// Prices exposes the merged table for callers that estimate outside a
// payload context.
func (n *Normalizer) Prices() PriceTable {
	return n.prices
}

// clampRateLimit enforces remaining <= limit on a parsed window.
func clampRateLimit(w *models.RateLimitWindow) *models.RateLimitWindow {
	if w == nil {
		return nil
	}
	if w.Remaining > w.Limit {
		w.Remaining = w.Limit
	}
	return w
}

// clampQuota enforces used <= limit so downstream percentage math never
// exceeds 100.
func clampQuota(w *models.QuotaWindow) *models.QuotaWindow {
	if w == nil {
		return nil
	}
	if w.Used > w.Limit && w.Limit > 0 {
		w.Used = w.Limit
	}
	return w
}

// SessionPayload is the shape returned by a provider's authenticated
// session usage endpoint. Windows report consumption as percentages of
// the plan ceiling rather than absolute counts.
type SessionPayload struct {
	PlanType  string              `json:"plan_type"`
	Primary   *SessionUsageWindow `json:"primary,omitempty"`
	Secondary *SessionUsageWindow `json:"secondary,omitempty"`
	Requests  uint64              `json:"total_requests"`
}

// SessionUsageWindow is one percentage-based consumption window.
type SessionUsageWindow struct {
	UsedPercent     float64 `json:"used_percent"`
	WindowMinutes   uint64  `json:"window_minutes"`
	ResetsInSeconds uint64  `json:"resets_in_seconds"`
}

// Session converts a session-endpoint payload into a usage record. The
// rate-limit window, when present, comes from response headers parsed
// by the caller. Percentage windows are converted to absolute counts
// against the account's tier ceiling.
func (n *Normalizer) Session(account *models.Account, payload *SessionPayload, rate *models.RateLimitWindow, now time.Time) *models.UsageRecord {
	record := &models.UsageRecord{
		AccountID:   account.ID,
		Status:      models.StatusActive,
		Source:      models.SourceSession,
		RateLimit:   clampRateLimit(rate),
		CollectedAt: now,
	}
	if payload == nil {
		record.Status = models.StatusInactive
		record.StatusReason = "session payload empty"
		return record
	}

	record.PlanLabel = payload.PlanType
	record.Requests = payload.Requests

	if payload.Primary != nil && account.QuotaCeiling > 0 {
		pct := models.Percentage(payload.Primary.UsedPercent).Round()
		quota := &models.QuotaWindow{
			Limit: account.QuotaCeiling,
			Used:  pct.Absolute(account.QuotaCeiling),
		}
		if payload.Primary.ResetsInSeconds > 0 {
			quota.ResetAt = now.Add(time.Duration(payload.Primary.ResetsInSeconds) * time.Second)
		}
		record.Quota = clampQuota(quota)
		if record.Requests == 0 {
			record.Requests = quota.Used
		}
	}

	if record.Requests == 0 && record.Quota == nil && record.RateLimit == nil {
		record.Status = models.StatusInactive
		record.StatusReason = "session payload carried no usage data"
	}
	return record
}

// OAuthModelUsage is one model's line in an OAuth telemetry payload.
type OAuthModelUsage struct {
	Model               string   `json:"model"`
	Requests            uint64   `json:"requests"`
	InputTokens         uint64   `json:"input_tokens"`
	OutputTokens        uint64   `json:"output_tokens"`
	CacheReadTokens     uint64   `json:"cache_read_input_tokens"`
	CacheCreationTokens uint64   `json:"cache_creation_input_tokens"`
	CostUSD             *float64 `json:"cost_usd,omitempty"`
}

// OAuthQuota is the payload's billing-period window, absolute counts.
type OAuthQuota struct {
	Limit   uint64    `json:"limit"`
	Used    uint64    `json:"used"`
	ResetAt time.Time `json:"reset_at"`
}

// OAuthPayload is the shape returned by a provider's OAuth telemetry
// endpoint: absolute counts with an optional per-model breakdown.
type OAuthPayload struct {
	Plan     string            `json:"plan"`
	Requests uint64            `json:"total_requests"`
	Quota    *OAuthQuota       `json:"quota,omitempty"`
	Models   []OAuthModelUsage `json:"models,omitempty"`
}

// OAuth converts an OAuth telemetry payload into a usage record. Costs
// reported by the provider are taken as-is; missing costs are estimated
// from token counts and the price table.
func (n *Normalizer) OAuth(account *models.Account, payload *OAuthPayload, now time.Time) *models.UsageRecord {
	record := &models.UsageRecord{
		AccountID:   account.ID,
		Status:      models.StatusActive,
		Source:      models.SourceOAuth,
		CollectedAt: now,
	}
	if payload == nil {
		record.Status = models.StatusInactive
		record.StatusReason = "telemetry payload empty"
		return record
	}

	record.PlanLabel = payload.Plan
	record.Requests = payload.Requests
	if payload.Quota != nil {
		record.Quota = clampQuota(&models.QuotaWindow{
			Limit:   payload.Quota.Limit,
			Used:    payload.Quota.Used,
			ResetAt: payload.Quota.ResetAt,
		})
	}

	if len(payload.Models) > 0 {
		var totalTokens models.TokenCount
		var totalCost models.CostUSD
		var totalRequests uint64
		breakdown := make([]models.ModelUsage, 0, len(payload.Models))
		for _, mu := range payload.Models {
			tally := TokenTally{
				Input:       models.TokenCount(mu.InputTokens),
				Output:      models.TokenCount(mu.OutputTokens),
				CacheRead:   models.TokenCount(mu.CacheReadTokens),
				CacheCreate: models.TokenCount(mu.CacheCreationTokens),
			}
			cost := n.prices.EstimateCost(mu.Model, tally)
			if mu.CostUSD != nil {
				cost = models.CostUSD(*mu.CostUSD).Round()
			}
			breakdown = append(breakdown, models.ModelUsage{
				Model:    mu.Model,
				Requests: mu.Requests,
				Tokens:   tally.Total(),
				Cost:     cost,
			})
			totalTokens += tally.Total()
			totalCost += cost
			totalRequests += mu.Requests
		}
		record.ModelBreakdown = breakdown
		record.Tokens = &totalTokens
		record.Cost = totalCost.Round()
		if record.Requests == 0 {
			record.Requests = totalRequests
		}
	}

	if record.Requests == 0 && record.Quota == nil && record.Tokens == nil {
		record.Status = models.StatusInactive
		record.StatusReason = "telemetry payload carried no usage data"
	}
	return record
}

// ProbeResult is the outcome of the zero-credential baseline probe.
type ProbeResult struct {
	Reachable bool
	PlanLabel string
}

// Probe converts a baseline probe outcome into the minimal record. A
// reachable endpoint proves the account's provider is up but says
// nothing about consumption, so the record is inactive with no numbers
// rather than zero-filled.
func (n *Normalizer) Probe(account *models.Account, result ProbeResult, now time.Time) *models.UsageRecord {
	if !result.Reachable {
		rec := models.NewErrorRecord(account.ID, "baseline probe unreachable")
		rec.Source = models.SourceProbe
		rec.CollectedAt = now
		return rec
	}
	return &models.UsageRecord{
		AccountID:    account.ID,
		Status:       models.StatusInactive,
		Source:       models.SourceProbe,
		PlanLabel:    result.PlanLabel,
		StatusReason: "baseline probe only",
		CollectedAt:  now,
	}
}
