package models

import (
	"fmt"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
)

// Status describes the state of an account's usage record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// RateLimitWindow describes a short-horizon rate limit.
type RateLimitWindow struct {
	Limit     uint64    `json:"limit"`
	Remaining uint64    `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// QuotaWindow describes a billing-period quota.
type QuotaWindow struct {
	Limit   uint64    `json:"limit"`
	Used    uint64    `json:"used"`
	ResetAt time.Time `json:"reset_at"`
}

// Remaining returns limit - used, clamped at zero.
func (q *QuotaWindow) Remaining() uint64 {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// UsedPercent returns the used share of the window.
func (q *QuotaWindow) UsedPercent() Percentage {
	return PercentageOf(q.Used, q.Limit)
}

// ModelUsage is a per-model usage breakdown entry.
type ModelUsage struct {
	Model    string     `json:"model"`
	Requests uint64     `json:"requests"`
	Tokens   TokenCount `json:"tokens"`
	Cost     CostUSD    `json:"cost"`
}

// UsageRecord is the uniform per-account usage output produced by the
// normalizer, whatever source the data came from. Optional fields are
// nil when the source did not report them, so callers can distinguish
// "no data" from "zero usage".
type UsageRecord struct {
	AccountID      string           `json:"account_id"`
	Status         Status           `json:"status"`
	Requests       uint64           `json:"requests"`
	Cost           CostUSD          `json:"cost"`
	Tokens         *TokenCount      `json:"tokens,omitempty"`
	RateLimit      *RateLimitWindow `json:"rate_limit,omitempty"`
	Quota          *QuotaWindow     `json:"quota,omitempty"`
	ModelBreakdown []ModelUsage     `json:"model_breakdown,omitempty"`
	PlanLabel      string           `json:"plan_label,omitempty"`
	Source         SourceKind       `json:"source,omitempty"`
	StatusReason   string           `json:"status_reason,omitempty"`
	CollectedAt    time.Time        `json:"collected_at"`
}

// NewErrorRecord builds the zeroed record used when every source for an
// account was unusable. Error records never carry windows or numbers.
func NewErrorRecord(accountID, reason string) *UsageRecord {
	return &UsageRecord{
		AccountID:    accountID,
		Status:       StatusError,
		StatusReason: reason,
		CollectedAt:  time.Now(),
	}
}

// Validate checks the record's invariants.
func (r *UsageRecord) Validate() error {
	if r.AccountID == "" {
		return &errors.ErrRecordValidation{Field: "account_id", Err: fmt.Errorf("account ID is required")}
	}
	switch r.Status {
	case StatusActive, StatusInactive, StatusError:
	default:
		return &errors.ErrRecordValidation{AccountID: r.AccountID, Field: "status", Err: fmt.Errorf("unknown status %q", r.Status)}
	}
	if r.Status == StatusError {
		if r.Requests != 0 || r.Cost != 0 || r.Tokens != nil {
			return &errors.ErrRecordValidation{AccountID: r.AccountID, Field: "status", Err: fmt.Errorf("error records must carry zeroed metrics")}
		}
		if r.RateLimit != nil || r.Quota != nil {
			return &errors.ErrRecordValidation{AccountID: r.AccountID, Field: "status", Err: fmt.Errorf("error records must not carry windows")}
		}
	}
	if r.RateLimit != nil && r.RateLimit.Remaining > r.RateLimit.Limit {
		return &errors.ErrRecordValidation{AccountID: r.AccountID, Field: "rate_limit", Err: fmt.Errorf("remaining exceeds limit")}
	}
	if r.Quota != nil && r.Quota.Used > r.Quota.Limit {
		return &errors.ErrRecordValidation{AccountID: r.AccountID, Field: "quota", Err: fmt.Errorf("used exceeds limit")}
	}
	return nil
}

// Summary holds snapshot-wide totals.
type Summary struct {
	Accounts int        `json:"accounts"`
	Errored  int        `json:"errored"`
	Requests uint64     `json:"requests"`
	Tokens   TokenCount `json:"tokens"`
	Cost     CostUSD    `json:"cost"`
}

// Snapshot is the aggregate result of one fetch cycle.
type Snapshot struct {
	Window      time.Duration  `json:"window"`
	Summary     Summary        `json:"summary"`
	Records     []*UsageRecord `json:"records"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// EmptySnapshot returns a well-formed snapshot with zeroed summary, for
// use when monitoring is disabled or no accounts are configured.
func EmptySnapshot(window time.Duration) *Snapshot {
	return &Snapshot{
		Window:      window,
		Records:     []*UsageRecord{},
		GeneratedAt: time.Now(),
	}
}

// Merge recomputes the summary from the record list.
func (s *Snapshot) Merge() {
	sum := Summary{Accounts: len(s.Records)}
	for _, r := range s.Records {
		if r.Status == StatusError {
			sum.Errored++
			continue
		}
		sum.Requests += r.Requests
		sum.Cost += r.Cost
		if r.Tokens != nil {
			sum.Tokens += *r.Tokens
		}
	}
	sum.Cost = sum.Cost.Round()
	s.Summary = sum
}
