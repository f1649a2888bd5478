// Package alerts raises operator notifications for quota exhaustion
// and account status transitions observed during fetch cycles.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
)

// Notifier delivers one alert message.
type Notifier interface {
	Notify(text string) error
}

// Kind labels what triggered an alert, used in the dedup key.
type Kind string

const (
	KindLowQuota  Kind = "low_quota"
	KindErrored   Kind = "errored"
	KindRecovered Kind = "recovered"
	KindReauth    Kind = "reauth_required"
)

// Config controls which conditions alert and how often one condition
// may repeat per account.
type Config struct {
	LowQuotaPercent  models.Percentage
	ErrorTransitions bool
	Throttle         time.Duration
}

// Engine evaluates each stored record against the previous one and
// notifies on threshold crossings and status flips. One condition per
// account is throttled to at most one message per window.
type Engine struct {
	config   Config
	notifier Notifier
	logger   *logging.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine builds the alert engine.
func NewEngine(config Config, notifier Notifier, logger *logging.Logger, opts ...Option) *Engine {
	if config.Throttle <= 0 {
		config.Throttle = 30 * time.Minute
	}
	e := &Engine{
		config:   config,
		notifier: notifier,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Observe is wired as the aggregator's transition hook.
func (e *Engine) Observe(account *models.Account, previous, current *models.UsageRecord) {
	if e.notifier == nil || current == nil {
		return
	}

	if e.config.ErrorTransitions {
		e.checkTransition(account, previous, current)
	}
	e.checkQuota(account, current)
}

func (e *Engine) checkTransition(account *models.Account, previous, current *models.UsageRecord) {
	prevStatus := models.StatusInactive
	if previous != nil {
		prevStatus = previous.Status
	}

	switch {
	case current.Status == models.StatusError && prevStatus != models.StatusError:
		e.send(account.ID, KindErrored, fmt.Sprintf(
			"⚠️ *%s* stopped reporting usage: %s", e.label(account), current.StatusReason))
	case current.Status != models.StatusError && prevStatus == models.StatusError:
		e.send(account.ID, KindRecovered, fmt.Sprintf(
			"✅ *%s* is reporting usage again", e.label(account)))
	}
}

func (e *Engine) checkQuota(account *models.Account, current *models.UsageRecord) {
	if current.Quota == nil || e.config.LowQuotaPercent <= 0 {
		return
	}

	remaining := models.PercentageOf(current.Quota.Remaining(), current.Quota.Limit)
	if remaining > e.config.LowQuotaPercent {
		return
	}
	e.send(account.ID, KindLowQuota, fmt.Sprintf(
		"🔻 *%s* has %.0f%% of its quota left (%d of %d requests)",
		e.label(account), float64(remaining), current.Quota.Remaining(), current.Quota.Limit))
}

func (e *Engine) label(account *models.Account) string {
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return account.ID
}

// send delivers unless the same condition fired for this account
// within the throttle window.
func (e *Engine) send(accountID string, kind Kind, text string) {
	key := accountID + ":" + string(kind)

	e.mu.Lock()
	if sentAt, ok := e.lastSent[key]; ok && e.now().Sub(sentAt) < e.config.Throttle {
		e.mu.Unlock()
		return
	}
	e.lastSent[key] = e.now()
	e.mu.Unlock()

	if err := e.notifier.Notify(text); err != nil {
		e.logger.Warn("alert delivery failed",
			"account_id", accountID,
			"kind", string(kind),
			"error", err.Error())
	}
}
