// Package aggregate fans out one usage resolution per account and
// merges the results into a cached snapshot.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/usagedeck/usagedeck/internal/cache"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/store"
)

// UsageResolver settles one account's usage for a window. The record is
// always non-nil and well-formed.
type UsageResolver interface {
	Resolve(ctx context.Context, account *models.Account, window time.Duration) *models.UsageRecord
}

// Recorder receives aggregate-level metrics.
type Recorder interface {
	RecordSnapshotDuration(seconds float64)
	SetAccountStatus(accountID string, value float64)
	RecordQuotaUsedPercent(accountID, provider string, percent float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordSnapshotDuration(float64) {}

func (nopRecorder) SetAccountStatus(string, float64) {}

func (nopRecorder) RecordQuotaUsedPercent(string, string, float64) {}

// Transition is called after each account's record is stored, with the
// record it replaced. Alert engines hook in here.
type Transition func(account *models.Account, previous, current *models.UsageRecord)

// Aggregator runs fetch cycles: gate, cache check, concurrent fan-out
// with per-account isolation, merge, cache fill.
type Aggregator struct {
	resolver     UsageResolver
	records      *store.MemoryStore
	monitor      *models.MonitoringConfig
	cache        *cache.TTLCache
	logger       *logging.Logger
	recorder     Recorder
	onTransition Transition
	cycleTimeout time.Duration
	snapshotTTL  time.Duration
	now          func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		a.recorder = r
	}
}

// WithTransition registers a status-transition hook.
func WithTransition(fn Transition) Option {
	return func(a *Aggregator) {
		a.onTransition = fn
	}
}

// WithCycleTimeout bounds one fetch cycle; resolutions still pending at
// the deadline are abandoned and recorded as errored.
func WithCycleTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.cycleTimeout = d
	}
}

// WithSnapshotTTL sets how long merged snapshots stay cached.
func WithSnapshotTTL(d time.Duration) Option {
	return func(a *Aggregator) {
		a.snapshotTTL = d
	}
}

// WithClock overrides the time source in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New builds an aggregator over the configured accounts held by the
// record store.
func New(resolver UsageResolver, records *store.MemoryStore, monitor *models.MonitoringConfig, ttlCache *cache.TTLCache, logger *logging.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		resolver:     resolver,
		records:      records,
		monitor:      monitor,
		cache:        ttlCache,
		logger:       logger,
		recorder:     nopRecorder{},
		cycleTimeout: 30 * time.Second,
		snapshotTTL:  2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func snapshotKey(window time.Duration) string {
	return fmt.Sprintf("snapshot:%s", window)
}

// FetchAll produces the snapshot for a window. Disabled monitoring
// short-circuits before any source or cache access. Within one TTL the
// same cached snapshot is returned unchanged.
func (a *Aggregator) FetchAll(ctx context.Context, window time.Duration) *models.Snapshot {
	if !a.monitor.Enabled() {
		return models.EmptySnapshot(window)
	}

	key := snapshotKey(window)
	if cached, ok := a.cache.Get(key); ok {
		if snapshot, ok := cached.(*models.Snapshot); ok {
			return snapshot
		}
	}

	accounts := a.allowedAccounts()
	if len(accounts) == 0 {
		snapshot := models.EmptySnapshot(window)
		a.cache.Set(key, snapshot, a.snapshotTTL)
		return snapshot
	}

	started := a.now()
	records := a.resolveAll(ctx, accounts, window)

	snapshot := &models.Snapshot{
		Window:      window,
		Records:     records,
		GeneratedAt: a.now(),
	}
	snapshot.Merge()
	a.cache.Set(key, snapshot, a.snapshotTTL)

	a.recorder.RecordSnapshotDuration(a.now().Sub(started).Seconds())
	a.logger.InfoWithContext(ctx, "fetch cycle complete",
		"accounts", len(records),
		"errored", snapshot.Summary.Errored,
		"window", window.String())
	return snapshot
}

// allowedAccounts filters the configured set through the allow-list.
func (a *Aggregator) allowedAccounts() []*models.Account {
	all := a.records.Accounts()
	allowed := make([]*models.Account, 0, len(all))
	for i := range all {
		if a.monitor.Allows(all[i].ID) {
			allowed = append(allowed, &all[i])
		}
	}
	return allowed
}

type outcome struct {
	idx    int
	record *models.UsageRecord
}

// resolveAll fans out one resolution per account and waits for all of
// them to settle or for the cycle deadline. Results keep the configured
// account order.
func (a *Aggregator) resolveAll(ctx context.Context, accounts []*models.Account, window time.Duration) []*models.UsageRecord {
	ctx, cancel := context.WithTimeout(ctx, a.cycleTimeout)
	defer cancel()

	results := make([]*models.UsageRecord, len(accounts))
	ch := make(chan outcome, len(accounts))
	for i, account := range accounts {
		go func(idx int, account *models.Account) {
			ch <- outcome{idx: idx, record: a.resolveOne(ctx, account, window)}
		}(i, account)
	}

	collected := 0
	for collected < len(accounts) {
		select {
		case out := <-ch:
			results[out.idx] = out.record
			collected++
		case <-ctx.Done():
			// Abandon whatever is still pending; the goroutines drain
			// into the buffered channel and are dropped.
			for i, record := range results {
				if record == nil {
					results[i] = a.settle(accounts[i], models.NewErrorRecord(accounts[i].ID, "resolution exceeded cycle deadline"))
					a.logger.WarnWithContext(ctx, "resolution abandoned at deadline",
						"account_id", accounts[i].ID)
				}
			}
			return results
		}
	}
	return results
}

// resolveOne runs a single account's resolution with panic isolation.
func (a *Aggregator) resolveOne(ctx context.Context, account *models.Account, window time.Duration) (record *models.UsageRecord) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorWithContext(ctx, "resolution panicked",
				"account_id", account.ID,
				"panic", fmt.Sprint(r))
			record = a.settle(account, models.NewErrorRecord(account.ID, fmt.Sprintf("resolution panicked: %v", r)))
		}
	}()

	resolved := a.resolver.Resolve(ctx, account, window)
	if resolved == nil || resolved.Validate() != nil {
		resolved = models.NewErrorRecord(account.ID, "resolver produced an invalid record")
	}
	return a.settle(account, resolved)
}

// settle stores the record, fires the transition hook and updates the
// per-account gauges.
func (a *Aggregator) settle(account *models.Account, record *models.UsageRecord) *models.UsageRecord {
	previous := a.records.SetRecord(record)
	if a.onTransition != nil {
		a.onTransition(account, previous, record)
	}

	switch record.Status {
	case models.StatusActive:
		a.recorder.SetAccountStatus(account.ID, 1)
	case models.StatusInactive:
		a.recorder.SetAccountStatus(account.ID, 0)
	case models.StatusError:
		a.recorder.SetAccountStatus(account.ID, -1)
	}
	if record.Quota != nil {
		a.recorder.RecordQuotaUsedPercent(account.ID, string(account.Provider), float64(record.Quota.UsedPercent()))
	}
	return record
}

// GetAccount returns one account's usage: the last-known record when
// present, otherwise a live resolution when monitoring allows it.
func (a *Aggregator) GetAccount(ctx context.Context, accountID string, window time.Duration) (*models.UsageRecord, error) {
	account, ok := a.records.GetAccount(accountID)
	if !ok {
		return nil, fmt.Errorf("unknown account %q", accountID)
	}

	if record, ok := a.records.GetRecord(accountID); ok {
		return record, nil
	}
	if !a.monitor.Enabled() || !a.monitor.Allows(accountID) {
		return nil, fmt.Errorf("account %q is not monitored", accountID)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cycleTimeout)
	defer cancel()
	return a.resolveOne(ctx, account, window), nil
}

// InvalidateSnapshots drops cached snapshots so the next fetch reflects
// administrative changes immediately.
func (a *Aggregator) InvalidateSnapshots(windows ...time.Duration) {
	for _, window := range windows {
		a.cache.Delete(snapshotKey(window))
	}
}

// Monitor exposes the monitoring gate for the administrative API.
func (a *Aggregator) Monitor() *models.MonitoringConfig {
	return a.monitor
}

// AccountIDs lists configured accounts in stable order.
func (a *Aggregator) AccountIDs() []string {
	ids := a.records.Accounts().IDs()
	sort.Strings(ids)
	return ids
}
