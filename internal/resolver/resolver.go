// Package resolver walks an account's ordered source chain and settles
// on exactly one record per resolution.
package resolver

import (
	"context"
	"time"

	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/sources"
)

// Recorder receives resolution and per-source fetch outcomes.
type Recorder interface {
	RecordSourceFetch(source, outcome string)
	RecordResolution(state string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSourceFetch(string, string) {}

func (nopRecorder) RecordResolution(string) {}

// Resolver tries an account's sources strictly in declared order and
// returns the first usable record. Sources disagree by design, so later
// entries are consulted only when earlier ones are unusable, never to
// corroborate. The chain's last member is the zero-credential baseline,
// so resolution always produces a record.
type Resolver struct {
	registry map[models.SourceKind]sources.Source
	logger   *logging.Logger
	recorder Recorder
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(res *Resolver) {
		res.recorder = r
	}
}

// New builds a resolver over the given chain members.
func New(members []sources.Source, logger *logging.Logger, opts ...Option) *Resolver {
	registry := make(map[models.SourceKind]sources.Source, len(members))
	for _, src := range members {
		registry[src.Kind()] = src
	}
	r := &Resolver{
		registry: registry,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces the account's usage record for the window. The
// returned record is always non-nil and valid; total failure yields an
// error-status record, never an error.
func (r *Resolver) Resolve(ctx context.Context, account *models.Account, window time.Duration) *models.UsageRecord {
	var lastReason string
	for _, kind := range account.Sources {
		if err := ctx.Err(); err != nil {
			r.recorder.RecordResolution("timeout")
			return timeoutRecord(account.ID)
		}

		src, ok := r.registry[kind]
		if !ok {
			r.logger.WarnWithContext(ctx, "source kind not registered",
				"account_id", account.ID,
				"source", string(kind))
			continue
		}

		record, err := src.Fetch(ctx, account, window)
		if err == nil && record != nil {
			// First usable result is terminal, including the
			// baseline's error-status record.
			outcome := "ok"
			if record.Status == models.StatusError {
				outcome = "error"
				r.recorder.RecordResolution("errored")
			} else {
				r.recorder.RecordResolution("resolved")
			}
			r.recorder.RecordSourceFetch(string(kind), outcome)
			return record
		}

		lastReason = err.Error()
		if errors.IsInapplicable(err) {
			r.recorder.RecordSourceFetch(string(kind), "inapplicable")
			r.logger.DebugWithContext(ctx, "source inapplicable, falling through",
				"account_id", account.ID,
				"source", string(kind),
				"reason", lastReason)
		} else {
			r.recorder.RecordSourceFetch(string(kind), "failed")
			r.logger.WarnWithContext(ctx, "source failed, falling through",
				"account_id", account.ID,
				"source", string(kind),
				"error", lastReason)
		}
	}

	// The chain exhausted without a record. Account validation requires
	// a trailing baseline, so this only happens with a misconfigured
	// registry.
	r.recorder.RecordResolution("errored")
	if lastReason == "" {
		lastReason = "no sources available"
	}
	return models.NewErrorRecord(account.ID, lastReason)
}

func timeoutRecord(accountID string) *models.UsageRecord {
	err := &errors.ErrResolutionTimeout{AccountID: accountID}
	return models.NewErrorRecord(accountID, err.Error())
}
