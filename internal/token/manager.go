// Package token implements the credential lifecycle for external
// accounts: token reuse inside a refresh buffer, proactive refresh,
// cold extraction from the credential store, and a last-resort retry
// with a stale refresh secret.
package token

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/usagedeck/usagedeck/internal/credstore"
	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
)

// DefaultRefreshBuffer is the safety margin before expiry after which a
// token is proactively refreshed rather than reused.
const DefaultRefreshBuffer = 5 * time.Minute

// Recorder receives token manager operation events.
type Recorder interface {
	RecordTokenRefresh(operation, result string)
}

// Manager owns the credential state for every account. Renewal for one
// account is serialized through a single-flight group so concurrent
// callers never race independent refreshes against the same secret.
type Manager struct {
	store         credstore.Store
	refreshBuffer time.Duration
	logger        *logging.Logger
	recorder      Recorder
	now           func() time.Time

	mu     sync.RWMutex
	states map[string]*models.CredentialState

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithRefreshBuffer overrides the proactive refresh margin.
func WithRefreshBuffer(buffer time.Duration) Option {
	return func(m *Manager) {
		m.refreshBuffer = buffer
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// NewManager creates a token manager on top of a credential store.
func NewManager(store credstore.Store, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	m := &Manager{
		store:         store,
		refreshBuffer: DefaultRefreshBuffer,
		logger:        logger,
		now:           time.Now,
		states:        make(map[string]*models.CredentialState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns a usable bearer token for the account. Tokens
// inside the refresh buffer are returned without any I/O; otherwise the
// renewal ladder runs (refresh, cold extraction, stale-secret retry).
// Exhaustion yields errors.ErrCredentialUnavailable; a rejected refresh
// secret yields errors.ErrCredentialExpired.
func (m *Manager) GetValidToken(ctx context.Context, accountID string) (string, error) {
	if state := m.state(accountID); state.Valid(m.now(), m.refreshBuffer) {
		return state.AccessToken, nil
	}

	result, err, _ := m.group.Do(accountID, func() (interface{}, error) {
		return m.renew(ctx, accountID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate discards the cached credential state for an account,
// forcing the next call through cold extraction. Used when the auth
// file changes externally.
func (m *Manager) Invalidate(accountID string) {
	m.mu.Lock()
	delete(m.states, accountID)
	m.mu.Unlock()
}

func (m *Manager) state(accountID string) *models.CredentialState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[accountID]
}

func (m *Manager) setState(accountID string, state *models.CredentialState) {
	m.mu.Lock()
	m.states[accountID] = state
	m.mu.Unlock()
}

// renew runs the renewal ladder. It re-checks the cached state first
// because a concurrent caller may have completed renewal while this one
// waited on the single-flight group.
func (m *Manager) renew(ctx context.Context, accountID string) (string, error) {
	now := m.now()

	cached := m.state(accountID)
	if cached.Valid(now, m.refreshBuffer) {
		return cached.AccessToken, nil
	}

	var refreshErr error
	staleSecret := ""
	if cached != nil && cached.RefreshSecret != "" {
		staleSecret = cached.RefreshSecret
		token, err := m.refresh(ctx, accountID, cached.RefreshSecret)
		if err == nil {
			return token, nil
		}
		refreshErr = err
		if stderrors.Is(err, errors.ErrCredentialExpired) {
			m.logger.Warn("refresh secret rejected, re-authentication required",
				"account_id", accountID)
		} else {
			m.logger.Debug("token refresh failed, trying cold extraction",
				"account_id", accountID, "error", err.Error())
		}
	}

	token, extractErr := m.extract(ctx, accountID)
	if extractErr == nil {
		return token, nil
	}

	// Extraction failed. If a stale secret survived from a previous run
	// and the earlier refresh failure was transient, retry it once
	// before giving up.
	if staleSecret != "" && refreshErr != nil && !stderrors.Is(refreshErr, errors.ErrCredentialExpired) {
		if token, err := m.refresh(ctx, accountID, staleSecret); err == nil {
			return token, nil
		}
	}

	if stderrors.Is(refreshErr, errors.ErrCredentialExpired) || stderrors.Is(extractErr, errors.ErrCredentialExpired) {
		return "", fmt.Errorf("account %s: %w", accountID, errors.ErrCredentialExpired)
	}
	return "", fmt.Errorf("account %s: %w", accountID, errors.ErrCredentialUnavailable)
}

// refresh exchanges the secret and atomically replaces the cached
// state. A secret the issuer did not rotate is carried forward.
func (m *Manager) refresh(ctx context.Context, accountID, secret string) (string, error) {
	material, err := m.store.Refresh(ctx, secret)
	if err != nil {
		m.record("refresh", resultLabel(err))
		return "", err
	}

	newSecret := material.RefreshSecret
	if newSecret == "" {
		newSecret = secret
	}
	m.setState(accountID, &models.CredentialState{
		AccessToken:   material.AccessToken,
		ExpiresAt:     material.ExpiresAt,
		RefreshSecret: newSecret,
	})
	m.record("refresh", "success")
	return material.AccessToken, nil
}

// extract performs cold extraction from the credential store. An
// extracted token that is already stale falls through to a refresh with
// the extracted secret.
func (m *Manager) extract(ctx context.Context, accountID string) (string, error) {
	material, err := m.store.Extract(ctx, accountID)
	if err != nil {
		m.record("extract", resultLabel(err))
		return "", err
	}
	m.record("extract", "success")

	state := &models.CredentialState{
		AccessToken:   material.AccessToken,
		ExpiresAt:     material.ExpiresAt,
		RefreshSecret: material.RefreshSecret,
	}
	m.setState(accountID, state)

	if state.Valid(m.now(), m.refreshBuffer) {
		return state.AccessToken, nil
	}
	if state.RefreshSecret != "" {
		return m.refresh(ctx, accountID, state.RefreshSecret)
	}
	if state.AccessToken != "" && state.ExpiresAt.IsZero() {
		// Material without an expiry (e.g. plain API keys) is taken at
		// face value.
		return state.AccessToken, nil
	}
	return "", fmt.Errorf("account %s: extracted token already expired: %w", accountID, errors.ErrCredentialUnavailable)
}

func (m *Manager) record(operation, result string) {
	if m.recorder != nil {
		m.recorder.RecordTokenRefresh(operation, result)
	}
}

func resultLabel(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrCredentialExpired):
		return "rejected"
	case stderrors.Is(err, errors.ErrCredentialUnavailable):
		return "unavailable"
	default:
		return "failure"
	}
}
