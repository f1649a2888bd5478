package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagedeck/usagedeck/internal/credstore"
	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/normalize"
	"github.com/usagedeck/usagedeck/internal/token"
	"github.com/usagedeck/usagedeck/pkg/headers"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

func testNorm() *normalize.Normalizer {
	return normalize.New(nil)
}

func sourceAccount(id string, provider models.Provider) *models.Account {
	return &models.Account{
		ID:           id,
		Provider:     provider,
		QuotaCeiling: 1000,
		Sources:      []models.SourceKind{models.SourceSession, models.SourceProbe},
	}
}

// fastRetry keeps test runtimes flat.
var fastRetry = RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}

type staticStore struct {
	material *credstore.Material
	err      error
	extracts atomic.Int64
}

func (s *staticStore) Extract(ctx context.Context, accountID string) (*credstore.Material, error) {
	s.extracts.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.material, nil
}

func (s *staticStore) Refresh(ctx context.Context, refreshSecret string) (*credstore.Material, error) {
	return nil, errors.ErrCredentialUnavailable
}

func TestSessionSourceFetch(t *testing.T) {
	var gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "jwt-123",
			"user":        map[string]string{"id": "user-1"},
		})
	})
	mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer jwt-123", r.Header.Get("Authorization"))
		w.Header().Set("X-Ratelimit-Limit-Requests", "100")
		w.Header().Set("X-Ratelimit-Remaining-Requests", "60")
		_ = json.NewEncoder(w).Encode(normalize.SessionPayload{
			PlanType: "pro",
			Primary:  &normalize.SessionUsageWindow{UsedPercent: 40, ResetsInSeconds: 600},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := &staticStore{material: &credstore.Material{AccessToken: "cookie-abc"}}
	endpoints := EndpointMap{"acct-1": {
		SessionURL: server.URL + "/session",
		UsageURL:   server.URL + "/usage",
	}}
	src := NewSessionSource(server.Client(), store, testNorm(), headers.NewRegistry(), endpoints, fastRetry, testLogger())

	record, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderOpenAI), 24*time.Hour)

	require.NoError(t, err)
	assert.Contains(t, gotCookie, "cookie-abc")
	assert.Equal(t, models.StatusActive, record.Status)
	assert.Equal(t, "pro", record.PlanLabel)
	require.NotNil(t, record.Quota)
	assert.Equal(t, uint64(400), record.Quota.Used)
	require.NotNil(t, record.RateLimit)
	assert.Equal(t, uint64(60), record.RateLimit.Remaining)
	assert.Equal(t, models.SourceSession, record.Source)
}

func TestSessionSourceRejectedCookieIsInapplicable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := &staticStore{material: &credstore.Material{AccessToken: "stale"}}
	endpoints := EndpointMap{"acct-1": {SessionURL: server.URL, UsageURL: server.URL}}
	src := NewSessionSource(server.Client(), store, testNorm(), headers.NewRegistry(), endpoints, fastRetry, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderOpenAI), 24*time.Hour)

	require.Error(t, err)
	assert.True(t, errors.IsInapplicable(err))
}

func TestSessionSourceMissingCredentialIsInapplicable(t *testing.T) {
	store := &staticStore{err: fmt.Errorf("no auth file: %w", errors.ErrCredentialUnavailable)}
	endpoints := EndpointMap{"acct-1": {SessionURL: "http://127.0.0.1:1/s", UsageURL: "http://127.0.0.1:1/u"}}
	src := NewSessionSource(http.DefaultClient, store, testNorm(), headers.NewRegistry(), endpoints, fastRetry, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderOpenAI), 24*time.Hour)

	require.Error(t, err)
	assert.True(t, errors.IsInapplicable(err))
	// Credential errors never trigger network calls.
	assert.Equal(t, int64(1), store.extracts.Load())
}

func TestSessionSourceMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	store := &staticStore{material: &credstore.Material{AccessToken: "cookie"}}
	endpoints := EndpointMap{"acct-1": {SessionURL: server.URL, UsageURL: server.URL}}
	src := NewSessionSource(server.Client(), store, testNorm(), headers.NewRegistry(), endpoints, fastRetry, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderOpenAI), 24*time.Hour)

	require.Error(t, err)
	var malformed *errors.ErrSourceMalformed
	assert.ErrorAs(t, err, &malformed)
}

func TestOAuthSourceFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer at-live", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(normalize.OAuthPayload{
			Plan:     "team",
			Requests: 120,
			Quota:    &normalize.OAuthQuota{Limit: 500, Used: 120},
		})
	}))
	defer server.Close()

	store := &staticStore{material: &credstore.Material{
		AccessToken: "at-live",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	tokens := token.NewManager(store, testLogger())
	endpoints := EndpointMap{"acct-1": {UsageURL: server.URL}}
	src := NewOAuthSource(server.Client(), tokens, testNorm(), endpoints, fastRetry, testLogger())

	record, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, record.Status)
	assert.Equal(t, uint64(120), record.Requests)
	assert.Equal(t, models.SourceOAuth, record.Source)
}

func TestOAuthSourceUnauthorizedInvalidatesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := &staticStore{material: &credstore.Material{
		AccessToken: "at-revoked",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	tokens := token.NewManager(store, testLogger())
	endpoints := EndpointMap{"acct-1": {UsageURL: server.URL}}
	src := NewOAuthSource(server.Client(), tokens, testNorm(), endpoints, fastRetry, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)
	require.Error(t, err)
	assert.True(t, errors.IsInapplicable(err))

	// The cached token was dropped, so the next fetch re-extracts.
	before := store.extracts.Load()
	_, _ = src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)
	assert.Greater(t, store.extracts.Load(), before)
}

func TestOAuthSourceNoTokenIsInapplicable(t *testing.T) {
	store := &staticStore{err: fmt.Errorf("keystore empty: %w", errors.ErrCredentialUnavailable)}
	tokens := token.NewManager(store, testLogger())
	endpoints := EndpointMap{"acct-1": {UsageURL: "http://127.0.0.1:1/usage"}}
	src := NewOAuthSource(http.DefaultClient, tokens, testNorm(), endpoints, fastRetry, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)

	require.Error(t, err)
	assert.True(t, errors.IsInapplicable(err))
}

func TestLocalStatsSourceFetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	today := time.Now().Format("2006-01-02")
	stats := normalize.StatsCache{
		DailyActivity: []normalize.DailyActivity{{Date: today, MessageCount: 42}},
	}
	data, err := json.Marshal(stats)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	endpoints := EndpointMap{"acct-1": {StatsPath: path}}
	src := NewLocalStatsSource(testNorm(), endpoints, testLogger())

	record, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, record.Status)
	assert.Equal(t, uint64(42), record.Requests)
	assert.Equal(t, models.SourceLocalStats, record.Source)
}

func TestLocalStatsSourceMissingFileIsInapplicable(t *testing.T) {
	endpoints := EndpointMap{"acct-1": {StatsPath: filepath.Join(t.TempDir(), "absent.json")}}
	src := NewLocalStatsSource(testNorm(), endpoints, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)

	require.Error(t, err)
	assert.True(t, errors.IsInapplicable(err))
}

func TestLocalStatsSourceMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	endpoints := EndpointMap{"acct-1": {StatsPath: path}}
	src := NewLocalStatsSource(testNorm(), endpoints, testLogger())

	_, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderAnthropic), 24*time.Hour)

	require.Error(t, err)
	var malformed *errors.ErrSourceMalformed
	assert.ErrorAs(t, err, &malformed)
}

func TestProbeSourceReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized) // auth challenge still proves liveness
	}))
	defer server.Close()

	endpoints := EndpointMap{"acct-1": {ProbeURL: server.URL}}
	src := NewProbeSource(server.Client(), testNorm(), endpoints, fastRetry, testLogger())

	record, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderOpenAI), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, record.Status)
	assert.Equal(t, models.SourceProbe, record.Source)
}

func TestProbeSourceUnreachableYieldsErrorRecord(t *testing.T) {
	endpoints := EndpointMap{"acct-1": {ProbeURL: "http://127.0.0.1:1/models"}}
	src := NewProbeSource(http.DefaultClient, testNorm(), endpoints, fastRetry, testLogger())

	record, err := src.Fetch(context.Background(), sourceAccount("acct-1", models.ProviderOpenAI), 24*time.Hour)

	// The baseline never errors outright; failure becomes a record.
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, record.Status)
	assert.Zero(t, record.Requests)
	assert.Nil(t, record.Quota)
}

func TestRetryPolicyRetriesTransientFailures(t *testing.T) {
	var calls int
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &errors.ErrSourceUnreachable{Source: "test", Err: fmt.Errorf("conn refused")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnCredentialError(t *testing.T) {
	var calls int
	policy := RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond}

	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.ErrCredentialUnavailable
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	var calls int
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("still down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryPolicyHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 10, BaseDelay: 50 * time.Millisecond}

	var calls int
	errCh := make(chan error, 1)
	go func() {
		errCh <- policy.Do(ctx, func(ctx context.Context) error {
			calls++
			return fmt.Errorf("down")
		})
	}()
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.Less(t, calls, 10)
}
