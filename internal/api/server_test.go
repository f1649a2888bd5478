package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagedeck/usagedeck/internal/aggregate"
	"github.com/usagedeck/usagedeck/internal/cache"
	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/metrics"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/store"
)

type fixedResolver struct{}

func (fixedResolver) Resolve(ctx context.Context, account *models.Account, window time.Duration) *models.UsageRecord {
	return &models.UsageRecord{
		AccountID:   account.ID,
		Status:      models.StatusActive,
		Requests:    42,
		Cost:        1.50,
		CollectedAt: time.Now(),
	}
}

func testServer(t *testing.T, monitor *models.MonitoringConfig) *Server {
	t.Helper()
	logger := logging.NewLogger(logging.WithOutput(io.Discard))
	accounts := models.AccountSlice{
		{ID: "a1", Provider: models.ProviderOpenAI, Sources: []models.SourceKind{models.SourceProbe}},
		{ID: "a2", Provider: models.ProviderAnthropic, Sources: []models.SourceKind{models.SourceProbe}},
	}
	agg := aggregate.New(fixedResolver{}, store.NewMemoryStore(accounts), monitor, cache.New(), logger)
	cfg := config.ServerConfig{Host: "127.0.0.1", HTTPPort: 0}
	return NewServer(cfg, agg, nil, metrics.NewMetrics("usagedeck_test"), logger, 24*time.Hour)
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestSnapshotEndpoint(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodGet, "/v1/snapshot", "")

	require.Equal(t, http.StatusOK, w.Code)
	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Len(t, snapshot.Records, 2)
	assert.Equal(t, uint64(84), snapshot.Summary.Requests)
}

func TestSnapshotEndpointCustomWindow(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodGet, "/v1/snapshot?window=1h", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, server, http.MethodGet, "/v1/snapshot?window=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSnapshotEndpointDisabledMonitoring(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(false, nil))

	w := doRequest(t, server, http.MethodGet, "/v1/snapshot", "")

	require.Equal(t, http.StatusOK, w.Code)
	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Empty(t, snapshot.Records)
	assert.Zero(t, snapshot.Summary.Requests)
}

func TestAccountUsageEndpoint(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodGet, "/v1/accounts/a1/usage", "")

	require.Equal(t, http.StatusOK, w.Code)
	var record models.UsageRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "a1", record.AccountID)
	assert.Equal(t, uint64(42), record.Requests)
}

func TestAccountUsageUnknownAccount(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodGet, "/v1/accounts/ghost/usage", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAccountsEndpoint(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, []string{"a1"}))

	w := doRequest(t, server, http.MethodGet, "/v1/accounts", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Accounts []struct {
			ID        string `json:"id"`
			Monitored bool   `json:"monitored"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Accounts, 2)
	assert.True(t, resp.Accounts[0].Monitored)
	assert.False(t, resp.Accounts[1].Monitored)
}

func TestHistoryDisabled(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodGet, "/v1/accounts/a1/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMonitoringToggle(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodPut, "/v1/admin/monitoring", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, server.aggregator.Monitor().Enabled())

	// The toggle takes effect on the next snapshot.
	w = doRequest(t, server, http.MethodGet, "/v1/snapshot", "")
	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Empty(t, snapshot.Records)
}

func TestMonitoringToggleBadBody(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodPut, "/v1/admin/monitoring", `{"enabled": "yes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAllowListAdministration(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodPost, "/v1/admin/monitoring/allowed", `{"account_id": "a1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a1"}, server.aggregator.Monitor().AllowedIDs())

	w = doRequest(t, server, http.MethodDelete, "/v1/admin/monitoring/allowed/a1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, server.aggregator.Monitor().AllowedIDs())
}

func TestGetMonitoring(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, []string{"a2"}))

	w := doRequest(t, server, http.MethodGet, "/v1/admin/monitoring", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Enabled bool     `json:"enabled"`
		Allowed []string `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Enabled)
	assert.Equal(t, []string{"a2"}, resp.Allowed)
}

func TestHealthz(t *testing.T) {
	server := testServer(t, models.NewMonitoringConfig(true, nil))

	w := doRequest(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
