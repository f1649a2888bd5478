package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagedeck/usagedeck/internal/models"
)

const sampleConfig = `
version: "1"
server:
  host: 0.0.0.0
  http_port: 9000
monitoring:
  enabled: true
  window: 24h
  snapshot_ttl: 90s
  cycle_timeout: 20s
  fetch_timeout: 10s
  allowed_accounts: [acme]
credentials:
  dir: /tmp/creds
accounts:
  - id: acme
    display_name: Acme Corp
    provider: anthropic
    tier: pro
    quota_ceiling: 5000
    sources: [session, localstats, probe]
    credentials_ref: acme.json
  - id: beta
    provider: openai
    sources: [oauth, probe]
    credentials_ref: beta.json
`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	// Defaults survive partial override.
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 90*time.Second, cfg.Monitoring.SnapshotTTL)
	assert.Equal(t, 5*time.Minute, cfg.Monitoring.RefreshBuffer)

	require.Len(t, cfg.Accounts, 2)
	accounts := cfg.AccountList()
	acc, ok := accounts.FindByID("acme")
	require.True(t, ok)
	assert.Equal(t, models.ProviderAnthropic, acc.Provider)
	assert.Equal(t, []models.SourceKind{models.SourceSession, models.SourceLocalStats, models.SourceProbe}, acc.Sources)
	assert.Equal(t, uint64(5000), acc.QuotaCeiling)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "probe not last",
			yaml: `
accounts:
  - id: a
    provider: openai
    sources: [probe, oauth]
    credentials_ref: a.json
`,
			want: "last source must be the probe",
		},
		{
			name: "duplicate account",
			yaml: `
accounts:
  - id: a
    provider: openai
    sources: [probe]
  - id: a
    provider: openai
    sources: [probe]
`,
			want: "duplicate account ID",
		},
		{
			name: "allowed account not configured",
			yaml: `
monitoring:
  allowed_accounts: [ghost]
`,
			want: "not configured",
		},
		{
			name: "fetch timeout exceeds cycle timeout",
			yaml: `
monitoring:
  cycle_timeout: 5s
  fetch_timeout: 10s
`,
			want: "fetch_timeout",
		},
		{
			name: "alerts without telegram",
			yaml: `
alerts:
  enabled: true
`,
			want: "telegram",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoaderEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CRED_DIR", "/var/lib/deck")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "credentials:\n  dir: ${TEST_CRED_DIR}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/deck", cfg.Credentials.Dir)
	assert.Same(t, cfg, loader.Get())
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}
