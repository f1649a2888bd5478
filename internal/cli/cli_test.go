package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagedeck/usagedeck/internal/config"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, RootCmd)
	assert.Equal(t, "usagedeck", RootCmd.Use)
	assert.Contains(t, RootCmd.Long, "UsageDeck")
}

func TestVersionCommand(t *testing.T) {
	assert.NotNil(t, versionCmd)
	assert.Equal(t, "version", versionCmd.Use)
}

func TestGetGlobalFlags(t *testing.T) {
	InitCLI()

	flags := GetGlobalFlags()
	assert.Equal(t, "config.yaml", flags.Config)
	assert.False(t, flags.Verbose)
	assert.False(t, flags.JSON)
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
}

func TestBuildAppWiresComponents(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials.Dir = t.TempDir()
	cfg.Credentials.Watch = false
	cfg.Accounts = []config.AccountConfig{
		{
			ID:             "acct-1",
			DisplayName:    "Team One",
			Provider:       "openai",
			Sources:        []string{"session", "probe"},
			CredentialsRef: "acct-1.json",
		},
	}

	application, err := buildApp(cfg)
	require.NoError(t, err)
	defer application.close()

	assert.NotNil(t, application.aggregator)
	assert.NotNil(t, application.tokens)
	assert.Nil(t, application.history)
	assert.Equal(t, []string{"acct-1"}, application.aggregator.AccountIDs())
}

func TestBuildAppWithHistory(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials.Dir = t.TempDir()
	cfg.Credentials.Watch = false
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(t.TempDir(), "usage.db")

	application, err := buildApp(cfg)
	require.NoError(t, err)
	defer application.close()

	assert.NotNil(t, application.history)
}

func TestEndpointTable(t *testing.T) {
	cfg := config.Default()
	cfg.Accounts = []config.AccountConfig{
		{
			ID:             "a1",
			Provider:       "anthropic",
			CredentialsRef: "a1.json",
			Endpoints:      config.EndpointsConfig{StatsPath: "/tmp/stats.json"},
		},
		{ID: "a2", Provider: "openai"},
	}

	endpoints, refs := endpointTable(cfg)

	assert.Equal(t, "/tmp/stats.json", endpoints["a1"].StatsPath)
	_, hasDefault := endpoints["a2"]
	assert.False(t, hasDefault)
	assert.Equal(t, map[string]string{"a1": "a1.json"}, refs)
}

func TestRefreshTokenURLOverride(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, defaultTokenURL, refreshTokenURL(cfg))

	cfg.Accounts = []config.AccountConfig{
		{ID: "a1", Endpoints: config.EndpointsConfig{TokenURL: "https://token.example.com"}},
	}
	assert.Equal(t, "https://token.example.com", refreshTokenURL(cfg))
}

func TestCheckConfigMissingFile(t *testing.T) {
	orig := globalFlags.Config
	globalFlags.Config = filepath.Join(t.TempDir(), "missing.yaml")
	defer func() { globalFlags.Config = orig }()

	result := checkConfig()
	assert.Equal(t, "FAIL", result.Status)
}

func TestCheckAccountCredentials(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.json"), []byte("{}"), 0o600))

	cfg := config.Default()
	cfg.Credentials.Dir = dir
	cfg.Accounts = []config.AccountConfig{
		{ID: "ok", Provider: "openai", CredentialsRef: "present.json"},
		{ID: "missing", Provider: "openai", CredentialsRef: "absent.json"},
		{ID: "none", Provider: "openai"},
	}

	results := checkAccountCredentials(cfg)
	require.Len(t, results, 2)
	assert.Equal(t, "OK", results[0].Status)
	assert.Equal(t, "WARN", results[1].Status)
}
