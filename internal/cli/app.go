package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/usagedeck/usagedeck/internal/aggregate"
	"github.com/usagedeck/usagedeck/internal/alerts"
	"github.com/usagedeck/usagedeck/internal/cache"
	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/credstore"
	"github.com/usagedeck/usagedeck/internal/history"
	"github.com/usagedeck/usagedeck/internal/logging"
	"github.com/usagedeck/usagedeck/internal/metrics"
	"github.com/usagedeck/usagedeck/internal/models"
	"github.com/usagedeck/usagedeck/internal/normalize"
	"github.com/usagedeck/usagedeck/internal/resolver"
	"github.com/usagedeck/usagedeck/internal/sources"
	"github.com/usagedeck/usagedeck/internal/store"
	"github.com/usagedeck/usagedeck/internal/token"
	"github.com/usagedeck/usagedeck/pkg/headers"
)

// defaultTokenURL is the OAuth token endpoint used for refresh grants
// when no account overrides it.
const defaultTokenURL = "https://console.anthropic.com/v1/oauth/token"

// app holds the assembled runtime components. serve keeps it for the
// lifetime of the process; fetch tears it down after one cycle.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	creds      *credstore.FileStore
	tokens     *token.Manager
	cache      *cache.TTLCache
	records    *store.MemoryStore
	aggregator *aggregate.Aggregator
	history    *history.Log
}

// buildApp wires every component from configuration. The caller owns
// the returned app and must call close when done.
func buildApp(cfg *config.Config) (*app, error) {
	logger := logging.NewLogger(
		logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)),
		logging.WithService("usagedeck"),
	)
	m := metrics.NewMetrics("usagedeck")

	norm := normalize.New(priceOverrides(cfg.Pricing))
	endpoints, refs := endpointTable(cfg)

	refresher := credstore.NewRefresher(
		refreshTokenURL(cfg),
		os.Getenv("USAGEDECK_OAUTH_CLIENT_ID"),
		&http.Client{Timeout: 15 * time.Second},
	)
	creds := credstore.NewFileStore(cfg.Credentials.Dir, refs, refresher, logger)

	tokens := token.NewManager(creds, logger,
		token.WithRefreshBuffer(cfg.Monitoring.RefreshBuffer),
		token.WithRecorder(m),
	)
	// A credential file rewritten on disk invalidates the cached token
	// so the next fetch re-extracts instead of using stale state.
	creds.SetOnChange(tokens.Invalidate)
	if cfg.Credentials.Watch {
		if err := creds.StartWatcher(); err != nil {
			logger.Warn("credential watcher unavailable", "error", err.Error())
		}
	}

	client := sources.NewBrowserClient(cfg.Monitoring.FetchTimeout)
	retry := sources.RetryPolicy{
		Attempts:  cfg.Monitoring.Retry.Attempts,
		BaseDelay: cfg.Monitoring.Retry.BaseDelay,
	}
	members := []sources.Source{
		sources.NewSessionSource(client, creds, norm, headers.NewRegistry(), endpoints, retry, logger),
		sources.NewOAuthSource(client, tokens, norm, endpoints, retry, logger),
		sources.NewLocalStatsSource(norm, endpoints, logger),
		sources.NewProbeSource(client, norm, endpoints, retry, logger),
	}
	res := resolver.New(members, logger, resolver.WithRecorder(m))

	ttlCache := cache.New(cache.WithRecorder(m))
	ttlCache.StartSweeper(cfg.Monitoring.SweepInterval)

	records := store.NewMemoryStore(cfg.AccountList())
	monitor := models.NewMonitoringConfig(cfg.Monitoring.Enabled, cfg.Monitoring.AllowedAccounts)

	opts := []aggregate.Option{
		aggregate.WithRecorder(m),
		aggregate.WithCycleTimeout(cfg.Monitoring.CycleTimeout),
		aggregate.WithSnapshotTTL(cfg.Monitoring.SnapshotTTL),
	}
	if engine := buildAlerts(cfg, logger); engine != nil {
		opts = append(opts, aggregate.WithTransition(engine.Observe))
	}
	aggregator := aggregate.New(res, records, monitor, ttlCache, logger, opts...)

	var historyLog *history.Log
	if cfg.History.Enabled {
		var err error
		historyLog, err = history.Open(cfg.History.Path, cfg.History.Retention, logger)
		if err != nil {
			ttlCache.Stop()
			creds.StopWatcher()
			return nil, fmt.Errorf("failed to open history log: %w", err)
		}
		historyLog.StartTrimmer(cfg.History.TrimInterval)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		creds:      creds,
		tokens:     tokens,
		cache:      ttlCache,
		records:    records,
		aggregator: aggregator,
		history:    historyLog,
	}, nil
}

func (a *app) close() {
	a.cache.Stop()
	a.creds.StopWatcher()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("history close failed", "error", err.Error())
		}
	}
}

// buildAlerts returns nil when alerting is disabled or unconfigured.
func buildAlerts(cfg *config.Config, logger *logging.Logger) *alerts.Engine {
	if !cfg.Alerts.Enabled {
		return nil
	}
	var notifier alerts.Notifier
	if tn := alerts.NewTelegramNotifier(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatID); tn != nil {
		notifier = tn
	}
	if notifier == nil {
		logger.Warn("alerts enabled but no notifier configured")
		return nil
	}
	return alerts.NewEngine(alerts.Config{
		LowQuotaPercent:  models.Percentage(cfg.Alerts.LowQuotaPercent),
		ErrorTransitions: cfg.Alerts.ErrorTransitions,
		Throttle:         cfg.Alerts.Throttle,
	}, notifier, logger)
}

func priceOverrides(pricing map[string]config.Price) map[string]normalize.Price {
	if len(pricing) == 0 {
		return nil
	}
	overrides := make(map[string]normalize.Price, len(pricing))
	for model, p := range pricing {
		overrides[model] = normalize.Price{
			InputPerMillion:       p.InputPerMillion,
			OutputPerMillion:      p.OutputPerMillion,
			CacheReadPerMillion:   p.CacheReadPerMillion,
			CacheCreatePerMillion: p.CacheCreatePerMillion,
		}
	}
	return overrides
}

// endpointTable converts per-account config overrides into the source
// endpoint map and the credential reference map.
func endpointTable(cfg *config.Config) (sources.EndpointMap, map[string]string) {
	endpoints := make(sources.EndpointMap, len(cfg.Accounts))
	refs := make(map[string]string, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		ep := sources.Endpoints{
			SessionURL: acc.Endpoints.SessionURL,
			UsageURL:   acc.Endpoints.UsageURL,
			ProbeURL:   acc.Endpoints.ProbeURL,
			StatsPath:  acc.Endpoints.StatsPath,
		}
		if ep != (sources.Endpoints{}) {
			endpoints[acc.ID] = ep
		}
		if acc.CredentialsRef != "" {
			refs[acc.ID] = acc.CredentialsRef
		}
	}
	return endpoints, refs
}

func refreshTokenURL(cfg *config.Config) string {
	for _, acc := range cfg.Accounts {
		if acc.Endpoints.TokenURL != "" {
			return acc.Endpoints.TokenURL
		}
	}
	return defaultTokenURL
}
