package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/api"
	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/models"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the UsageDeck server",
	Long: `Start the UsageDeck server in main mode.

This command starts the HTTP server that serves usage snapshots,
per-account queries, and monitoring administration, and runs the
background fetch loop that keeps snapshots warm.

Example:
  usagedeck serve --config config.yaml

The server will start listening on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 30*time.Second, "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting UsageDeck server...")
		log.Printf("Config path: %s", globalFlags.Config)
	}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.close()

	// Account and server settings are fixed for the process lifetime;
	// a config rewrite is picked up for reference and logged so the
	// operator knows a restart applies the rest.
	loader.SetOnChange(func(updated *config.Config) {
		application.logger.Info("configuration file changed",
			"accounts", len(updated.Accounts),
			"note", "account and server changes apply on restart")
	})
	loader.StartWatcher(30 * time.Second)
	defer loader.StopWatcher()

	server := api.NewServer(cfg.Server, application.aggregator, application.history,
		application.metrics, application.logger, cfg.Monitoring.Window)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go runFetchLoop(loopCtx, application)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	signals := api.SetupSignalHandler()
	select {
	case sig := <-signals:
		application.logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	stopLoop()
	if err := server.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// runFetchLoop refreshes the snapshot on the monitoring cadence so API
// reads stay cache-warm, and appends each fresh cycle to the history
// log. A cached snapshot comes back as the same pointer, so it is
// recorded only once.
func runFetchLoop(ctx context.Context, application *app) {
	window := application.cfg.Monitoring.Window
	interval := application.cfg.Monitoring.SnapshotTTL

	var last *models.Snapshot
	last = runCycle(ctx, application, window, last)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last = runCycle(ctx, application, window, last)
		}
	}
}

func runCycle(ctx context.Context, application *app, window time.Duration, last *models.Snapshot) *models.Snapshot {
	snapshot := application.aggregator.FetchAll(ctx, window)
	if application.history == nil || snapshot == last {
		return snapshot
	}
	if err := application.history.Append(ctx, snapshot); err != nil {
		application.logger.Warn("history append failed", "error", err.Error())
	}
	return snapshot
}
