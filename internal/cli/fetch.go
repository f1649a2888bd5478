package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/config"
	"github.com/usagedeck/usagedeck/internal/models"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:     "fetch",
	Aliases: []string{"f", "snapshot", "usage"},
	Short:   "Run a single fetch cycle and print the snapshot",
	Long: `Resolve usage for every monitored account once and print the result.

Each account walks its configured source chain until one source
produces usable data. Accounts whose chain is exhausted appear with
an error status and the last failure reason.

Examples:
  # Print the snapshot as a table
  usagedeck fetch

  # Query a shorter window
  usagedeck fetch --window 1h

  # Output as JSON
  usagedeck fetch --json | jq '.summary'`,
	RunE: runFetch,
}

var fetchFlags struct {
	Window  time.Duration
	Account string
}

func init() {
	fetchCmd.Flags().DurationVar(&fetchFlags.Window, "window", 0, "Usage window (overrides config)")
	fetchCmd.Flags().StringVar(&fetchFlags.Account, "account", "", "Fetch a single account by ID")

	RootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.close()

	window := cfg.Monitoring.Window
	if fetchFlags.Window > 0 {
		window = fetchFlags.Window
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitoring.CycleTimeout+5*time.Second)
	defer cancel()

	if fetchFlags.Account != "" {
		record, err := application.aggregator.GetAccount(ctx, fetchFlags.Account, window)
		if err != nil {
			return err
		}
		return outputRecords([]*models.UsageRecord{record})
	}

	snapshot := application.aggregator.FetchAll(ctx, window)
	if globalFlags.JSON {
		return printJSON(snapshot)
	}
	if err := outputRecords(snapshot.Records); err != nil {
		return err
	}
	fmt.Printf("\n%d accounts, %d requests, $%.2f\n",
		snapshot.Summary.Accounts, snapshot.Summary.Requests, float64(snapshot.Summary.Cost))
	return nil
}

func outputRecords(records []*models.UsageRecord) error {
	if globalFlags.JSON {
		return printJSON(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ACCOUNT\tSTATUS\tSOURCE\tREQUESTS\tCOST\tQUOTA\tRESETS\n")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.2f\t%s\t%s\n",
			r.AccountID, r.Status, r.Source, r.Requests, float64(r.Cost),
			formatQuota(r.Quota), formatReset(r.Quota))
	}
	return w.Flush()
}

func formatQuota(q *models.QuotaWindow) string {
	if q == nil {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", q.Used, q.Limit, float64(q.UsedPercent()))
}

func formatReset(q *models.QuotaWindow) string {
	if q == nil || q.ResetAt.IsZero() {
		return "-"
	}
	remaining := time.Until(q.ResetAt).Round(time.Minute)
	if remaining < 0 {
		return "now"
	}
	return remaining.String()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
