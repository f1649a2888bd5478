package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/config"
)

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"a", "acc", "list"},
	Short:   "List configured accounts",
	Long: `Display every configured account with its provider, tier, source
chain, and whether the monitoring gate currently includes it.

Examples:
  # Show all accounts
  usagedeck accounts

  # Filter by provider
  usagedeck accounts --provider openai

  # Output as JSON
  usagedeck accounts --json | jq '.'`,
	RunE: runAccounts,
}

var accountsFlags struct {
	Provider string
}

func init() {
	accountsCmd.Flags().StringVar(&accountsFlags.Provider, "provider", "", "Filter by provider (e.g., openai, anthropic)")

	RootCmd.AddCommand(accountsCmd)
}

// AccountDisplayInfo is the per-account row for list output.
type AccountDisplayInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Provider  string `json:"provider"`
	Tier      string `json:"tier,omitempty"`
	Sources   string `json:"sources"`
	Monitored bool   `json:"monitored"`
}

func runAccounts(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	allowed := make(map[string]struct{}, len(cfg.Monitoring.AllowedAccounts))
	for _, id := range cfg.Monitoring.AllowedAccounts {
		allowed[id] = struct{}{}
	}

	var rows []AccountDisplayInfo
	for _, acc := range cfg.Accounts {
		if accountsFlags.Provider != "" && acc.Provider != accountsFlags.Provider {
			continue
		}
		monitored := cfg.Monitoring.Enabled
		if len(allowed) > 0 {
			_, ok := allowed[acc.ID]
			monitored = monitored && ok
		}
		rows = append(rows, AccountDisplayInfo{
			ID:        acc.ID,
			Name:      acc.DisplayName,
			Provider:  acc.Provider,
			Tier:      acc.Tier,
			Sources:   strings.Join(acc.Sources, ","),
			Monitored: monitored,
		})
	}

	if globalFlags.JSON {
		return printJSON(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tPROVIDER\tTIER\tSOURCES\tMONITORED\n")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
			row.ID, row.Name, row.Provider, row.Tier, row.Sources, row.Monitored)
	}
	return w.Flush()
}
