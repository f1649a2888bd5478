package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/usagedeck/usagedeck/internal/config"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "doctor"},
	Short:   "Validate configuration and credential files",
	Long: `Perform a zero-config health check of the UsageDeck setup.

This command checks:
- Configuration validity
- Credential directory access
- Per-account credential files

Example:
  usagedeck check`,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	results := []CheckResult{checkConfig()}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err == nil {
		results = append(results, checkCredentialDir(cfg))
		results = append(results, checkAccountCredentials(cfg)...)
	}

	return outputCheckResults(results)
}

func checkConfig() CheckResult {
	result := CheckResult{Name: "Configuration", Status: "OK"}

	loader := config.NewLoader(globalFlags.Config)
	if _, err := loader.Load(); err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to load configuration: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("Configuration valid at: %s", globalFlags.Config)
	return result
}

func checkCredentialDir(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "Credentials", Status: "OK"}

	info, err := os.Stat(cfg.Credentials.Dir)
	if err != nil {
		result.Status = "WARN"
		result.Message = fmt.Sprintf("Credential directory unavailable: %v", err)
		return result
	}
	if !info.IsDir() {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("%s is not a directory", cfg.Credentials.Dir)
		return result
	}

	result.Message = fmt.Sprintf("Credential directory: %s", cfg.Credentials.Dir)
	return result
}

func checkAccountCredentials(cfg *config.Config) []CheckResult {
	var results []CheckResult
	for _, acc := range cfg.Accounts {
		if acc.CredentialsRef == "" {
			continue
		}
		result := CheckResult{Name: "Account " + acc.ID, Status: "OK"}
		path := filepath.Join(cfg.Credentials.Dir, acc.CredentialsRef)
		if _, err := os.Stat(path); err != nil {
			result.Status = "WARN"
			result.Message = fmt.Sprintf("Credential file missing: %s", path)
		} else {
			result.Message = fmt.Sprintf("Credential file present: %s", path)
		}
		results = append(results, result)
	}
	return results
}

func outputCheckResults(results []CheckResult) error {
	if globalFlags.JSON {
		return printJSON(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	failed := false
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, r.Message)
		if r.Status == "FAIL" {
			failed = true
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
