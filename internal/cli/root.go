package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "usagedeck",
	Short: "UsageDeck - AI Provider Usage Monitoring",
	Long: `UsageDeck collects usage and quota data for AI provider accounts.

Each account resolves through an ordered chain of sources (web session,
OAuth telemetry, local statistics, baseline probe), falling through on
missing or expired credentials until one source produces usable data.

Usage:
  usagedeck [command] [flags]

Available Commands:
  serve      Start the UsageDeck server (main mode)
  fetch      Run a single fetch cycle and print the snapshot
  accounts   List configured accounts
  check      Validate configuration and credential files
  version    Print the version number

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --verbose         Enable verbose output
  --json            Output in JSON format

Use "usagedeck [command] --help" for more information about a command.`,
}

var globalFlags GlobalFlags

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv("USAGEDECK_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of UsageDeck",
	Run: func(cmd *cobra.Command, args []string) {
		info := GetVersionInfo()
		fmt.Println("UsageDeck Version:", info.Version)
		fmt.Println("Go Version:", info.GoVersion)
		fmt.Println("OS/Arch:", info.OS+"/"+info.Arch)
	},
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string
	GoVersion string
	OS        string
	Arch      string
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
