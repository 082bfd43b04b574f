package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/config"
)

var (
	// Global flags
	configPath  string
	destination string
	verbose     bool

	// Config instance
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "jiji",
		Short: "Deploy and discover containerized services across a fleet of servers",
		Long: `jiji deploys multiple services across multiple servers using Docker or
Podman, with health-gated proxy cut-over and automatic rollback on failure.

Get started:
  jiji init       Create a new project file
  jiji deploy     Deploy one or more services
  jiji rollback   Restore the last successful deployment
  jiji history    Inspect past deployments`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" || cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "dns" || cmd.Name() == "query" {
				return nil
			}

			// Load configuration
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to project file (default: .jiji/deploy.yml)")
	rootCmd.PersistentFlags().StringVarP(&destination, "destination", "d", "", "Destination environment (e.g., staging, production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return nil, fmt.Errorf("no project file found. Run 'jiji init' to create one")
	}

	loader := config.NewLoader(path, destination)
	return loader.Load()
}

// findConfigFile searches for a config file in standard locations
func findConfigFile() string {
	// Check common locations
	paths := []string{
		".jiji/deploy.yml",
		".jiji/deploy.yaml",
		"deploy.yml",
		"deploy.yaml",
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}

// GetConfigPath returns the resolved config file path
func GetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return findConfigFile()
}

// GetDestination returns the destination environment
func GetDestination() string {
	return destination
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// getConfigDir returns the directory containing the config file
func getConfigDir() string {
	path := GetConfigPath()
	if path == "" {
		return ".jiji"
	}
	return filepath.Dir(path)
}
