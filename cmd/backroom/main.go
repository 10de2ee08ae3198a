// Package main provides the Backroom CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/backroomhq/backroom/internal/config"
	"github.com/backroomhq/backroom/internal/observability"
)

const version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "backroom",
	Short: "Backroom catalog ingestion and receiving service",
	Long: `Backroom manages supplier catalog ingestion and goods receiving.

Use this tool to:
- Run the HTTP API server backing the store UI
- Drive a brochure extraction run from the terminal
- Receive deliveries by scanning barcodes or SKUs
- Inspect uploaded source files

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; a broken config file is not.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}
		logLevel := cfg.Observability.LogLevel
		if verbose {
			logLevel = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       logLevel,
			Format:      logFormat,
			ServiceName: cfg.Observability.ServiceName,
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newFilesCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("backroom %s\n", version)
		},
	}
}
