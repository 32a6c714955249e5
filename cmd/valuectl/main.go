// Package main provides the valuectl operator CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vehicle-valuation/internal/config"
	"github.com/vehicle-valuation/internal/logging"
)

var (
	// Global flags
	verbose bool

	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "valuectl",
	Short: "Operator CLI for the vehicle valuation engine",
	Long: `valuectl runs schema migrations, values a single vehicle without the
HTTP server and exercises the text fact parser.

Configuration comes from the environment and an optional .env file, the same
way the server reads it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := logging.ParseLogLevel(cfg.Logging.Level)
		if verbose {
			level = logging.LevelDebug
		}
		// logs go to stderr so stdout stays machine readable
		logger = logging.NewLogger(level, logging.ParseLogFormat(cfg.Logging.Format))
		logger.SetOutput(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newValuateCmd())
	rootCmd.AddCommand(newParseCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
