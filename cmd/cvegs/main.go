// cvegs codifies free-text vehicle descriptions into AMIS CVEGS codes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Set via -ldflags at release time.
	version = "dev"

	flagConfig string
	flagDB     string
	flagLLM    string
	flagEmbed  string
	flagDebug  bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cvegs",
	Short: "Codify vehicle descriptions into AMIS CVEGS codes",
	Long: `cvegs maps (model year, free-text description) pairs onto CVEGS codes from
the AMIS insurance catalog. It extracts brand, model line and vehicle type
from the text, filters the catalog year cohort, ranks candidates with fuzzy,
embedding and LLM signals, and emits an auto_accept / needs_review / no_match
decision with scored candidates for reviewers.

Examples:
  cvegs match 2022 "TOYOTA YARIS SOL L"
  cvegs batch --input vehicles.csv --output results.json
  cvegs refresh
  cvegs mcp --metrics-addr :9090`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if flagDebug {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Catalog sqlite path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLLM, "llm", "", "LLM spec 'provider/model' (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagEmbed, "embed", "", "Embedding spec 'provider/model' (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Verbose logging and pipeline diagnostics")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cvegs: %v\n", err)
		os.Exit(1)
	}
}
