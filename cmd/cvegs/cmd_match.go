package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hurttlocker/cvegs/internal/match"
)

var flagMatchDeadline time.Duration

var matchCmd = &cobra.Command{
	Use:   "match <year> <description...>",
	Short: "Codify a single vehicle description",
	Long: `Runs the full pipeline for one (year, description) pair and prints the
decision as JSON.

Examples:
  cvegs match 2022 "TOYOTA YARIS SOL L"
  cvegs match 2020 INTERNATIONAL TRACTO CAMION 4X2 DIESEL --debug`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().DurationVar(&flagMatchDeadline, "deadline", 0, "Per-request deadline (default from config)")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid year %q", args[0])
	}
	description := strings.Join(args[1:], " ")

	engine, closeStore, err := buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := engine.Match(cmd.Context(), match.Request{
		Year:        year,
		Description: description,
		Deadline:    flagMatchDeadline,
		Debug:       flagDebug,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
