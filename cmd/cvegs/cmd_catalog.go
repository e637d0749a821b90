package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the active catalog version into the snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		// buildEngine already performed the initial load; run one more
		// refresh so a version activated moments ago is picked up too.
		if err := engine.Refresh(cmd.Context()); err != nil {
			return err
		}
		stats, err := engine.Stats()
		if err != nil {
			return err
		}
		logger.Info("catalog refreshed",
			zap.Int64("version", stats.Version),
			zap.Int("records", stats.RecordCount),
			zap.Int("embeddings", stats.EmbeddingCount))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the published catalog snapshot statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		stats, err := engine.Stats()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(statsCmd)
}
