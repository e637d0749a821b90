package main

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/mcp"
	"github.com/hurttlocker/cvegs/internal/metrics"
)

var flagMetricsAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the codifier over the Model Context Protocol (stdio)",
	Long: `Exposes cvegs_match, cvegs_refresh and cvegs_stats as MCP tools over stdio,
for use from agent frontends. With --metrics-addr, prometheus metrics are
served on the side.

Example:
  cvegs mcp --db catalog.db --llm google/gemini-2.0-flash --metrics-addr :9090`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Address for the prometheus /metrics endpoint (empty = disabled)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	engine, closeStore, err := buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	if flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", flagMetricsAddr))
	}

	srv := mcp.NewServer(mcp.ServerConfig{Engine: engine, Version: version})
	logger.Info("serving MCP over stdio")
	return server.ServeStdio(srv)
}
