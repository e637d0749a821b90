// Package mcp exposes the codifier over the Model Context Protocol.
//
// It provides match, refresh and stats as MCP tools over stdio transport, so
// agent frontends can codify vehicle descriptions without an HTTP deployment.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/cvegs/internal/match"
)

// ServerConfig holds everything the MCP surface needs.
type ServerConfig struct {
	Engine  *match.Engine
	Version string // server info version string
}

// NewServer creates the MCP server with all codifier tools registered.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"CVEGS Codifier",
		ver,
		server.WithToolCapabilities(false),
	)

	registerMatchTool(s, cfg.Engine)
	registerRefreshTool(s, cfg.Engine)
	registerStatsTool(s, cfg.Engine)

	return s
}

func registerMatchTool(s *server.MCPServer, engine *match.Engine) {
	tool := mcp.NewTool("cvegs_match",
		mcp.WithDescription("Codify a free-text vehicle description into a CVEGS code. Returns the decision (auto_accept, needs_review, no_match), the suggested code, and scored candidates."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("year",
			mcp.Required(),
			mcp.Description("Vehicle model year, e.g. 2022"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("Free-text vehicle description, e.g. 'TOYOTA YARIS SOL L'"),
		),
		mcp.WithBoolean("debug",
			mcp.Description("Include pipeline diagnostics in the result"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		year, err := req.RequireFloat("year")
		if err != nil {
			return mcp.NewToolResultError("year is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil || strings.TrimSpace(description) == "" {
			return mcp.NewToolResultError("description is required"), nil
		}
		debug := req.GetBool("debug", false)

		result, err := engine.Match(ctx, match.Request{
			Year:        int(year),
			Description: description,
			Debug:       debug,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("match failed: %v", err)), nil
		}
		return jsonResult(result)
	})
}

func registerRefreshTool(s *server.MCPServer, engine *match.Engine) {
	tool := mcp.NewTool("cvegs_refresh",
		mcp.WithDescription("Reload the active catalog version into the in-memory snapshot. Running matches keep the snapshot they started with."),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		if err := engine.Refresh(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("refresh failed: %v", err)), nil
		}
		stats, err := engine.Stats()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("refresh succeeded but stats failed: %v", err)), nil
		}
		return jsonResult(stats)
	})
}

func registerStatsTool(s *server.MCPServer, engine *match.Engine) {
	tool := mcp.NewTool("cvegs_stats",
		mcp.WithDescription("Report the published catalog snapshot: version, record and embedding counts, covered model years."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := engine.Stats()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		return jsonResult(stats)
	})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
