package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/db"
	"github.com/vykuang/mh-flight-logs/pkg/buildinfo"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
	"github.com/vykuang/mh-flight-logs/report"
)

// reportTexter is the slice of *report.Builder the tool needs.
type reportTexter interface {
	Text(ctx context.Context, date string) (*report.Report, string, error)
}

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol
	logger.Init(logger.Config{Level: cfg.LoggingConfig.Level, Format: cfg.LoggingConfig.Format, Output: os.Stderr})

	ctx := context.Background()
	store, err := db.Open(ctx, cfg.StoreConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	builder, err := report.NewBuilder(store, cfg.ReportConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading report template: %v\n", err)
		os.Exit(1)
	}

	s := newServer(builder)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}

func newServer(reports reportTexter) *server.MCPServer {
	s := server.NewMCPServer(
		"mh-flight-logs-mcp",
		buildinfo.Version,
		server.WithLogging(),
	)

	tool := mcp.NewTool("flight_delay_report",
		mcp.WithDescription("Delay summary for the tracked airline on one day: number of delayed flights, average delay and the most delayed flights, as stored by the daily poller"),
		mcp.WithString("date",
			mcp.Required(),
			mcp.Description("Date to report on (YYYY-MM-DD)"),
		),
	)
	s.AddTool(tool, reportHandler(reports))
	return s
}

func reportHandler(reports reportTexter) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		argsMap, ok := request.Params.Arguments.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("Invalid arguments format"), nil
		}

		date, _ := argsMap["date"].(string)
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid date %q, expected YYYY-MM-DD", date)), nil
		}

		r, text, err := reports.Text(ctx, date)
		if err != nil {
			logger.Error(err, "flight_delay_report failed", "date", date)
			return mcp.NewToolResultError(fmt.Sprintf("Error building report: %v", err)), nil
		}

		jsonBytes, err := json.MarshalIndent(report.Rendered{Report: r, Text: text}, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Error marshaling response: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}
