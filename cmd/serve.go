package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mcpmux/internal/app"
)

// serveDebug enables verbose logging across the daemon.
var serveDebug bool

// newServeCmd creates the `serve` command: the daemon's main entry point,
// hosting the aggregated upstream MCP endpoint until signaled to stop.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aggregated MCP upstream server",
		Long: `serve loads config.json, the catalog, and the auth store, admits the
active set from the persisted queue, and hosts the aggregated endpoint over
streamable HTTP until interrupted.

Environment variables:
  MCP_CONFIG_PATH    path to config.json (default "config.json")
  PORT               upstream listen port (default 9999)
  KEEP_SERVER_OPEN   "1" to keep serving after a client tears down its session (DELETE /mcp)
  OPENAI_API_KEY     enables the embeddings path of search_mcps`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	port := app.DefaultPort
	if raw := os.Getenv("PORT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return newUsageError(fmt.Errorf("invalid PORT %q: %w", raw, err))
		}
		port = parsed
	}

	cfg := app.NewConfig(
		os.Getenv("MCP_CONFIG_PATH"),
		port,
		os.Getenv("KEEP_SERVER_OPEN") == "1",
		os.Getenv("OPENAI_API_KEY"),
		serveDebug,
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
