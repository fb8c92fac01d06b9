package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/myles/internal/api"
	"github.com/kalambet/myles/internal/config"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the contact finder as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Backend: newBackend(appCfg),
			Version: version,
		})
		slog.Info("MCP server started (stdio transport)", "backend", appCfg.Backend.BaseURL)

		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend reachability and local setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	b := newBackend(appCfg)
	searches, err := b.SavedSearches(ctx)
	if err != nil {
		printStatus("Backend", "unreachable at %s (%v)", b.BaseURL(), err)
	} else {
		printStatus("Backend", "running at %s", b.BaseURL())
		printStatus("Saved searches", "%d", len(searches))
	}

	switch appCfg.Progress.Mode {
	case config.ProgressHTTP:
		printStatus("Progress", "webhook on http://%s/progress", appCfg.Progress.ListenAddr)
	case config.ProgressNATS:
		printStatus("Progress", "nats %s (subject %s)", appCfg.Progress.NATSURL, appCfg.Progress.NATSSubject)
	default:
		printStatus("Progress", "disabled")
	}

	if store, err := openStore(appCfg); err != nil {
		printStatus("History", "unavailable (%v)", err)
	} else {
		sessions, err := store.ListSessions(100)
		if err == nil {
			printStatus("Chats", "%s", countLabel(len(sessions), 100))
		}
		store.Close()
	}

	printStatus("Data dir", "%s", appCfg.Storage.DataDir)
	printStatus("Config", "%s", config.Path())
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
