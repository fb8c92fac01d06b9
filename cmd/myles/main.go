package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/myles/internal/config"
)

var version = "dev"

var (
	noColor bool
	verbose bool

	// appCfg is loaded once before any command runs.
	appCfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "myles",
	Short: "Terminal client for the contact-finder assistant",
	Long: `Myles finds business contact information through the contact-finder
backend. Run without a subcommand to start an interactive chat.`,
	Version:           version,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd, findCmd, bulkCmd, uploadCmd, searchesCmd, downloadCmd)
	rootCmd.AddCommand(historyCmd, configCmd, mcpCmd, statusCmd)
}

// setup loads config and installs the default logger. Config commands
// still run with a broken config file so it can be repaired.
func setup(cmd *cobra.Command, args []string) error {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}

	cfg, err := config.Load()
	if err != nil {
		if !underConfigCmd(cmd) {
			return err
		}
		printWarning("config: %v", err)
	}
	appCfg = cfg

	level := slog.LevelWarn
	if cfg.Log.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			printWarning("unknown log.level %q, using warn", cfg.Log.Level)
			level = slog.LevelWarn
		}
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func underConfigCmd(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd {
			return true
		}
	}
	return false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
