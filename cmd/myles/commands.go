package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/myles/internal/backend"
	"github.com/kalambet/myles/internal/batch"
	"github.com/kalambet/myles/internal/companies"
	"github.com/kalambet/myles/internal/conversation"
	"github.com/kalambet/myles/internal/progress"
	"github.com/kalambet/myles/internal/render"
	"github.com/kalambet/myles/internal/session"
	"github.com/kalambet/myles/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func runChat(cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		Backend:        newBackend(appCfg),
		In:             cmd.InOrStdin(),
		Out:            cmd.OutOrStdout(),
		Color:          !noColor && render.IsTerminal(cmd.OutOrStdout()),
		Loader:         appCfg.Chat.Loader,
		LoaderInterval: appCfg.Chat.LoaderInterval,
		DownloadDir:    appCfg.Download.Dir,
	}

	if store, err := openStore(appCfg); err != nil {
		printWarning("history disabled: %v", err)
	} else {
		defer store.Close()
		opts.Store = store
	}

	if prog, err := session.OpenProgress(appCfg.Progress, slog.Default()); err != nil {
		printWarning("batch progress unavailable: %v", err)
	} else {
		opts.Progress = prog
	}

	s := session.New(opts)

	// Ctrl-C cancels the running search first and leaves the chat when
	// nothing is running.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				s.Interrupt()
			}
		}
	}()

	return s.Run(ctx)
}

// --- find ---

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Run a single contact search",
	Long: `Run a single contact search and print the answer.

Examples:
  myles find "Find contact info for Lee's Custom Woodwork"
  myles find --url https://geab.se "email addresses"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		pageURL, _ := cmd.Flags().GetString("url")

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		m := conversation.NewMachine()
		if _, err := m.Send(query); err != nil {
			return err
		}
		printStep("Searching for information...")
		res, err := newBackend(appCfg).Find(ctx, query, pageURL)
		if err != nil {
			return fmt.Errorf("find: %w", err)
		}
		m.FindDone(res, nil)

		fmt.Fprint(cmd.OutOrStdout(), renderer().Turn(lastTurn(m)))
		return nil
	},
}

func init() {
	findCmd.Flags().String("url", "", "page to scrape directly instead of searching")
}

// --- bulk ---

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Search across a list of companies",
	Long: `Search across every company in a local list. Lists may be .txt (one
name per line), .csv (first column) or .pdf (one name per text line).

Examples:
  myles bulk --file companies.txt --query "email addresses"
  myles bulk --file leads.csv --query "phone numbers" --download`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		query, _ := cmd.Flags().GetString("query")
		download, _ := cmd.Flags().GetBool("download")
		if file == "" || strings.TrimSpace(query) == "" {
			return fmt.Errorf("--file and --query are required")
		}

		names, err := companies.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}
		if len(names) == 0 {
			return fmt.Errorf("no companies found in %s", file)
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		m := conversation.NewMachine()
		m.Upload(conversation.UploadOutcome{
			Filename: filepath.Base(file),
			Result:   &backend.UploadResult{Companies: names},
		})
		eff, err := m.Send(query)
		if err != nil {
			return err
		}

		var src progress.Source
		if prog, err := session.OpenProgress(appCfg.Progress, slog.Default()); err != nil {
			printWarning("batch progress unavailable: %v", err)
		} else {
			src = prog.Source
			if prog.Serve != nil {
				go prog.Serve(ctx)
			}
		}

		r := renderer()
		printStep("Searching for %q across %d companies...", query, len(names))
		b := newBackend(appCfg)
		sink := &cliSink{m: m, r: r}
		batch.New(b, src, slog.Default()).Run(ctx, batch.Job{BatchID: eff.BatchID, Items: eff.Items, Query: eff.Query}, sink)
		if sink.err != nil {
			return fmt.Errorf("bulk search: %w", sink.err)
		}

		final := lastTurn(m)
		fmt.Fprint(cmd.OutOrStdout(), r.Turn(final))

		if download && final.ResultFile != "" {
			path, n, err := session.DownloadTo(ctx, b, appCfg.Download.Dir, final.ResultFile)
			if err != nil {
				return fmt.Errorf("downloading results: %w", err)
			}
			printSuccess("Saved %s (%d bytes)", path, n)
		}
		return nil
	},
}

func init() {
	bulkCmd.Flags().String("file", "", "company list (.txt, .csv or .pdf)")
	bulkCmd.Flags().String("query", "", "what to search for across the companies")
	bulkCmd.Flags().Bool("download", false, "save the result file when the search completes")
}

// cliSink feeds orchestrator callbacks into a Machine and prints progress.
// Progress and Done are never called concurrently.
type cliSink struct {
	m   *conversation.Machine
	r   *render.Renderer
	err error
}

func (s *cliSink) Progress(batchID, item string) {
	if s.m.Progress(batchID, item) {
		printStep("%s", s.r.Progress(s.m.Snapshot(), item))
	}
}

func (s *cliSink) Done(batchID string, res *backend.BulkResult, err error) {
	s.err = err
	s.m.BatchDone(batchID, res, err)
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a company list to the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := companies.PrepareUpload(args[0])
		if err != nil {
			return err
		}
		if u.Converted {
			printStep("Converted %s to %s (%d companies)", filepath.Base(args[0]), u.Name, len(u.Companies))
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		res, err := newBackend(appCfg).Upload(ctx, u.Name, bytes.NewReader(u.Data))
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}

		out := cmd.OutOrStdout()
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
		if len(res.Companies) > 0 {
			fmt.Fprintf(out, "Found %d companies in the file.\n", len(res.Companies))
		}
		recordUpload(u.Name, int64(len(u.Data)), len(res.Companies))
		printSuccess("Uploaded %s", u.Name)
		return nil
	},
}

func recordUpload(name string, size int64, count int) {
	store, err := openStore(appCfg)
	if err != nil {
		slog.Debug("upload not recorded", "error", err)
		return
	}
	defer store.Close()
	err = store.SaveUpload(storage.Upload{
		ID:        uuid.NewString(),
		Filename:  name,
		SizeBytes: size,
		Companies: count,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("recording upload", "error", err)
	}
}

// --- searches ---

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List saved bulk search results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		names, err := newBackend(appCfg).SavedSearches(ctx)
		if err != nil {
			return fmt.Errorf("saved searches: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No saved searches.")
			return nil
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	},
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download <file>",
	Short: "Save a result file locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = appCfg.Download.Dir
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		path, n, err := session.DownloadTo(ctx, newBackend(appCfg), dir, args[0])
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		printSuccess("Saved %s (%d bytes)", path, n)
		return nil
	},
}

func init() {
	downloadCmd.Flags().String("dir", "", "directory to save into (default: download.dir)")
}

func lastTurn(m *conversation.Machine) conversation.Turn {
	turns := m.Turns()
	return turns[len(turns)-1]
}
