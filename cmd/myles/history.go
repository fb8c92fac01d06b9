package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/myles/internal/conversation"
	"github.com/kalambet/myles/internal/export"
	"github.com/kalambet/myles/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and export past chats",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(appCfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		sessions, err := store.ListSessions(limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No chats found.")
			return nil
		}
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			fmt.Fprintf(out, "%s  %s  %3d turns  %s\n",
				colorize(idStyle, shortID(s.ID)),
				s.CreatedAt.Local().Format("2006-01-02 15:04"),
				s.TurnCount,
				title,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(appCfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		sess, turns, err := loadTranscript(store, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if sess.Title != "" {
			fmt.Fprintln(out, colorize(boldStyle, sess.Title))
		}
		fmt.Fprintf(out, "%s  %s\n\n", sess.ID, sess.CreatedAt.Local().Format("2006-01-02 15:04"))
		r := renderer()
		for _, t := range turns {
			fmt.Fprintln(out, r.Turn(toConversationTurn(t)))
		}
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a chat as JSON, YAML or Markdown",
	Long: `Export a chat transcript.

Examples:
  myles history export 3f2a --format md
  myles history export 3f2a --format yaml --output chat.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		exp, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		store, err := openStore(appCfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		sess, turns, err := loadTranscript(store, args[0])
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := exp.Export(export.FromStorage(sess, turns), w); err != nil {
			return fmt.Errorf("exporting: %w", err)
		}
		if output != "" {
			printSuccess("Chat exported to %s", output)
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(appCfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		sess, err := store.GetSession(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no chat matches %q", args[0])
		}
		if err != nil {
			return err
		}
		if err := store.DeleteSession(sess.ID); err != nil {
			return err
		}
		printSuccess("Deleted chat %s", shortID(sess.ID))
		return nil
	},
}

var historyFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "List uploaded company files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(appCfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		uploads, err := store.ListUploads(limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(uploads) == 0 {
			fmt.Fprintln(out, "No uploaded files.")
			return nil
		}
		for _, u := range uploads {
			fmt.Fprintf(out, "%s  %-30s  %8d bytes  %d companies\n",
				u.CreatedAt.Local().Format("2006-01-02 15:04"), u.Filename, u.SizeBytes, u.Companies)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of chats to list")
	historyFilesCmd.Flags().Int("limit", 20, "maximum number of files to list")
	historyExportCmd.Flags().String("format", "json", "export format: json, yaml or md")
	historyExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd, historyDeleteCmd, historyFilesCmd)
}

func loadTranscript(store *storage.Store, id string) (storage.Session, []storage.Turn, error) {
	sess, err := store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, nil, fmt.Errorf("no chat matches %q", id)
	}
	if err != nil {
		return storage.Session{}, nil, err
	}
	turns, err := store.GetTurns(sess.ID)
	if err != nil {
		return storage.Session{}, nil, err
	}
	return sess, turns, nil
}

func toConversationTurn(t storage.Turn) conversation.Turn {
	return conversation.Turn{
		ID:          t.ID,
		Role:        conversation.Role(t.Role),
		Text:        t.Text,
		SourceLinks: t.SourceLinks,
		Items:       t.Items,
		ResultFile:  t.ResultFile,
		Confidence:  t.Confidence,
		CreatedAt:   t.CreatedAt,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
