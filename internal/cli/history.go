package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/payload"
)

// HistoryAddOptions holds flags for history add.
type HistoryAddOptions struct {
	*RootOptions
	Exit     int64
	Duration time.Duration
	Cwd      string
	Session  string
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Record and list shell history",
	}
	cmd.AddCommand(newHistoryAddCommand(rootOpts), newHistoryDeleteCommand(rootOpts), newHistoryListCommand(rootOpts))
	return cmd
}

func newHistoryAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add [flags] -- <command...>",
		Short: "Record an executed command",
		Long: `Append a history entry to this device's history stream and to the local
history table.

Example:
  histsync history add --exit 0 --duration 1.2s --cwd "$PWD" -- git status`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			hostname, _ := os.Hostname()
			cwd := opts.Cwd
			if cwd == "" {
				cwd, _ = os.Getwd()
			}
			entry := payload.HistoryEntry{
				ID:        uuid.Must(uuid.NewV7()).String(),
				Timestamp: time.Now().UnixNano(),
				Duration:  int64(opts.Duration),
				Exit:      opts.Exit,
				Command:   strings.Join(args, " "),
				Cwd:       cwd,
				Session:   opts.Session,
				Hostname:  hostname,
			}
			rec, err := e.append(cmd.Context(), payload.HistoryCreate{Entry: entry})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to record history", err)
			}

			return opts.output(cmd).Success(map[string]any{"id": entry.ID, "idx": rec.Idx}, func(w io.Writer) {
				fmt.Fprintln(w, entry.ID)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Exit, "exit", 0, "exit status of the command")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "how long the command ran")
	cmd.Flags().StringVar(&opts.Cwd, "cwd", "", "working directory (default: current)")
	cmd.Flags().StringVar(&opts.Session, "session", os.Getenv("HISTSYNC_SESSION"), "shell session id")
	return cmd
}

func newHistoryDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a history entry on every device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.append(cmd.Context(), payload.HistoryDelete{ID: args[0]}); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete history entry", err)
			}
			return rootOpts.output(cmd).Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s deleted %s\n", okMark, args[0])
			})
		},
	}
}

func newHistoryListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.history.List(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list history", err)
			}
			return rootOpts.output(cmd).Success(entries, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, h := range entries {
					ts := time.Unix(0, h.Timestamp).Local().Format("2006-01-02 15:04:05")
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ts, h.Hostname, h.Exit, h.Command)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries (0 for all)")
	return cmd
}
