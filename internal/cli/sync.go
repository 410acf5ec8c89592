package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/lock"
	"github.com/roach88/histsync/internal/syncer"
)

type streamFailure struct {
	Host    string `json:"host"`
	Tag     string `json:"tag"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type syncResult struct {
	Uploaded   int             `json:"uploaded"`
	Downloaded int             `json:"downloaded"`
	Applied    int             `json:"applied"`
	Diverged   []streamFailure `json:"diverged"`
	Failed     []streamFailure `json:"failed"`
}

type syncMode int

const (
	modeSync syncMode = iota
	modePush
	modePull
)

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload local records the relay does not have",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd, modePush)
		},
	}
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download records from the relay and apply them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd, modePull)
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push and pull until the local store and the relay are level",
		Long: `Compare the local store with the relay, upload what the relay lacks and
download what the local store lacks. Downloaded history is applied to the
history table.

Streams whose chains do not line up are reported as diverged and left
alone; the rest of the pass continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd, modeSync)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command, mode syncMode) error {
	ctx := cmd.Context()
	e, err := openEnv(opts.Config)
	if err != nil {
		return err
	}
	defer e.Close()

	l, err := lock.Shared(e.lockPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "record store busy", err)
	}
	defer releaseLock(l)

	eng, err := e.engine()
	if err != nil {
		return err
	}

	var res syncer.Result
	switch mode {
	case modePush:
		res, err = eng.Push(ctx)
	case modePull:
		res, err = eng.Pull(ctx)
	default:
		res, err = eng.Sync(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "sync aborted", err)
	}

	applied, err := applyPulled(ctx, e, res)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to apply downloaded records", err)
	}

	out := syncResult{
		Uploaded:   res.Uploaded,
		Downloaded: res.Downloaded,
		Applied:    applied,
		Diverged:   failures(res.Diverged),
		Failed:     failures(res.Failed),
	}
	if err := opts.output(cmd).Success(out, func(w io.Writer) { printSync(w, out) }); err != nil {
		return err
	}
	if !res.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d streams diverged, %d failed", len(res.Diverged), len(res.Failed)))
	}
	return nil
}

// applyPulled folds downloaded records into the persistent builders.
func applyPulled(ctx context.Context, e *env, res syncer.Result) (int, error) {
	if len(res.Pulled) == 0 {
		return 0, nil
	}
	report, err := builder.Extend(ctx, e.key, builder.NewHistoryBuilder(e.history), res.Pulled)
	if err != nil {
		return report.Applied, err
	}
	for _, s := range report.Skipped {
		slog.Warn("skipped downloaded record", "id", s.ID.String(), "host", s.Host.String(), "idx", s.Idx, "code", s.Code)
	}
	return report.Applied, nil
}

func failures(errs []*syncer.StreamError) []streamFailure {
	out := make([]streamFailure, 0, len(errs))
	for _, se := range errs {
		out = append(out, streamFailure{
			Host:    se.Host.String(),
			Tag:     string(se.Tag),
			Code:    string(se.Code),
			Message: se.Err.Error(),
		})
	}
	return out
}

func printSync(w io.Writer, r syncResult) {
	mark := okMark
	if len(r.Diverged)+len(r.Failed) > 0 {
		mark = warnMark
	}
	fmt.Fprintf(w, "%s uploaded %d, downloaded %d records\n", mark, r.Uploaded, r.Downloaded)
	if r.Applied > 0 {
		fmt.Fprintf(w, "  %d history entries applied\n", r.Applied)
	}
	for _, f := range r.Diverged {
		fmt.Fprintf(w, "  %s diverged %s/%s: %s\n", warnMark, f.Host, f.Tag, f.Code)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  %s failed %s/%s: %s\n", failMark, f.Host, f.Tag, f.Message)
	}
}
