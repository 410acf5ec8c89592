package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/syncer"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Remote bool
}

type streamStatus struct {
	Host    string `json:"host"`
	Tag     string `json:"tag"`
	Count   int    `json:"count"`
	First   uint64 `json:"first_idx"`
	Last    uint64 `json:"last_idx"`
	Updated string `json:"updated"`
	Current bool   `json:"current_host"`
}

type pendingOp struct {
	Direction string `json:"direction"`
	Host      string `json:"host"`
	Tag       string `json:"tag"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
}

type statusResult struct {
	Host    string         `json:"host"`
	Streams []streamStatus `json:"streams"`
	Pending []pendingOp    `json:"pending,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the streams in the local record store",
		Long: `Show every (host, tag) stream in the local record store with its record
count and idx range.

With --remote, also compare against the relay and list the transfers the
next sync would perform.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "compare with the relay")
	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := openEnv(opts.Config)
	if err != nil {
		return err
	}
	defer e.Close()

	infos, err := e.store.Streams(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read streams", err)
	}

	res := statusResult{Host: e.host.String(), Streams: []streamStatus{}}
	for _, info := range infos {
		res.Streams = append(res.Streams, streamStatus{
			Host:    info.Stream.Host.String(),
			Tag:     string(info.Stream.Tag),
			Count:   info.Count,
			First:   uint64(info.First.Idx),
			Last:    uint64(info.Last.Idx),
			Updated: time.Unix(0, info.Last.Timestamp).UTC().Format(time.RFC3339),
			Current: info.Stream.Host == e.host,
		})
	}

	if opts.Remote {
		eng, err := e.engine()
		if err != nil {
			return err
		}
		ops, err := eng.Plan(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to compare with relay", err)
		}
		res.Pending = []pendingOp{}
		for _, op := range ops {
			res.Pending = append(res.Pending, pendingOp{
				Direction: op.Direction.String(),
				Host:      op.Host.String(),
				Tag:       string(op.Tag),
				From:      uint64(op.From),
				To:        uint64(op.To),
			})
		}
	}

	return opts.output(cmd).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "host: %s\n\n", res.Host)
		if len(res.Streams) == 0 {
			fmt.Fprintln(w, dim("no records"))
		} else {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOST\tTAG\tRECORDS\tIDX\tUPDATED")
			for _, s := range res.Streams {
				host := s.Host
				if s.Current {
					host += " (this device)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d..%d\t%s\n", host, s.Tag, s.Count, s.First, s.Last, s.Updated)
			}
			tw.Flush()
		}
		if !opts.Remote {
			return
		}
		fmt.Fprintln(w)
		if len(res.Pending) == 0 {
			fmt.Fprintf(w, "%s in sync with relay\n", okMark)
			return
		}
		for _, p := range res.Pending {
			arrow := "↑"
			if p.Direction == syncer.Download.String() {
				arrow = "↓"
			}
			fmt.Fprintf(w, "%s %s %s/%s idx %d..%d\n", arrow, p.Direction, p.Host, p.Tag, p.From, p.To)
		}
	})
}
