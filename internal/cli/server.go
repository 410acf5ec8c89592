package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/relay"
)

// ServerOptions holds flags for the server command.
type ServerOptions struct {
	*RootOptions
	Listen  string
	DataDir string
}

// NewServerCommand creates the server command.
func NewServerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the sync relay",
		Long: `Run the zero-knowledge relay. It stores encrypted records per user and
enforces the per-stream chain, but never holds a key.

Tokens are mapped to users in the [server.tokens] table of the config file.

Example:
  histsync server --listen 0.0.0.0:8888 --data-dir /var/lib/histsync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "relay data directory (default from config)")
	return cmd
}

func runServer(opts *ServerOptions, cmd *cobra.Command) error {
	sc := opts.Config.Server
	if opts.Listen != "" {
		sc.Listen = opts.Listen
	}
	if opts.DataDir != "" {
		sc.DataDir = opts.DataDir
	}
	if len(sc.Tokens) == 0 {
		slog.Warn("no tokens configured; every request will be rejected")
	}

	storage, err := relay.OpenLevelStorage(sc.DataDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open relay storage", err)
	}
	defer func() {
		if closeErr := storage.Close(); closeErr != nil {
			slog.Error("error closing relay storage", "error", closeErr)
		}
	}()

	srv := relay.New(storage, relay.Config{
		MaxRecordSize:  sc.MaxRecordSize,
		PageSize:       sc.PageSize,
		Tokens:         sc.Tokens,
		RateLimit:      sc.RateLimit,
		RateBurst:      sc.RateBurst,
		StatusCacheTTL: sc.StatusCacheTTL.Duration,
	})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("relay starting", "listen", sc.Listen, "data_dir", sc.DataDir, "users", len(sc.Tokens))
	if err := srv.ListenAndServe(ctx, sc.Listen); err != nil {
		return WrapExitError(ExitFailure, "relay error", err)
	}
	slog.Info("relay stopped gracefully")
	return nil
}
