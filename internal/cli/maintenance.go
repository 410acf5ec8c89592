package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/record"
)

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <tag>",
		Short: "Recompute the materialized state of a tag from the record log",
		Long: `Drop the materialized state of one tag and replay every record of
that tag, from all hosts, in causal order.

Records that cannot be decrypted or decoded are skipped and reported.

Example:
  histsync rebuild history`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.maintenance().Rebuild(cmd.Context(), record.Tag(args[0]))
			if errors.Is(err, payload.ErrUnknownTag) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("no builder for tag %q", args[0]), err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "rebuild failed", err)
			}

			return rootOpts.output(cmd).Success(report, func(w io.Writer) {
				fmt.Fprintf(w, "%s rebuilt %s: %d applied, %d skipped\n", okMark, report.Tag, report.Applied, len(report.Skipped))
				for _, s := range report.Skipped {
					fmt.Fprintf(w, "  %s %s %s idx %d: %s\n", warnMark, s.ID, s.Host, s.Idx, s.Code)
				}
			})
		},
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every record decrypts with the current key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := e.maintenance().Verify(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "verify failed", err)
			}

			if err := rootOpts.output(cmd).Success(report, func(w io.Writer) {
				if report.Failed == 0 {
					fmt.Fprintf(w, "%s all %d records decrypt with the current key\n", okMark, report.OK)
					return
				}
				fmt.Fprintf(w, "%s %d of %d records cannot be decrypted with the current key\n",
					failMark, report.Failed, report.OK+report.Failed)
				for _, id := range report.IDs {
					fmt.Fprintf(w, "  %s\n", id)
				}
				fmt.Fprintln(w, dim("run 'histsync purge' to delete them"))
			}); err != nil {
				return err
			}
			if report.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d records failed verification", report.Failed))
			}
			return nil
		},
	}
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete records that cannot be decrypted with the current key",
		Long: `Delete every record the current key cannot open, for example records
written before a key was lost. Stream tails are recomputed; the remaining
records are untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.maintenance().Purge(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "purge failed", err)
			}
			return rootOpts.output(cmd).Success(map[string]int{"purged": n}, func(w io.Writer) {
				fmt.Fprintf(w, "%s purged %d records\n", okMark, n)
			})
		},
	}
}

// RekeyOptions holds flags for the rekey command.
type RekeyOptions struct {
	*RootOptions
	Key string
}

// NewRekeyCommand creates the rekey command.
func NewRekeyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RekeyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rekey",
		Short: "Re-encrypt every local record under a new key",
		Long: `Re-encrypt every record in the local store under a new key and replace
the key file. Record ids, hosts, tags, indexes and parents are unchanged.

Every record must decrypt with the current key; otherwise nothing is
written. Run 'histsync purge' first to drop records that do not.

Without --key a fresh key is generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRekey(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "new key in encoded form (default: generate one)")
	return cmd
}

func runRekey(opts *RekeyOptions, cmd *cobra.Command) error {
	e, err := openEnv(opts.Config)
	if err != nil {
		return err
	}
	defer e.Close()

	var newKey envelope.Key
	if opts.Key != "" {
		newKey, err = envelope.DecodeKey(opts.Key)
	} else {
		newKey, err = envelope.GenerateKey()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid new key", err)
	}

	// The new key is written beside the old one first so a crash between
	// re-encryption and the rename leaves it recoverable.
	keyPath := opts.Config.Client.KeyPath
	pending := keyPath + ".new"
	if err := envelope.SaveKey(pending, newKey, true); err != nil {
		return WrapExitError(ExitCommandError, "failed to write new key", err)
	}

	n, err := e.maintenance().Rekey(cmd.Context(), e.key, newKey)
	if err != nil {
		if rmErr := os.Remove(pending); rmErr != nil {
			slog.Warn("remove pending key", "path", pending, "error", rmErr)
		}
		return WrapExitError(ExitCommandError, "rekey failed", err)
	}
	if err := os.Rename(pending, keyPath); err != nil {
		return WrapExitError(ExitCommandError, "records re-encrypted but the key file was not replaced; new key is at "+pending, err)
	}

	return opts.output(cmd).Success(map[string]any{"records": n, "key_path": keyPath}, func(w io.Writer) {
		fmt.Fprintf(w, "%s re-encrypted %d records\n", okMark, n)
		fmt.Fprintf(w, "new key written to %s\n", keyPath)
		fmt.Fprintln(w, dim("copy the new key to your other devices before they sync"))
	})
}

// KeyOptions holds flags for the key command.
type KeyOptions struct {
	*RootOptions
	Force bool
}

// NewKeyCommand creates the key command group.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the encryption key",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate and store a new encryption key",
		Long: `Generate a new key and write it to the configured key path.

An existing key is only replaced with --force. Records written under the
old key become unreadable; use 'histsync rekey' to change keys safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := envelope.GenerateKey()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate key", err)
			}
			path := opts.Config.Client.KeyPath
			if err := envelope.SaveKey(path, key, opts.Force); err != nil {
				if errors.Is(err, os.ErrExist) {
					return WrapExitError(ExitCommandError, "a key already exists at "+path+" (use --force to replace it)", err)
				}
				return WrapExitError(ExitCommandError, "failed to save key", err)
			}
			return opts.output(cmd).Success(map[string]string{"key_path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "%s key written to %s\n", okMark, path)
			})
		},
	}
	generate.Flags().BoolVar(&opts.Force, "force", false, "replace an existing key")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the encoded key for copying to another device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := envelope.LoadKey(opts.Config.Client.KeyPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load key", err)
			}
			encoded := envelope.EncodeKey(key)
			return opts.output(cmd).Success(map[string]string{"key": encoded}, func(w io.Writer) {
				fmt.Fprintln(w, encoded)
			})
		},
	}

	cmd.AddCommand(generate, show)
	return cmd
}
