package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/payload"
)

// NewAliasCommand creates the alias command group.
func NewAliasCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Shell aliases shared across devices",
	}

	set := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Define or replace an alias",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.append(cmd.Context(), payload.AliasCreate{Name: args[0], Value: args[1]}); err != nil {
				return WrapExitError(ExitCommandError, "failed to set alias", err)
			}
			return rootOpts.output(cmd).Success(builder.Alias{Name: args[0], Value: args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s alias %s=%q\n", okMark, args[0], args[1])
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove an alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.append(cmd.Context(), payload.AliasDelete{Name: args[0]}); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete alias", err)
			}
			return rootOpts.output(cmd).Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s unalias %s\n", okMark, args[0])
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print aliases as shell definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			aliases := builder.NewAliasBuilder()
			if err := e.materialize(cmd.Context(), aliases); err != nil {
				return WrapExitError(ExitCommandError, "failed to read alias records", err)
			}
			list := aliases.List()
			return rootOpts.output(cmd).Success(list, func(w io.Writer) {
				for _, a := range list {
					fmt.Fprintf(w, "alias %s=%q\n", a.Name, a.Value)
				}
			})
		},
	}

	cmd.AddCommand(set, del, list)
	return cmd
}
