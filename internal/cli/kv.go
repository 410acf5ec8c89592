package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/histsync/internal/builder"
	"github.com/roach88/histsync/internal/payload"
)

// NewKVCommand creates the kv command group.
func NewKVCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Synchronized key/value store",
	}
	cmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "default", "key namespace")

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			op := payload.KVWrite{Namespace: namespace, Key: args[0], Value: args[1]}
			if _, err := e.append(cmd.Context(), op); err != nil {
				return WrapExitError(ExitCommandError, "failed to set value", err)
			}
			return rootOpts.output(cmd).Success(map[string]string{"namespace": namespace, "key": args[0], "value": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s.%s set\n", okMark, namespace, args[0])
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			kv := builder.NewKVBuilder()
			if err := e.materialize(cmd.Context(), kv); err != nil {
				return WrapExitError(ExitCommandError, "failed to read kv records", err)
			}
			value, ok := kv.Get(namespace, args[0])
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("key %s.%s not set", namespace, args[0]))
			}
			return rootOpts.output(cmd).Success(map[string]string{"namespace": namespace, "key": args[0], "value": value}, func(w io.Writer) {
				fmt.Fprintln(w, value)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.append(cmd.Context(), payload.KVDelete{Namespace: namespace, Key: args[0]}); err != nil {
				return WrapExitError(ExitCommandError, "failed to delete value", err)
			}
			return rootOpts.output(cmd).Success(map[string]string{"namespace": namespace, "key": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s.%s deleted\n", okMark, namespace, args[0])
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the keys of a namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts.Config)
			if err != nil {
				return err
			}
			defer e.Close()

			kv := builder.NewKVBuilder()
			if err := e.materialize(cmd.Context(), kv); err != nil {
				return WrapExitError(ExitCommandError, "failed to read kv records", err)
			}
			keys := kv.Keys(namespace)
			return rootOpts.output(cmd).Success(keys, func(w io.Writer) {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
			})
		},
	}

	cmd.AddCommand(set, get, del, list)
	return cmd
}
