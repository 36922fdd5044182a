/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package cli

import (
	"github.com/spf13/cobra"

	"github.com/suparena/entitystate"
	"github.com/suparena/entitystate/storagemodels"
)

// withBundle builds a session, optionally streams the bundle's events and
// runs fn against the bundle for the entity type named by the first argument.
func withBundle(cmd *cobra.Command, opts *RootOptions, key string, fn func(*session, *entitystate.Bundle) (any, error)) error {
	s, err := newSession(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			s.logger.Warn("close transport failed", "error", cerr)
		}
	}()

	b := s.engine.Bundle(key)
	if opts.Events {
		defer watchEvents(b, cmd.ErrOrStderr())()
	}

	out, err := fn(s, b)
	if err != nil {
		return WrapExitError(ExitFailure, cmd.Name()+" "+key, err)
	}
	return write(cmd.OutOrStdout(), opts.Format, out)
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "list <entity-type>",
		Short: "Load an entity type and print its cache snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(cmd, rootOpts, args[0], func(s *session, b *entitystate.Bundle) (any, error) {
				if refresh {
					if _, err := s.engine.Dispatch(cmd.Context(), b.FetchAsync()).Unwrap(); err != nil {
						return nil, err
					}
				} else if err := b.Ensure(cmd.Context()); err != nil {
					return nil, err
				}
				return b.Snapshot(), nil
			})
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch even if the type is already loaded")
	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "add <entity-type> --data '{...}'",
		Short: "Create a record and print it as stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseData(data)
			if err != nil {
				return err
			}
			return withBundle(cmd, rootOpts, args[0], func(s *session, b *entitystate.Bundle) (any, error) {
				outcome, err := s.engine.Dispatch(cmd.Context(), b.AddAsync(payload)).Unwrap()
				if err != nil {
					return nil, err
				}
				return outcome.Record, nil
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "record as a JSON object")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "update <entity-type> --data '{\"id\": ...}'",
		Short: "Update a record by id and print the merged result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseData(data)
			if err != nil {
				return err
			}
			return withBundle(cmd, rootOpts, args[0], func(s *session, b *entitystate.Bundle) (any, error) {
				outcome, err := s.engine.Dispatch(cmd.Context(), b.UpdateAsync(payload)).Unwrap()
				if err != nil {
					return nil, err
				}
				return outcome.Record, nil
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "fields to change as a JSON object, including id")
	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <entity-type> <id>",
		Short: "Delete a record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := storagemodels.ParseID(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid id", err)
			}
			return withBundle(cmd, rootOpts, args[0], func(s *session, b *entitystate.Bundle) (any, error) {
				outcome, err := s.engine.Dispatch(cmd.Context(), b.RemoveAsync(id)).Unwrap()
				if err != nil {
					return nil, err
				}
				return map[string]any{"removed": outcome.ID}, nil
			})
		},
	}
}

// NewHydrateCommand creates the hydrate command.
func NewHydrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate <entity-type>...",
		Short: "Load several entity types in parallel and print their snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			if err := s.engine.Hydrate(cmd.Context(), args...); err != nil {
				return WrapExitError(ExitFailure, "hydrate", err)
			}
			out := make(map[string]any, len(args))
			for _, key := range args {
				out[key] = s.engine.Snapshot(key)
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, out)
		},
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd.OutOrStdout(), rootOpts.Format, entitystate.GetVersionInfo())
		},
	}
}
