/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "yaml"
	Transport    string // overrides ENTITYSTATE_TRANSPORT when set
	EntitiesFile string // overrides ENTITYSTATE_ENTITIES_FILE when set
	Events       bool   // print emitted events to stderr
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"json", "yaml"}

// NewRootCommand creates the root command for entityctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "entityctl",
		Short: "Inspect and change entity state",
		Long: `entityctl drives the entity state engine from a console.

Each command builds an engine from the environment (see ENTITYSTATE_* variables
and an optional .env file), runs one operation against an entity type and
prints the resulting cache snapshot or record.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Transport, "transport", "", "transport to use (memory|rest|ddb|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.EntitiesFile, "entities", "", "YAML file of entity endpoints")
	cmd.PersistentFlags().BoolVar(&opts.Events, "events", false, "print emitted events to stderr")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewHydrateCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}
