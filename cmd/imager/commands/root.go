// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/palpable/imager/cmd/imager/handlers"
)

// Root returns the root command for the imager CLI.
func Root() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:           "imager",
		Short:         "Provision SD cards for Palpable devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to imager.yaml (default: ./imager.yaml, then the user config directory)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log debug output to stderr")

	// Auth
	cmd.AddCommand(Login(&opts))
	cmd.AddCommand(Logout(&opts))
	cmd.AddCommand(Pair(&opts))
	cmd.AddCommand(Status(&opts))

	// Provisioning
	cmd.AddCommand(Flash(&opts))
	cmd.AddCommand(Devices(&opts))
	cmd.AddCommand(Drives(&opts))
	cmd.AddCommand(Cache(&opts))

	// Utility
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}
