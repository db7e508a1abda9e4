package commands

import (
	"github.com/spf13/cobra"

	"github.com/palpable/imager/cmd/imager/handlers"
)

// Devices returns the devices command group.
func Devices(opts *handlers.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage registered devices",
		Long: `List, rename and delete the devices registered to your account.

These commands need browser sign-in ('imager login').`,
	}

	cmd.AddCommand(devicesList(opts))
	cmd.AddCommand(devicesRename(opts))
	cmd.AddCommand(devicesDelete(opts))

	return cmd
}

func devicesList(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.DevicesList(cmd.Context(), *opts)
		},
	}
}

func devicesRename(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DevicesRename(cmd.Context(), *opts, args[0], args[1])
		},
	}
}

func devicesDelete(opts *handlers.Options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a device",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.DevicesDelete(cmd.Context(), *opts, args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}
