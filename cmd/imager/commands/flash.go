package commands

import (
	"github.com/spf13/cobra"

	"github.com/palpable/imager/cmd/imager/handlers"
)

// Flash returns the flash command.
func Flash(opts *handlers.Options) *cobra.Command {
	var fo handlers.FlashOptions

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Register a device and flash its SD card",
		Long: `Flash provisions an SD card in three steps:

  1. Registering: the device is registered with your account (skipped when
     the imager is paired with a device)
  2. Downloading: the latest OS image is fetched, or taken from the cache
  3. Flashing:    the image is written to the selected drive

Without flags an interactive wizard asks for the device and the drive.
Passing --name (or --device) and --drive skips it.

Examples:
  imager flash
  imager flash --name "Living Room" --drive /dev/sdb --yes
  imager flash --device D7 --drive /dev/mmcblk0

WARNING: Everything on the selected drive is erased.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Flash(cmd.Context(), *opts, fo)
		},
	}

	cmd.Flags().StringVarP(&fo.Name, "name", "n", "", "Name for a new device")
	cmd.Flags().StringVar(&fo.DeviceID, "device", "", "ID of an existing device to re-flash")
	cmd.Flags().StringVarP(&fo.Drive, "drive", "d", "", "Drive to write, e.g. /dev/sdb")
	cmd.Flags().BoolVarP(&fo.Yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&fo.Plain, "plain", false, "Print progress lines instead of the interactive view")
	cmd.MarkFlagsMutuallyExclusive("name", "device")

	return cmd
}
