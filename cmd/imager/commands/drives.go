package commands

import (
	"github.com/spf13/cobra"

	"github.com/palpable/imager/cmd/imager/handlers"
)

// Drives returns the drives command.
func Drives(opts *handlers.Options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "drives",
		Short: "List drives that can be flashed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Drives(cmd.Context(), *opts, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include non-removable disks")

	return cmd
}
