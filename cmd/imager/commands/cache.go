package commands

import (
	"github.com/spf13/cobra"

	"github.com/palpable/imager/cmd/imager/handlers"
)

// Cache returns the cache command group.
func Cache(opts *handlers.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the image cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.CachePath(cmd.Context(), *opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete cached images",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.CacheClear(cmd.Context(), *opts)
		},
	})

	return cmd
}
