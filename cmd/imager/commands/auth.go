package commands

import (
	"github.com/spf13/cobra"

	"github.com/palpable/imager/cmd/imager/handlers"
)

// Login returns the login command.
func Login(opts *handlers.Options) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with your browser",
		Long: `Sign in to your Palpable account.

The command prints a URL. Open it in any browser, sign in, and paste the
authorization code back into the prompt. Without a terminal, or from another
shell, finish the same sign-in with --code within 15 minutes. Browser sign-in
lets you register new devices and manage existing ones.

Example:
  imager login
  imager login --code 4/0AbCdEf`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Login(cmd.Context(), *opts, code)
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Authorization code for a sign-in started earlier")

	return cmd
}

// Logout returns the logout command.
func Logout(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget any paired device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Logout(cmd.Context(), *opts)
		},
	}
}

// Pair returns the pair command.
func Pair(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "pair [CODE]",
		Short: "Authorize with a device pairing code",
		Long: `Authorize the imager with the 6-character pairing code shown by an
already registered device. Cards flashed while paired are linked to that
device; no new registration is made.

Example:
  imager pair ABC123`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				code = args[0]
			}
			return handlers.Pair(cmd.Context(), *opts, code)
		},
	}
}

// Status returns the status command.
func Status(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in state and cached images",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Status(cmd.Context(), *opts)
		},
	}
}
