package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCookiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Manage the auth gateway's session cookies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Invalidate all active sessions",
		Long: `Rotate the gateway's cookie secret on the host, forcing every user
through the OAuth flow again. Use after removing a user or on suspicion
of a leaked session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := newController().RunInstruction(cmd.Context(), "cookies.reset", nil)
			if err != nil {
				return err
			}
			fmt.Println("All sessions invalidated; users must sign in again.")
			return nil
		},
	})

	return cmd
}
