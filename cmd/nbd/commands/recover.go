package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reset a project left dirty by an interrupted operation",
		Long: `Reset the project's stage after a crash during apply, destroy or a
server action. The stage returns to where the interrupted operation
started (applying back to configured, destroying back to deployed); the
operation itself is never re-run, and any partially created
infrastructure is left for the operator to inspect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := newController().Recover()
			if err != nil {
				return err
			}
			fmt.Printf("Project recovered to stage %s.\n", target)
			return nil
		},
	}

	return cmd
}
