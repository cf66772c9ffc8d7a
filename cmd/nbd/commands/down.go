package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDownCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Tear down the deployment",
		Long: `Run the engine's destroy step. Requires a deployed project; a project
left dirty by an interrupted operation needs either 'nbd recover' or
--force.`,
		Example: `  nbd down

  # Tear down a project stuck dirty after a crash mid-apply
  nbd down --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newController().Destroy(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Println("Deployment destroyed.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "destroy even from a dirty transient stage")

	return cmd
}
