package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Provision the deployment",
		Long: `Run the engine's apply step against the configured project. On success
the infrastructure outputs (notebook URL, instance ID) are captured into
the project state and the project moves to the deployed stage. A failed
apply reverts to configured and surfaces the engine's own error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newController()
			if err := c.Apply(cmd.Context()); err != nil {
				return err
			}

			state, err := c.Show()
			if err != nil {
				return err
			}
			fmt.Println("Deployment complete.")
			if url, err := state.Output("url"); err == nil {
				fmt.Printf("Notebook URL: %s\n", url)
			}
			return nil
		},
	}

	return cmd
}
