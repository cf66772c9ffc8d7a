package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/lifecycle"
)

func newInitCommand() *cobra.Command {
	var (
		template string
		engKind  string
		provider string
		compute  string
		identity string
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new deployment project",
		Long: `Create a new deployment project in the given directory (default: the
project directory flag). Writes the manifest skeleton for the chosen
template and the initial project state.

The template names the backend combination as
engine/provider/compute/identity, e.g. terraform/aws/ec2/github.`,
		Example: `  # Initialize in the current directory with the default template
  nbd init

  # Initialize a new directory
  nbd init ./my-notebook

  # Pick the backend combination piecewise
  nbd init -E terraform -P aws -C ec2 -I github`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := projectDir
			if len(args) == 1 {
				dir = args[0]
			}
			if !cmd.Flags().Changed("template") {
				template = fmt.Sprintf("%s/%s/%s/%s", engKind, provider, compute, identity)
			}
			ref, err := engine.ParseTemplateRef(template)
			if err != nil {
				return deployerr.NewValidation("invalid template reference", err)
			}

			c := lifecycle.New(newRegistry(), rootLogger, dir)
			state, err := c.Init(ref)
			if err != nil {
				return err
			}

			fmt.Printf("Initialized project %s in %s\n", state.ID, dir)
			fmt.Printf("Template: %s\n", ref)
			fmt.Println("Next: edit nbdeploy.yaml if needed, then run 'nbd config'")
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "T", "terraform/aws/ec2/github", "template reference")
	cmd.Flags().StringVarP(&engKind, "engine", "E", "terraform", "infrastructure engine kind")
	cmd.Flags().StringVarP(&provider, "provider", "P", "aws", "cloud provider kind")
	cmd.Flags().StringVarP(&compute, "compute", "C", "ec2", "compute kind")
	cmd.Flags().StringVarP(&identity, "identity", "I", "github", "identity provider kind")

	return cmd
}
