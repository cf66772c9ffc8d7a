package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

func newConfigCommand() *cobra.Command {
	var (
		vars    []string
		varFile string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Set variables and validate the deployment plan",
		Long: `Validate variable values against the template schema and run the
engine's validate/plan step. On success the project moves to the
configured stage; the plan output is recorded in history under "config".`,
		Example: `  # Configure with inline variables
  nbd config --var instance_type=t3.micro --var letsencrypt_email=ops@example.com

  # Configure from a YAML file of key: value pairs
  nbd config --var-file vars.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := collectOverrides(vars, varFile)
			if err != nil {
				return err
			}

			if err := newController().Configure(cmd.Context(), overrides); err != nil {
				return err
			}
			fmt.Println("Project configured. Run 'nbd up' to deploy.")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable assignment key=value (repeatable)")
	cmd.Flags().StringVar(&varFile, "var-file", "", "YAML file of variable assignments")

	return cmd
}

// collectOverrides merges --var-file values with --var flags; flags win.
func collectOverrides(vars []string, varFile string) (map[string]string, error) {
	overrides := make(map[string]string)

	if varFile != "" {
		raw, err := os.ReadFile(varFile)
		if err != nil {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("cannot read variable file %s", varFile), err)
		}
		var fromFile map[string]string
		if err := yaml.Unmarshal(raw, &fromFile); err != nil {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("variable file %s is not a YAML map of strings", varFile), err)
		}
		for k, v := range fromFile {
			overrides[k] = v
		}
	}

	for _, assignment := range vars {
		key, value, ok := strings.Cut(assignment, "=")
		if !ok || key == "" {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("malformed --var %q, expected key=value", assignment), nil)
		}
		overrides[key] = value
	}

	return overrides, nil
}
