package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nbdeploy/nbdeploy/pkg/history"
)

func newShowCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the project state",
		Long: `Print the project's stage, template, variables and captured outputs.
Sensitive variable values are masked. With -v, print just the named
output's value for scripting.`,
		Example: `  nbd show

  # Print only the notebook URL
  nbd show -v url`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := newController().Show()
			if err != nil {
				return err
			}

			if output != "" {
				value, err := state.Output(output)
				if err != nil {
					return err
				}
				fmt.Println(value)
				return nil
			}

			fmt.Printf("Project:  %s\n", state.ID)
			fmt.Printf("Template: %s\n", state.Template)
			fmt.Printf("Stage:    %s", state.Stage)
			if state.Dirty {
				fmt.Print(" (dirty, run 'nbd recover')")
			}
			fmt.Println()

			if len(state.Variables) > 0 {
				fmt.Println("\nVariables:")
				names := make([]string, 0, len(state.Variables))
				for name := range state.Variables {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					v := state.Variables[name]
					value := v.Value
					if v.Sensitive {
						value = history.Replacement
					}
					marker := ""
					if v.FromDefault {
						marker = " (default)"
					}
					fmt.Printf("  %-22s %s%s\n", name, value, marker)
				}
			}

			if len(state.Outputs) > 0 {
				fmt.Println("\nOutputs:")
				names := make([]string, 0, len(state.Outputs))
				for name := range state.Outputs {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Printf("  %-22s %s\n", name, state.Outputs[name])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "value", "v", "", "print only this output's value")

	return cmd
}
