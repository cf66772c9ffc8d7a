package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOrganizationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "organization",
		Aliases: []string{"org"},
		Short:   "Manage the organization restriction on the auth gateway",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <organization>",
		Short: "Restrict access to members of one organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := newController().RunInstruction(cmd.Context(), "organization.set",
				map[string]string{"organization": args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("Organization restriction set to %s.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current organization restriction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newController().RunInstruction(cmd.Context(), "organization.show", nil)
			if err != nil {
				return err
			}
			fmt.Println(result.Output)
			return nil
		},
	})

	return cmd
}
