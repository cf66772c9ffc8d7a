package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTeamsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "Manage the team allow-list on the auth gateway",
	}

	for _, verb := range []string{"add", "remove"} {
		verb := verb
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " <team>...",
			Short: capitalize(verb) + " teams on the allow-list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := newController().RunInstruction(cmd.Context(), "teams."+verb,
					map[string]string{"teams": strings.Join(args, ",")})
				if err != nil {
					return err
				}
				fmt.Printf("Team allow-list updated (%s %s).\n", verb, strings.Join(args, ", "))
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List allow-listed teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newController().RunInstruction(cmd.Context(), "teams.list", nil)
			if err != nil {
				return err
			}
			fmt.Println(result.Output)
			return nil
		},
	})

	return cmd
}
