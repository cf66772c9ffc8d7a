package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the user allow-list on the auth gateway",
		Long: `Manage which users the OAuth gateway admits. Changes apply on the
deployed host immediately; the infrastructure is untouched.`,
	}

	cmd.AddCommand(newUserListMutation("add", "Add users to the allow-list",
		`  nbd users add alice bob`))
	cmd.AddCommand(newUserListMutation("remove", "Remove users from the allow-list",
		`  nbd users remove mallory`))
	cmd.AddCommand(newUserListMutation("set", "Replace the allow-list with exactly these users",
		`  nbd users set alice bob carol`))

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List allow-listed users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newController().RunInstruction(cmd.Context(), "users.list", nil)
			if err != nil {
				return err
			}
			fmt.Println(result.Output)
			return nil
		},
	})

	return cmd
}

func newUserListMutation(verb, short, example string) *cobra.Command {
	return &cobra.Command{
		Use:     verb + " <username>...",
		Short:   short,
		Example: example,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := newController().RunInstruction(cmd.Context(), "users."+verb,
				map[string]string{"usernames": strings.Join(args, ",")})
			if err != nil {
				return err
			}
			fmt.Printf("User allow-list updated (%s %s).\n", verb, strings.Join(args, ", "))
			return nil
		},
	}
}
