package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Control the notebook service on the host",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the notebook service's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newController().RunInstruction(cmd.Context(), "server.status", nil)
			if err != nil {
				return err
			}
			fmt.Println(result.Output)
			return nil
		},
	})

	for _, action := range []string{"start", "stop", "restart"} {
		cmd.AddCommand(newServerActionCommand(action))
	}

	return cmd
}

func newServerActionCommand(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("%s the notebook service", capitalize(action)),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newController().ServerAction(cmd.Context(), action)
			if err != nil {
				return err
			}
			if result.Output != "" {
				fmt.Println(result.Output)
			}
			fmt.Printf("Server %s complete.\n", action)
			return nil
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
