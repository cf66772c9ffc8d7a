package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded command output",
		Long: `Inspect the durable record of configuration, deployment and remote
command output. Entries are grouped by kind ("config", "up", "down",
"remote") and kept per project, newest twenty per kind.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <kind>",
		Short: "List recorded entries of a kind",
		Example: `  nbd history list config
  nbd history list up`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newController().History().List(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("No %s history recorded.\n", args[0])
				return nil
			}

			fmt.Printf("%-6s %-22s %-6s %s\n", "SEQ", "STARTED", "EXIT", "LINES")
			for _, e := range entries {
				fmt.Printf("%-6d %-22s %-6d %d\n",
					e.Seq, e.StartedAt.UTC().Format("2006-01-02 15:04:05"), e.ExitCode, e.Lines)
			}
			return nil
		},
	}
}

func newHistoryShowCommand() *cobra.Command {
	var (
		offset    int
		lineCount int
		lineStart int
	)

	cmd := &cobra.Command{
		Use:   "show <kind>",
		Short: "Show one recorded entry's output",
		Long: `Print the output of one history entry. -n selects how far back from the
latest entry (0 = latest); -l and -s select a line range within it.`,
		Example: `  # Latest config output
  nbd history show config

  # The run before the latest, lines 10-29 only
  nbd history show up -n 1 -l 20 -s 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newController().History().Read(args[0], offset, lineStart, lineCount)
			if err != nil {
				return err
			}
			fmt.Print(out)
			if out != "" && out[len(out)-1] != '\n' {
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&offset, "back", "n", 0, "entries back from the latest")
	cmd.Flags().IntVarP(&lineCount, "lines", "l", 0, "number of output lines (0 = all)")
	cmd.Flags().IntVarP(&lineStart, "start", "s", 0, "first output line")

	return cmd
}
