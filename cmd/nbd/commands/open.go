package commands

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

func newOpenCommand() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open the notebook in the browser",
		Long: `Read the deployed project's notebook URL and launch it in the
operator's browser. Only HTTPS URLs are opened; anything else is
rejected rather than sent to a browser over plaintext.`,
		Example: `  nbd open

  # Print the URL instead of launching a browser
  nbd open --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := newController().Show()
			if err != nil {
				return err
			}
			url, err := state.Output("url")
			if err != nil {
				return err
			}
			if err := checkOpenURL(url); err != nil {
				return err
			}

			fmt.Println(url)
			if printOnly {
				return nil
			}

			name, openerArgs := browserCommand(runtime.GOOS, url)
			if err := exec.Command(name, openerArgs...).Start(); err != nil {
				return deployerr.NewValidation(
					fmt.Sprintf("cannot open browser via %s; visit the URL manually", name), err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the URL without opening a browser")

	return cmd
}

// checkOpenURL admits only HTTPS URLs; the gateway's cookies must never
// travel over plaintext.
func checkOpenURL(url string) error {
	if !strings.HasPrefix(url, "https://") {
		return deployerr.NewValidation(
			fmt.Sprintf("refusing to open insecure URL %q; only https:// is allowed", url), nil)
	}
	return nil
}

// browserCommand picks the platform's URL opener.
func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}
