// Package commands implements the nbd command tree.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	awsbackend "github.com/nbdeploy/nbdeploy/pkg/backends/aws"
	"github.com/nbdeploy/nbdeploy/pkg/backends/terraform"
	"github.com/nbdeploy/nbdeploy/pkg/lifecycle"
	"github.com/nbdeploy/nbdeploy/pkg/registry"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

var (
	// Global flags
	projectDir string
	logLevel   string
	logFormat  string

	rootLogger *telemetry.Logger
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nbd",
		Short: "nbdeploy - notebook deployment orchestrator",
		Long: `nbdeploy manages the lifecycle of a remote notebook server deployment:
a notebook host behind a reverse proxy and an OAuth gateway, provisioned
through an infrastructure-as-code engine and maintained over a cloud
command channel.

Typical flow:
  nbd init            create a project from a template
  nbd config          set variables and validate the plan
  nbd up              provision the infrastructure
  nbd server status   check the notebook service on the host
  nbd down            tear everything down`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			rootLogger = telemetry.NewLogger(telemetry.Config{
				Level:  logLevel,
				Format: logFormat,
				Output: os.Stderr,
			})
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project-dir", "d", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console|json)")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newUpCommand())
	rootCmd.AddCommand(newDownCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newOpenCommand())
	rootCmd.AddCommand(newRecoverCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newHostCommand())
	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newUsersCommand())
	rootCmd.AddCommand(newTeamsCommand())
	rootCmd.AddCommand(newOrganizationCommand())
	rootCmd.AddCommand(newCookiesCommand())

	return rootCmd
}

// newRegistry wires the built-in backends. Backends register here rather
// than via import side effects so the set in play is visible in one place.
func newRegistry() *registry.Registry {
	reg := registry.New()
	reg.RegisterEngine(terraform.Kind, terraform.Factory(rootLogger))
	reg.RegisterChannel(awsbackend.Kind, awsbackend.Factory(rootLogger))
	return reg
}

func newController() *lifecycle.Controller {
	return lifecycle.New(newRegistry(), rootLogger, projectDir)
}
