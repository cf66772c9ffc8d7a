package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	awsbackend "github.com/nbdeploy/nbdeploy/pkg/backends/aws"
	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

// hostInspector is the optional surface a channel exposes for host status.
type hostInspector interface {
	DescribeHost(ctx context.Context, instanceID string) (*awsbackend.HostStatus, error)
	CallerIdentity(ctx context.Context) (*awsbackend.Identity, error)
}

func newHostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Inspect the compute instance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the compute instance's state",
		Long: `Query the cloud provider for the instance backing the deployment:
run state, type, public address, and which credentials the query ran as.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := newController().Show()
			if err != nil {
				return err
			}
			instanceID, err := state.Output("instance_id")
			if err != nil {
				return err
			}

			channel, err := newRegistry().ResolveChannel(state.Template.Provider)
			if err != nil {
				return err
			}
			inspector, ok := channel.(hostInspector)
			if !ok {
				return deployerr.NewValidation(
					fmt.Sprintf("channel %q does not support host inspection", state.Template.Provider), nil)
			}

			status, err := inspector.DescribeHost(cmd.Context(), instanceID)
			if err != nil {
				return err
			}

			fmt.Printf("Instance: %s\n", status.InstanceID)
			fmt.Printf("State:    %s\n", status.State)
			fmt.Printf("Type:     %s\n", status.Type)
			if status.PublicIP != "" {
				fmt.Printf("Public:   %s (%s)\n", status.PublicIP, status.PublicDNS)
			}
			if status.LaunchedAt != "" {
				fmt.Printf("Launched: %s\n", status.LaunchedAt)
			}

			if id, err := inspector.CallerIdentity(cmd.Context()); err == nil {
				fmt.Printf("Caller:   %s (account %s)\n", id.ARN, id.Account)
			}
			return nil
		},
	})

	return cmd
}
