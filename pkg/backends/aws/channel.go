// Package aws implements the control channel contract over AWS Systems
// Manager: instructions become SSM Run Command invocations against the
// deployed instance, polled until terminal. EC2 and STS cover host status
// and credential diagnostics.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/registry"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

// Kind is the channel kind this package registers under.
const Kind = "aws"

// runShellDocument is the managed SSM document used for all instructions.
const runShellDocument = "AWS-RunShellScript"

// ssmAPI is the slice of the SSM client the channel uses.
type ssmAPI interface {
	DescribeInstanceInformation(ctx context.Context, in *ssm.DescribeInstanceInformationInput, opts ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
	SendCommand(ctx context.Context, in *ssm.SendCommandInput, opts ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, in *ssm.GetCommandInvocationInput, opts ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

// ec2API is the slice of the EC2 client the channel uses.
type ec2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// stsAPI is the slice of the STS client the channel uses.
type stsAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Channel dispatches instructions to the deployed host via SSM.
type Channel struct {
	ssm    ssmAPI
	ec2    ec2API
	sts    stsAPI
	logger *telemetry.Logger
}

// Factory builds the registry factory for this channel kind. Credential
// resolution happens here so a misconfigured environment surfaces as a
// backend error before any instruction is submitted.
func Factory(logger *telemetry.Logger) registry.ChannelFactory {
	return func() (engine.ControlChannel, error) {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, deployerr.NewBackend("cannot load AWS configuration", err)
		}
		return &Channel{
			ssm:    ssm.NewFromConfig(cfg),
			ec2:    ec2.NewFromConfig(cfg),
			sts:    sts.NewFromConfig(cfg),
			logger: logger.NewComponentLogger("aws"),
		}, nil
	}
}

// Submit verifies the instance's SSM agent is reachable, then sends the
// instruction's shell script via Run Command. The returned handle encodes
// the command and instance IDs for polling.
func (c *Channel) Submit(ctx context.Context, target, name string, params map[string]string) (engine.Handle, error) {
	commands, err := buildCommands(name, params)
	if err != nil {
		return "", err
	}

	if err := c.verifyAgentOnline(ctx, target); err != nil {
		return "", err
	}

	out, err := c.ssm.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String(runShellDocument),
		InstanceIds:  []string{target},
		Parameters:   map[string][]string{"commands": commands},
		Comment:      aws.String("nbdeploy " + name),
	})
	if err != nil {
		return "", classifyAPIError(err, fmt.Sprintf("cannot send instruction %q to instance %s", name, target))
	}
	if out.Command == nil || out.Command.CommandId == nil {
		return "", deployerr.NewRemote(deployerr.RemoteUnreachable,
			"SendCommand returned no command ID", nil)
	}

	c.logger.WithInstruction(name, target).Debugf("sent SSM command %s", *out.Command.CommandId)
	return engine.Handle(*out.Command.CommandId + "/" + target), nil
}

// Poll reads the invocation's state. Pending, InProgress and Delayed report
// a non-terminal probe; a just-sent command may also briefly raise
// InvocationDoesNotExist, which counts as pending.
func (c *Channel) Poll(ctx context.Context, handle engine.Handle) (*engine.Probe, error) {
	commandID, instanceID, err := splitHandle(handle)
	if err != nil {
		return nil, err
	}

	out, err := c.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(instanceID),
	})
	if err != nil {
		var notYet *ssmtypes.InvocationDoesNotExist
		if errors.As(err, &notYet) {
			return &engine.Probe{Done: false}, nil
		}
		return nil, classifyAPIError(err, fmt.Sprintf("cannot poll command %s", commandID))
	}

	switch out.Status {
	case ssmtypes.CommandInvocationStatusPending,
		ssmtypes.CommandInvocationStatusInProgress,
		ssmtypes.CommandInvocationStatusDelayed:
		return &engine.Probe{Done: false, Status: string(out.Status)}, nil
	}

	probe := &engine.Probe{
		Done:     true,
		Status:   string(out.Status),
		ExitCode: int(out.ResponseCode),
		Output:   invocationOutput(out),
	}
	// Cancelled and timed-out invocations can report exit 0; force a
	// failure code so callers never mistake them for success.
	if out.Status != ssmtypes.CommandInvocationStatusSuccess && probe.ExitCode == 0 {
		probe.ExitCode = 1
	}
	return probe, nil
}

// verifyAgentOnline gates instruction submission on the SSM agent's ping
// status, so an unreachable host fails with a hint rather than a command
// that never starts.
func (c *Channel) verifyAgentOnline(ctx context.Context, instanceID string) error {
	out, err := c.ssm.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
		Filters: []ssmtypes.InstanceInformationStringFilter{
			{Key: aws.String("InstanceIds"), Values: []string{instanceID}},
		},
	})
	if err != nil {
		return classifyAPIError(err, fmt.Sprintf("cannot describe instance %s", instanceID))
	}
	if len(out.InstanceInformationList) == 0 {
		return deployerr.NewRemote(deployerr.RemoteUnreachable,
			fmt.Sprintf("instance %s has no SSM agent registration; is the agent installed and the instance profile attached?", instanceID), nil)
	}

	info := out.InstanceInformationList[0]
	switch info.PingStatus {
	case ssmtypes.PingStatusOnline:
		return nil
	case ssmtypes.PingStatusConnectionLost:
		lastPing := "unknown"
		if info.LastPingDateTime != nil {
			lastPing = info.LastPingDateTime.UTC().Format("2006-01-02 15:04:05 UTC")
		}
		return deployerr.NewRemote(deployerr.RemoteUnreachable,
			fmt.Sprintf("SSM agent connection to instance %s was lost, last ping: %s", instanceID, lastPing), nil)
	case ssmtypes.PingStatusInactive:
		return deployerr.NewRemote(deployerr.RemoteUnreachable,
			fmt.Sprintf("SSM agent on instance %s is not running or could not establish connection", instanceID), nil)
	default:
		return deployerr.NewRemote(deployerr.RemoteUnreachable,
			fmt.Sprintf("missing ping status for instance %s", instanceID), nil)
	}
}

func invocationOutput(out *ssm.GetCommandInvocationOutput) string {
	var parts []string
	if s := aws.ToString(out.StandardOutputContent); strings.TrimSpace(s) != "" {
		parts = append(parts, strings.TrimRight(s, "\n"))
	}
	if s := aws.ToString(out.StandardErrorContent); strings.TrimSpace(s) != "" {
		parts = append(parts, strings.TrimRight(s, "\n"))
	}
	return strings.Join(parts, "\n")
}

func splitHandle(handle engine.Handle) (commandID, instanceID string, err error) {
	commandID, instanceID, ok := strings.Cut(string(handle), "/")
	if !ok || commandID == "" || instanceID == "" {
		return "", "", deployerr.NewValidation(
			fmt.Sprintf("malformed instruction handle %q", handle), nil)
	}
	return commandID, instanceID, nil
}

// classifyAPIError turns SDK failures into remote-unreachable errors,
// keeping the AWS error code visible for diagnosis.
func classifyAPIError(err error, msg string) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return deployerr.NewRemote(deployerr.RemoteUnreachable,
			fmt.Sprintf("%s: %s: %s", msg, ae.ErrorCode(), ae.ErrorMessage()), err)
	}
	return deployerr.NewRemote(deployerr.RemoteUnreachable, msg, err)
}
