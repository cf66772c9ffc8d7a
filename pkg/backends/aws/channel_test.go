package aws

import (
	"context"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/telemetry"
)

type fakeSSM struct {
	pingStatus    ssmtypes.PingStatus
	noAgent       bool
	lastPing      *time.Time
	sendInput     *ssm.SendCommandInput
	invocation    *ssm.GetCommandInvocationOutput
	invocationErr error
}

func (f *fakeSSM) DescribeInstanceInformation(ctx context.Context, in *ssm.DescribeInstanceInformationInput, opts ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error) {
	if f.noAgent {
		return &ssm.DescribeInstanceInformationOutput{}, nil
	}
	return &ssm.DescribeInstanceInformationOutput{
		InstanceInformationList: []ssmtypes.InstanceInformation{
			{PingStatus: f.pingStatus, LastPingDateTime: f.lastPing},
		},
	}, nil
}

func (f *fakeSSM) SendCommand(ctx context.Context, in *ssm.SendCommandInput, opts ...func(*ssm.Options)) (*ssm.SendCommandOutput, error) {
	f.sendInput = in
	return &ssm.SendCommandOutput{
		Command: &ssmtypes.Command{CommandId: awssdk.String("cmd-42")},
	}, nil
}

func (f *fakeSSM) GetCommandInvocation(ctx context.Context, in *ssm.GetCommandInvocationInput, opts ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error) {
	if f.invocationErr != nil {
		return nil, f.invocationErr
	}
	return f.invocation, nil
}

type fakeEC2 struct {
	out *ec2.DescribeInstancesOutput
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return f.out, nil
}

type fakeSTS struct{}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: awssdk.String("123456789012"),
		Arn:     awssdk.String("arn:aws:iam::123456789012:user/ops"),
	}, nil
}

func newTestChannel(s *fakeSSM) *Channel {
	return &Channel{
		ssm:    s,
		ec2:    &fakeEC2{},
		sts:    &fakeSTS{},
		logger: telemetry.NewLogger(telemetry.Config{Level: "disabled"}),
	}
}

func TestSubmitSendsRunShellCommand(t *testing.T) {
	s := &fakeSSM{pingStatus: ssmtypes.PingStatusOnline}
	c := newTestChannel(s)

	handle, err := c.Submit(context.Background(), "i-0abc123", "users.add",
		map[string]string{"usernames": "alice, bob"})
	require.NoError(t, err)
	assert.Equal(t, engine.Handle("cmd-42/i-0abc123"), handle)

	require.NotNil(t, s.sendInput)
	assert.Equal(t, runShellDocument, awssdk.ToString(s.sendInput.DocumentName))
	assert.Equal(t, []string{"i-0abc123"}, s.sendInput.InstanceIds)
	commands := s.sendInput.Parameters["commands"]
	require.Len(t, commands, 1)
	assert.Equal(t, "sudo /usr/local/bin/nbdeploy-ctl users add 'alice' 'bob'", commands[0])
}

func TestSubmitRejectsUnknownInstruction(t *testing.T) {
	c := newTestChannel(&fakeSSM{pingStatus: ssmtypes.PingStatusOnline})

	_, err := c.Submit(context.Background(), "i-0abc123", "disks.format", nil)
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
}

func TestSubmitGatesOnPingStatus(t *testing.T) {
	lastPing := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		ssm  *fakeSSM
		want string
	}{
		{"no registration", &fakeSSM{noAgent: true}, "no SSM agent registration"},
		{"connection lost", &fakeSSM{pingStatus: ssmtypes.PingStatusConnectionLost, lastPing: &lastPing}, "last ping: 2026-08-01"},
		{"inactive", &fakeSSM{pingStatus: ssmtypes.PingStatusInactive}, "not running"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestChannel(tc.ssm)
			_, err := c.Submit(context.Background(), "i-0abc123", "server.status", nil)
			require.Error(t, err)
			assert.True(t, deployerr.IsRemote(err, deployerr.RemoteUnreachable))
			assert.Contains(t, err.Error(), tc.want)
			assert.Nil(t, tc.ssm.sendInput, "unreachable host must not receive commands")
		})
	}
}

func TestPollNonTerminalStatuses(t *testing.T) {
	for _, status := range []ssmtypes.CommandInvocationStatus{
		ssmtypes.CommandInvocationStatusPending,
		ssmtypes.CommandInvocationStatusInProgress,
		ssmtypes.CommandInvocationStatusDelayed,
	} {
		s := &fakeSSM{invocation: &ssm.GetCommandInvocationOutput{Status: status}}
		c := newTestChannel(s)

		probe, err := c.Poll(context.Background(), "cmd-42/i-0abc123")
		require.NoError(t, err)
		assert.False(t, probe.Done, "status %s must not be terminal", status)
	}
}

func TestPollSuccess(t *testing.T) {
	s := &fakeSSM{invocation: &ssm.GetCommandInvocationOutput{
		Status:                ssmtypes.CommandInvocationStatusSuccess,
		ResponseCode:          0,
		StandardOutputContent: awssdk.String("alice\nbob\n"),
	}}
	c := newTestChannel(s)

	probe, err := c.Poll(context.Background(), "cmd-42/i-0abc123")
	require.NoError(t, err)
	assert.True(t, probe.Done)
	assert.Zero(t, probe.ExitCode)
	assert.Equal(t, "alice\nbob", probe.Output)
}

func TestPollFailureCombinesStreams(t *testing.T) {
	s := &fakeSSM{invocation: &ssm.GetCommandInvocationOutput{
		Status:                ssmtypes.CommandInvocationStatusFailed,
		ResponseCode:          3,
		StandardOutputContent: awssdk.String("removing user\n"),
		StandardErrorContent:  awssdk.String("user not found\n"),
	}}
	c := newTestChannel(s)

	probe, err := c.Poll(context.Background(), "cmd-42/i-0abc123")
	require.NoError(t, err)
	assert.True(t, probe.Done)
	assert.Equal(t, 3, probe.ExitCode)
	assert.Contains(t, probe.Output, "user not found")
}

func TestPollNeverReportsNonSuccessAsZero(t *testing.T) {
	for _, status := range []ssmtypes.CommandInvocationStatus{
		ssmtypes.CommandInvocationStatusCancelled,
		ssmtypes.CommandInvocationStatusTimedOut,
	} {
		s := &fakeSSM{invocation: &ssm.GetCommandInvocationOutput{Status: status, ResponseCode: 0}}
		c := newTestChannel(s)

		probe, err := c.Poll(context.Background(), "cmd-42/i-0abc123")
		require.NoError(t, err)
		assert.True(t, probe.Done)
		assert.NotZero(t, probe.ExitCode, "status %s must not look successful", status)
	}
}

func TestPollTreatsMissingInvocationAsPending(t *testing.T) {
	s := &fakeSSM{invocationErr: &ssmtypes.InvocationDoesNotExist{}}
	c := newTestChannel(s)

	probe, err := c.Poll(context.Background(), "cmd-42/i-0abc123")
	require.NoError(t, err)
	assert.False(t, probe.Done)
}

func TestPollRejectsMalformedHandle(t *testing.T) {
	c := newTestChannel(&fakeSSM{})
	_, err := c.Poll(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))
}

func TestDescribeHost(t *testing.T) {
	launched := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)
	c := newTestChannel(&fakeSSM{})
	c.ec2 = &fakeEC2{out: &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceType:    ec2types.InstanceTypeT3Micro,
				State:           &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
				PublicIpAddress: awssdk.String("203.0.113.7"),
				PublicDnsName:   awssdk.String("ec2-203-0-113-7.example.amazonaws.com"),
				LaunchTime:      &launched,
			}},
		}},
	}}

	status, err := c.DescribeHost(context.Background(), "i-0abc123")
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)
	assert.Equal(t, "t3.micro", status.Type)
	assert.Equal(t, "203.0.113.7", status.PublicIP)
	assert.Equal(t, "2026-08-20 09:30:00 UTC", status.LaunchedAt)
}

func TestDescribeHostNotFound(t *testing.T) {
	c := newTestChannel(&fakeSSM{})
	c.ec2 = &fakeEC2{out: &ec2.DescribeInstancesOutput{}}

	_, err := c.DescribeHost(context.Background(), "i-missing")
	require.Error(t, err)
	assert.True(t, deployerr.IsRemote(err, deployerr.RemoteUnreachable))
}

func TestCallerIdentity(t *testing.T) {
	c := newTestChannel(&fakeSSM{})
	id, err := c.CallerIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Contains(t, id.ARN, "user/ops")
}

func TestBuildCommandsQuoting(t *testing.T) {
	commands, err := buildCommands("organization.set", map[string]string{"organization": "acme's lab"})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, `sudo /usr/local/bin/nbdeploy-ctl organization set 'acme'\''s lab'`, commands[0])
}

func TestBuildCommandsRequiresParams(t *testing.T) {
	_, err := buildCommands("users.add", nil)
	require.Error(t, err)
	assert.True(t, deployerr.IsValidation(err))

	_, err = buildCommands("users.add", map[string]string{"usernames": " , "})
	require.Error(t, err)
}
