package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

// HostStatus describes the compute instance backing a deployment.
type HostStatus struct {
	InstanceID string
	State      string
	Type       string
	PublicIP   string
	PublicDNS  string
	LaunchedAt string
}

// Identity describes the AWS principal the CLI is running as.
type Identity struct {
	Account string
	ARN     string
}

// DescribeHost reports the EC2 instance's state for the host status verb.
func (c *Channel) DescribeHost(ctx context.Context, instanceID string) (*HostStatus, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, classifyAPIError(err, fmt.Sprintf("cannot describe instance %s", instanceID))
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, deployerr.NewRemote(deployerr.RemoteUnreachable,
			fmt.Sprintf("instance %s not found", instanceID), nil)
	}

	inst := out.Reservations[0].Instances[0]
	status := &HostStatus{
		InstanceID: instanceID,
		Type:       string(inst.InstanceType),
		PublicIP:   aws.ToString(inst.PublicIpAddress),
		PublicDNS:  aws.ToString(inst.PublicDnsName),
	}
	if inst.State != nil {
		status.State = string(inst.State.Name)
	}
	if inst.LaunchTime != nil {
		status.LaunchedAt = inst.LaunchTime.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	return status, nil
}

// CallerIdentity reports the active AWS principal, used in host status
// output to diagnose credential mixups.
func (c *Channel) CallerIdentity(ctx context.Context) (*Identity, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, classifyAPIError(err, "cannot resolve AWS caller identity")
	}
	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
	}, nil
}
