package benchmarkorchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/target/targettest"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	calls     int
	instances []ec2Types.Instance
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.calls++
	i := min(f.calls-1, len(f.instances)-1)
	return &ec2.DescribeInstancesOutput{Reservations: []ec2Types.Reservation{{Instances: []ec2Types.Instance{f.instances[i]}}}}, nil
}

func TestResolveServerIP(t *testing.T) {
	ipPollInterval = time.Millisecond
	client := &fakeEC2{instances: []ec2Types.Instance{{}, {PublicIpAddress: aws.String("3.4.5.6")}}}

	cfg := config.Default()
	cfg.ServerEC2InstanceID = "i-123"
	require.NoError(t, ResolveServerIP(context.Background(), client, cfg))
	assert.Equal(t, "3.4.5.6", cfg.ServerIP)
	assert.Equal(t, 2, client.calls)

	// an explicit address is kept
	cfg.ServerIP = "10.0.0.2"
	require.NoError(t, ResolveServerIP(context.Background(), client, cfg))
	assert.Equal(t, "10.0.0.2", cfg.ServerIP)
	assert.Equal(t, 2, client.calls)
}

func TestWaitReachable(t *testing.T) {
	reachablePollInterval = time.Millisecond
	fake := targettest.New()
	n := 0
	fake.Respond = func(cmd string) targettest.Reply {
		n++
		if n < 3 {
			return targettest.Reply{Status: 255, Stderr: "connection refused"}
		}
		return targettest.Reply{Stdout: "root\n"}
	}
	require.NoError(t, WaitReachable(context.Background(), fake, 5))
	assert.Equal(t, 3, n)

	fake.Respond = func(cmd string) targettest.Reply { return targettest.Reply{Status: 255} }
	assert.Error(t, WaitReachable(context.Background(), fake, 2))
}

func TestWaitsStopOnCancel(t *testing.T) {
	reachablePollInterval = time.Hour
	ipPollInterval = time.Hour
	t.Cleanup(func() {
		reachablePollInterval = time.Millisecond
		ipPollInterval = time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := targettest.New()
	fake.Respond = func(cmd string) targettest.Reply { return targettest.Reply{Status: 255} }
	assert.ErrorIs(t, WaitReachable(ctx, fake, 3), context.Canceled)

	cfg := config.Default()
	cfg.ServerEC2InstanceID = "i-123"
	client := &fakeEC2{instances: []ec2Types.Instance{{}}}
	assert.ErrorIs(t, ResolveServerIP(ctx, client, cfg), context.Canceled)
	assert.Equal(t, 1, client.calls)
}
