package benchmarkorchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/target"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

var ipPollInterval = 3 * time.Second
var reachablePollInterval = 10 * time.Second

// ResolveServerIP fills SERVER_IP from SERVER_EC2_INSTANCE_ID when the server is an EC2 instance. A SERVER_IP
// that is already set wins.
func ResolveServerIP(ctx context.Context, client ec2.DescribeInstancesAPIClient, cfg *config.Config) error {
	if cfg.ServerIP != "" || cfg.ServerEC2InstanceID == "" {
		return nil
	}
	ip, err := getInstanceIP(ctx, client, cfg.ServerEC2InstanceID)
	if err != nil {
		return err
	}
	slog.Info("resolved server address", slog.String("instanceID", cfg.ServerEC2InstanceID), slog.String("ip", ip))
	cfg.ServerIP = ip
	return nil
}

func getInstanceIP(ctx context.Context, client ec2.DescribeInstancesAPIClient, instanceID string) (string, error) {
	for i := 0; i < 10; i++ {
		resp, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
			return "", fmt.Errorf("%w: instance %s does not exist", config.ErrConfig, instanceID)
		}

		instance := resp.Reservations[0].Instances[0]
		if instance.PublicIpAddress != nil {
			return *instance.PublicIpAddress, nil
		}
		if instance.PrivateIpAddress != nil {
			return *instance.PrivateIpAddress, nil
		}

		err = sleep(ctx, ipPollInterval)
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to get instance %s IP", instanceID)
}

// WaitReachable polls the server over SSH until it answers, for servers which were just started.
func WaitReachable(ctx context.Context, t target.Target, attempts int) error {
	for i := 0; i < attempts; i++ {
		buf, err := t.RunCommand("whoami")
		if err == nil && strings.TrimSpace(string(buf)) != "" {
			return nil
		}
		if err != nil {
			slog.Debug("target reachability check failed", slog.String("error", err.Error()))
		}
		err = sleep(ctx, reachablePollInterval)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("timed out waiting for target to be reachable")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
