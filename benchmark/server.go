package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/Octogonapus/RPMABench/profile"
	systemmonitor "github.com/Octogonapus/RPMABench/system_monitor"
	"github.com/Octogonapus/RPMABench/util"
)

// ServerStats is what the machinery around a server run observed.
type ServerStats struct {
	CPUBusy     float64 // average remote CPU busy percentage, valid when HasCPU
	HasCPU      bool
	ProfilePath string // local copy of the profile, empty without a profiler
}

// Annotate adds the stats to a result row.
func (st *ServerStats) Annotate(row Row) {
	if st == nil {
		return
	}
	if st.HasCPU {
		row["server_cpu_busy"] = st.CPUBusy
	}
	if st.ProfilePath != "" {
		row["profile"] = st.ProfilePath
	}
}

// WithServer starts serverCmd on the remote, runs client while it is up, and makes sure the server is gone before
// returning. name is the server's process name, used to kill it when the client fails. The system monitor and the
// profiler wrap the server when the config asks for them.
func WithServer(ctx context.Context, bctx *BenchmarkContext, name string, serverCmd string, env map[string]string, client func() error) (*ServerStats, error) {
	cfg := bctx.Config
	st := &ServerStats{}

	remoteProfile := ""
	if kind := profile.ProfilerKind(cfg.RemoteProfiler); kind != profile.None && kind != "" {
		prof, err := profile.NewProfiler(kind, bctx.Target)
		if err != nil {
			return nil, fmt.Errorf("creating profiler failed: %w", err)
		}
		err = prof.SetUp()
		if err != nil {
			return nil, fmt.Errorf("setting up profiler failed: %w", err)
		}
		serverCmd, remoteProfile = prof.WrapCommand(serverCmd)
	}

	var sm systemmonitor.SystemMonitor
	if cfg.RemoteMonitor {
		sm = systemmonitor.NewSystemMonitor(bctx.Target)
		err := sm.StartMonitoring()
		if err != nil {
			return nil, fmt.Errorf("starting SystemMonitor failed: %w", err)
		}
		defer func() {
			sm.StopMonitoring()
			sm.WaitUntilStopped()
		}()
	}

	slog.Debug("starting server", slog.String("name", name), slog.String("command", serverCmd))
	h, err := bctx.Target.RunAsync(ctx, serverCmd, env)
	if err != nil {
		return nil, fmt.Errorf("starting %s failed: %w", name, err)
	}

	err = client()
	if err != nil {
		h.Close()
		_, killErr := bctx.Target.RunCommand("pkill -x " + util.ShellQuote(name))
		if killErr != nil {
			slog.Debug("pkill found nothing to stop", slog.String("name", name))
		}
		h.Wait()
		return nil, err
	}

	err = h.Check()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	if sm != nil {
		sm.StopMonitoring()
		sm.WaitUntilStopped()
		st.CPUBusy, st.HasCPU = sm.GetSystemMeasurements().AverageBusy()
	}

	if remoteProfile != "" {
		st.ProfilePath, err = fetchProfile(bctx, name, remoteProfile)
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

func fetchProfile(bctx *BenchmarkContext, name string, remotePath string) (string, error) {
	dir := bctx.Config.ProfileDir
	if dir == "" {
		dir = bctx.ResultDir
	}
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", err
	}
	localPath := path.Join(dir, name+"-"+path.Base(remotePath))
	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open local profile path for writing: %w", err)
	}
	err = bctx.Target.CopyFileFrom(remotePath, f)
	err = errors.Join(err, f.Close())
	if err != nil {
		return "", fmt.Errorf("failed to copy profiling result: %w", err)
	}
	return localPath, nil
}
