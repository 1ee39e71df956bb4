package profile

import (
	"fmt"
	"log/slog"

	"github.com/Octogonapus/RPMABench/target"
	"github.com/Octogonapus/RPMABench/util"
)

type perf struct {
	target target.Target
}

func init() {
	RegisterProfiler(Perf, NewPerf)
}

func NewPerf(target target.Target) Profiler {
	return &perf{target: target}
}

func (p *perf) SetUp() error {
	out, err := p.target.RunCommand("command -v perf")
	if err != nil {
		slog.Error("perf: not installed on the remote", slog.String("command output", string(out)), slog.String("error", err.Error()))
		return fmt.Errorf("perf is not installed on the remote: %w", err)
	}
	return nil
}

func (p *perf) WrapCommand(cmd string) (string, string) {
	resultFile := fmt.Sprintf("/tmp/perf-%s.data", util.Randstring(8))
	return fmt.Sprintf("perf record -g -o %s -- %s", resultFile, cmd), resultFile
}
