package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"strings"

	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/target"
	"github.com/Octogonapus/RPMABench/util"
)

// Everything a runner needs besides the benchmark itself.
type BenchmarkContext struct {
	Target    target.Target
	Config    *config.Config
	ResultDir string
	Exec      Executor
}

// A Runner invokes a measurement tool for a benchmark. It must append one row per sweep value to the result file,
// skipping values which are already recorded, and must stop any remote server it started before returning.
type Runner interface {
	Run(ctx context.Context, b *Benchmark, bctx *BenchmarkContext, resultPath string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, b *Benchmark, bctx *BenchmarkContext, resultPath string) error

func (f RunnerFunc) Run(ctx context.Context, b *Benchmark, bctx *BenchmarkContext, resultPath string) error {
	return f(ctx, b, bctx, resultPath)
}

// Tool name under which the runner for all "*.sh" tools registers.
const ScriptTool = "*.sh"

type runnerFactory func(series.Series) (Runner, error)

var runners map[string]runnerFactory

// All runners must register themselves at module load time so that benchmarks can find them by tool name.
func RegisterRunner(tool string, f runnerFactory) {
	if runners == nil {
		runners = map[string]runnerFactory{}
	}
	runners[tool] = f
}

func selectRunner(b *Benchmark, bctx *BenchmarkContext) (Runner, error) {
	if bctx.Config.DummyResults {
		return RunnerFunc(dummyRun), nil
	}

	tool := b.Tool()
	if strings.HasSuffix(tool, ".sh") {
		tool = ScriptTool
	}
	factory, ok := runners[tool]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool: %s", ErrValidation, b.Tool())
	}
	return factory(b.Series)
}

// An Executor runs local commands. It is replaced in tests to avoid needing the actual tools.
type Executor interface {
	// Runs name with args and env added to the process environment and returns the combined output.
	Run(ctx context.Context, env map[string]string, name string, args ...string) ([]byte, error)
}

type LocalExec struct{}

func (LocalExec) Run(ctx context.Context, env map[string]string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	slog.Debug("running local command", slog.String("command", name+" "+strings.Join(args, " ")))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(util.LastNonEmptyLine(out)))
	}
	return out, nil
}

func (bctx *BenchmarkContext) executor() Executor {
	if bctx.Exec == nil {
		return LocalExec{}
	}
	return bctx.Exec
}

// Local runs a local command through the context's executor.
func (bctx *BenchmarkContext) Local(ctx context.Context, env map[string]string, name string, args ...string) ([]byte, error) {
	return bctx.executor().Run(ctx, env, name, args...)
}

// dummyRun fills the result file with random rows, used when the config asks for dummy results.
func dummyRun(ctx context.Context, b *Benchmark, bctx *BenchmarkContext, resultPath string) error {
	sweep, err := ResolveSweep(b.Series)
	if err != nil {
		return err
	}
	dirs := []string{""}
	if rw, ok := b.Series.String(series.FieldRW); ok && series.IsMixed(rw) {
		dirs = []string{"read", "write"}
	}
	for _, v := range sweep.Values {
		for _, dir := range dirs {
			row := BaseRow(b, sweep.Axis, v)
			lat := 1 + rand.Float64()*10
			row["lat_min"] = lat * 0.8
			row["lat_avg"] = lat
			row["lat_max"] = lat * 1.5
			row["lat_pctl_99"] = lat * 1.2
			row["lat_pctl_99.9"] = lat * 1.3
			row["bw_avg"] = 1 + rand.Float64()*10
			row["iops_avg"] = 1e5 + rand.Float64()*1e5
			_, err := AppendRow(resultPath, dir, sweep.Axis, row)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
