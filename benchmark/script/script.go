// Package script runs user-provided shell scripts as measurement tools. The script gets the sweep point and the
// config as environment variables and prints its row as a JSON object on the last line of its output.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/util"
)

type runner struct{}

func init() {
	benchmark.RegisterRunner(benchmark.ScriptTool, func(s series.Series) (benchmark.Runner, error) {
		return &runner{}, nil
	})
}

// env exports the row under upper-cased names next to the config. Nested values such as requirements are skipped.
func env(bctx *benchmark.BenchmarkContext, row benchmark.Row) map[string]string {
	out := bctx.Config.Env()
	for k, v := range row {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		out[strings.ToUpper(k)] = series.Format(v)
	}
	return out
}

func (r *runner) Run(ctx context.Context, b *benchmark.Benchmark, bctx *benchmark.BenchmarkContext, resultPath string) error {
	sweep, err := benchmark.ResolveSweep(b.Series)
	if err != nil {
		return err
	}
	dirs := []string{""}
	if rw, ok := b.Series.String(series.FieldRW); ok && series.IsMixed(rw) {
		dirs = []string{"read", "write"}
	}
	missing, err := benchmark.Missing(resultPath, dirs, sweep)
	if err != nil {
		return err
	}

	for _, v := range missing {
		row := benchmark.BaseRow(b, sweep.Axis, v)
		out, err := bctx.Local(ctx, env(bctx, row), b.Tool())
		if err != nil {
			return err
		}
		line := util.LastNonEmptyLine(out)
		slog.Debug("selected script output", slog.String("line", line))

		parsed := map[string]any{}
		err = json.Unmarshal([]byte(line), &parsed)
		if err != nil {
			return fmt.Errorf("%s did not print a JSON row: %w", b.Tool(), err)
		}
		halves := map[string]map[string]any{"": parsed}
		if len(dirs) == 2 {
			halves = map[string]map[string]any{}
			for _, dir := range dirs {
				half, ok := parsed[dir].(map[string]any)
				if !ok {
					return fmt.Errorf("%s did not print a %s row for a mixed workload", b.Tool(), dir)
				}
				halves[dir] = half
			}
		}

		for _, dir := range dirs {
			point := benchmark.Row{}
			for k, v := range row {
				point[k] = v
			}
			for k, v := range halves[dir] {
				point[k] = v
			}
			_, err = benchmark.AppendRow(resultPath, dir, sweep.Axis, point)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
