// Compares the librpma APM engine against raw RDMA reads, with and without direct write to PMem.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path"

	_ "github.com/Octogonapus/RPMABench/benchmark/fio"
	_ "github.com/Octogonapus/RPMABench/benchmark/ibread"

	benchmarkorchestrator "github.com/Octogonapus/RPMABench/benchmark_orchestrator"
	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/report"
	"github.com/Octogonapus/RPMABench/requirement"
	"github.com/Octogonapus/RPMABench/target"
)

func main() {
	configPath := flag.String("config", "config.yaml", "The config file describing the server.")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	resultDir := "results-apm"
	bench, err := benchmarkorchestrator.Load(resultDir)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err := config.Load(*configPath, "")
		if err != nil {
			panic(err)
		}
		bench, err = benchmarkorchestrator.New(cfg, []benchmarkorchestrator.Part{apmPart()}, resultDir)
		if err != nil {
			panic(err)
		}
	} else if err != nil {
		panic(err)
	}

	t, err := target.NewSSHTarget(bench.Config)
	if err != nil {
		panic(err)
	}
	_, err = bench.Run(context.Background(), t, benchmarkorchestrator.RunOptions{Progress: os.Stderr})
	if err != nil {
		panic(err)
	}

	err = report.New(path.Join(resultDir, "report")).Write("librpma APM vs ib_read", bench.Figures)
	if err != nil {
		panic(err)
	}
}

func apmPart() benchmarkorchestrator.Part {
	figures := []map[string]any{}
	for _, mode := range []string{"lat", "bw-bs", "bw-th"} {
		y := "bw_avg"
		if mode == "lat" {
			y = "lat_avg"
		}
		xscale := "log"
		if mode == "bw-th" {
			xscale = "linear"
		}

		for _, rw := range []string{"read", "write"} {
			series := []any{}
			for _, dw := range []bool{true, false} {
				series = append(series, map[string]any{
					"tool":         "fio",
					"engine":       "librpma_apm",
					"rw":           rw,
					"label":        fmt.Sprintf("apm dw=%t", dw),
					"requirements": map[string]any{requirement.DirectWriteToPMem: dw},
				})
			}
			// ib_read has no write counterpart
			if rw == "read" {
				series = append(series, map[string]any{"tool": "ib_read", "label": "ib_read"})
			}
			figures = append(figures, map[string]any{
				"output": map[string]any{
					"title":  fmt.Sprintf("APM %s %s", rw, mode),
					"key":    fmt.Sprintf("apm_%s_%s", rw, mode),
					"file":   "apm",
					"x":      axis(mode),
					"y":      y,
					"xscale": xscale,
				},
				"mode":   mode,
				"series": series,
			})
		}
	}
	return benchmarkorchestrator.Part{Name: "apm", Figures: figures}
}

func axis(mode string) string {
	switch mode {
	case "bw-th":
		return "threads"
	default:
		return "bs"
	}
}
