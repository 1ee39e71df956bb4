package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"

	_ "github.com/Octogonapus/RPMABench/benchmark/fio"
	_ "github.com/Octogonapus/RPMABench/benchmark/ibread"
	_ "github.com/Octogonapus/RPMABench/benchmark/script"

	artifactstore "github.com/Octogonapus/RPMABench/artifact_store"
	benchmarkorchestrator "github.com/Octogonapus/RPMABench/benchmark_orchestrator"
	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/profile"
	"github.com/Octogonapus/RPMABench/report"
	"github.com/Octogonapus/RPMABench/target"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

type figureFiles []string

func (ffs *figureFiles) String() string {
	return fmt.Sprint(*ffs)
}

func (ffs *figureFiles) Set(value string) error {
	*ffs = append(*ffs, value)
	return nil
}

func main() {
	configPath := flag.String("config", "", "The JSON or YAML config file describing the server. Required when creating a new bench.")
	envFile := flag.String("env-file", "", "A .env file with RPMABENCH_<KEY> overrides for the config.")
	resultDir := flag.String("result-dir", "results", "The directory holding the bench state and results. An existing bench in it is resumed.")
	skipUndone := flag.Bool("skip-undone", false, "Mark every undone requirement done without running it, then collect the figures from the results which exist.")
	renderReport := flag.Bool("report", false, "Render the collected figures into a Markdown and HTML report under <result-dir>/report.")
	upload := flag.Bool("upload", false, "Upload the result directory to RESULTS_BUCKET once the run is complete.")
	profiler := flag.String("profiler", "", fmt.Sprintf("Overrides REMOTE_PROFILER. Must be one of: %s.", profile.ExplainProfilers()))
	debug := flag.Bool("debug", false, "Log at debug level.")
	ffiles := figureFiles{}
	flag.Var(&ffiles, "figures", "A JSON or YAML file holding a list of figure specs. Can be used multiple times; every file is one part of the bench. At least one is required when creating a new bench.")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	bench, err := openBench(ctx, *configPath, *envFile, *resultDir, ffiles)
	if err != nil {
		panic(err)
	}
	if *profiler != "" {
		bench.Config.RemoteProfiler = *profiler
	}

	t, err := target.NewSSHTarget(bench.Config)
	if err != nil {
		panic(err)
	}
	if bench.Config.ServerEC2InstanceID != "" {
		// The instance may still be booting.
		err = benchmarkorchestrator.WaitReachable(ctx, t, 30)
		if err != nil {
			panic(err)
		}
	}

	sum, err := bench.Run(ctx, t, benchmarkorchestrator.RunOptions{SkipUndone: *skipUndone, Progress: os.Stderr})
	if errors.Is(err, benchmarkorchestrator.ErrIncomplete) {
		slog.Warn("some requirements are not met, fix the server and run again to resume", slog.Any("unmet", sum.Unmet), slog.String("error", err.Error()))
		os.Exit(2)
	}
	if err != nil {
		panic(err)
	}
	if len(sum.FastForwarded) > 0 {
		slog.Warn("requirements were fast-forwarded, their figures only hold results which already existed", slog.Any("requirements", sum.FastForwarded))
	}

	if *renderReport {
		r := report.New(path.Join(*resultDir, "report"))
		err = r.Write("RPMA benchmark report", bench.Figures)
		if err != nil {
			panic(err)
		}
		slog.Info("wrote report", slog.Int("figures", r.Figures()))
	}

	if *upload {
		if bench.Config.ResultsBucket == "" {
			panic(fmt.Errorf("%w: -upload requires RESULTS_BUCKET", config.ErrConfig))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			panic(err)
		}
		store := artifactstore.New(awsCfg, bench.Config.ResultsBucket, bench.Config.ResultsPrefix, bench.Config.UploadConcurrency)
		_, err = store.Upload(ctx, *resultDir)
		if err != nil {
			panic(err)
		}
	}
}

// openBench resumes the bench in resultDir or creates a new one from the config and figure files.
func openBench(ctx context.Context, configPath string, envFile string, resultDir string, ffiles []string) (*benchmarkorchestrator.Bench, error) {
	bench, err := benchmarkorchestrator.Load(resultDir)
	if err == nil {
		slog.Info("resuming bench", slog.String("resultDir", resultDir))
		if len(ffiles) > 0 || configPath != "" {
			slog.Warn("resuming an existing bench, -config and -figures are ignored")
		}
		return bench, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if configPath == "" {
		return nil, fmt.Errorf("%w: config is a required flag", config.ErrConfig)
	}
	if len(ffiles) == 0 {
		return nil, fmt.Errorf("%w: figures is a required flag", config.ErrConfig)
	}
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}

	if cfg.ServerIP == "" && cfg.ServerEC2InstanceID != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithEC2IMDSRegion())
		if err != nil {
			return nil, err
		}
		err = benchmarkorchestrator.ResolveServerIP(ctx, ec2.NewFromConfig(awsCfg), cfg)
		if err != nil {
			return nil, err
		}
	}

	parts := []benchmarkorchestrator.Part{}
	for _, ff := range ffiles {
		part, err := benchmarkorchestrator.LoadPart(ff)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return benchmarkorchestrator.New(cfg, parts, resultDir)
}
