// Package fio runs fio with the librpma engines: the server job on the remote peer, the client job locally.
package fio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/hashicorp/go-version"
	"github.com/mitchellh/mapstructure"
)

const Tool = "fio"

// The librpma engines first shipped in fio 3.27.
var minVersion = version.Must(version.NewVersion("3.27"))

type FioInput struct {
	Mode    string `mapstructure:"mode"`
	RW      string `mapstructure:"rw"`
	Engine  string `mapstructure:"engine"`
	Port    int    `mapstructure:"port"`
	Runtime string `mapstructure:"runtime"`
	Ramp    string `mapstructure:"ramp_time"`
	Size    string `mapstructure:"size"`
}

type runner struct {
	input   *FioInput
	checked bool
}

func init() {
	benchmark.RegisterRunner(Tool, func(s series.Series) (benchmark.Runner, error) {
		input := &FioInput{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: input})
		if err != nil {
			return nil, err
		}
		err = decoder.Decode(map[string]any(s))
		if err != nil {
			return nil, fmt.Errorf("can't convert series to FioInput: %w", err)
		}
		return NewFio(input)
	})
}

func NewFio(input *FioInput) (benchmark.Runner, error) {
	switch input.Mode {
	case "lat", "bw-bs", "bw-th", "bw-dp":
	default:
		return nil, fmt.Errorf("%w: %s does not support mode %q", benchmark.ErrValidation, Tool, input.Mode)
	}
	if input.RW == "" {
		input.RW = "read"
	}
	if input.Engine == "" {
		input.Engine = "librpma_apm"
	}
	if input.Port == 0 {
		input.Port = 7204
	}
	if input.Runtime == "" {
		input.Runtime = "60s"
	}
	if input.Ramp == "" {
		input.Ramp = "15s"
	}
	if input.Size == "" {
		input.Size = "100MiB"
	}
	return &runner{input: input}, nil
}

// checkVersion makes sure the local fio knows the librpma engines.
func (r *runner) checkVersion(ctx context.Context, bctx *benchmark.BenchmarkContext) error {
	if r.checked {
		return nil
	}
	out, err := bctx.Local(ctx, nil, "fio", "--version")
	if err != nil {
		return fmt.Errorf("fio is not installed: %w", err)
	}
	raw := strings.TrimPrefix(strings.TrimSpace(string(out)), "fio-")
	v, err := version.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("can't parse fio version %q: %w", raw, err)
	}
	if v.LessThan(minVersion) {
		return fmt.Errorf("%w: fio %s is too old, need at least %s", benchmark.ErrValidation, v, minVersion)
	}
	r.checked = true
	return nil
}

func (r *runner) dirs() []string {
	if series.IsMixed(r.input.RW) {
		return []string{"read", "write"}
	}
	return []string{""}
}

func (r *runner) Run(ctx context.Context, b *benchmark.Benchmark, bctx *benchmark.BenchmarkContext, resultPath string) error {
	err := r.checkVersion(ctx, bctx)
	if err != nil {
		return err
	}
	sweep, err := benchmark.ResolveSweep(b.Series)
	if err != nil {
		return err
	}
	missing, err := benchmark.Missing(resultPath, r.dirs(), sweep)
	if err != nil {
		return err
	}

	cfg := bctx.Config
	for _, v := range missing {
		row := benchmark.BaseRow(b, sweep.Axis, v)
		serverCmd := "fio " + strings.Join(r.serverArgs(bctx, row), " ")
		clientArgs := r.clientArgs(bctx, row)

		var out []byte
		st, err := benchmark.WithServer(ctx, bctx, "fio", serverCmd, nil, func() error {
			return benchmark.RetryClient(ctx, cfg.ClientConnectAttempts, cfg.ClientConnectBackoff, func() error {
				var err error
				out, err = bctx.Local(ctx, nil, "fio", clientArgs...)
				if err != nil && (bytes.Contains(out, []byte("Connection refused")) || bytes.Contains(out, []byte("rpma_conn_req_connect"))) {
					return fmt.Errorf("%w: %w", benchmark.ErrServerNotReady, err)
				}
				return err
			})
		})
		if err != nil {
			return err
		}

		halves, err := parseJSON(out)
		if err != nil {
			return fmt.Errorf("parsing fio output failed: %w", err)
		}
		for _, dir := range r.dirs() {
			half := dir
			if half == "" {
				half = "read"
				if strings.Contains(r.input.RW, "write") {
					half = "write"
				}
			}
			point := benchmark.Row{}
			for k, v := range row {
				point[k] = v
			}
			for k, v := range halves[half] {
				point[k] = v
			}
			st.Annotate(point)
			_, err = benchmark.AppendRow(resultPath, dir, sweep.Axis, point)
			if err != nil {
				return err
			}
		}
		slog.Debug("recorded sweep point", slog.Int("id", b.ID), slog.String("axis", sweep.Axis), slog.String("value", series.Format(v)))
	}
	return nil
}

func (r *runner) serverArgs(bctx *benchmark.BenchmarkContext, row benchmark.Row) []string {
	cfg := bctx.Config
	filename := cfg.RemotePMemPath
	if filename == "" {
		filename = "malloc"
	}
	args := []string{
		"--name=server",
		"--ioengine=" + r.input.Engine + "_server",
		"--serverip=" + cfg.ServerIP,
		"--port=" + strconv.Itoa(r.input.Port),
		"--filename=" + filename,
		"--size=" + r.input.Size,
		"--numjobs=" + strconv.Itoa(max(int(benchmark.Param(row, "threads")), 1)),
		"--thread",
	}
	if cfg.DirectWriteToPMem != nil {
		args = append(args, "--direct_write_to_pmem="+boolArg(*cfg.DirectWriteToPMem))
	}
	return args
}

func (r *runner) clientArgs(bctx *benchmark.BenchmarkContext, row benchmark.Row) []string {
	return []string{
		"--name=client",
		"--ioengine=" + r.input.Engine + "_client",
		"--serverip=" + bctx.Config.ServerIP,
		"--port=" + strconv.Itoa(r.input.Port),
		"--rw=" + r.input.RW,
		"--bs=" + strconv.Itoa(int(benchmark.Param(row, "bs"))),
		"--iodepth=" + strconv.Itoa(max(int(benchmark.Param(row, "iodepth")), 1)),
		"--numjobs=" + strconv.Itoa(max(int(benchmark.Param(row, "threads")), 1)),
		"--size=" + r.input.Size,
		"--time_based",
		"--runtime=" + r.input.Runtime,
		"--ramp_time=" + r.input.Ramp,
		"--thread",
		"--group_reporting",
		"--output-format=json",
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

type fioLat struct {
	Min        float64            `json:"min"`
	Max        float64            `json:"max"`
	Mean       float64            `json:"mean"`
	Stddev     float64            `json:"stddev"`
	Percentile map[string]float64 `json:"percentile"`
}

type fioDir struct {
	BW    float64 `json:"bw"` // KiB/s
	IOPS  float64 `json:"iops"`
	LatNs fioLat  `json:"lat_ns"`
}

type fioOutput struct {
	Jobs []struct {
		Read  fioDir `json:"read"`
		Write fioDir `json:"write"`
	} `json:"jobs"`
}

// parseJSON turns fio's JSON report into a row per direction. Latencies are in usec, bandwidths in MB/sec.
func parseJSON(out []byte) (map[string]benchmark.Row, error) {
	// fio may print warnings before the JSON document
	start := bytes.IndexByte(out, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON document in output")
	}
	doc := fioOutput{}
	err := json.Unmarshal(out[start:], &doc)
	if err != nil {
		return nil, err
	}
	if len(doc.Jobs) == 0 {
		return nil, fmt.Errorf("no jobs in output")
	}
	job := doc.Jobs[0]
	return map[string]benchmark.Row{"read": dirRow(job.Read), "write": dirRow(job.Write)}, nil
}

func dirRow(d fioDir) benchmark.Row {
	return benchmark.Row{
		"lat_min":       d.LatNs.Min / 1e3,
		"lat_max":       d.LatNs.Max / 1e3,
		"lat_avg":       d.LatNs.Mean / 1e3,
		"lat_stdev":     d.LatNs.Stddev / 1e3,
		"lat_pctl_99":   d.LatNs.Percentile["99.000000"] / 1e3,
		"lat_pctl_99.9": d.LatNs.Percentile["99.900000"] / 1e3,
		"bw_avg":        d.BW * 1024 / 1e6,
		"iops_avg":      d.IOPS,
	}
}
