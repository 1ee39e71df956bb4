// Package ibread runs the perftest ib_read_lat and ib_read_bw tools: the server side on the remote peer, the client
// side locally.
package ibread

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/mitchellh/mapstructure"
)

const Tool = "ib_read"

type IbReadInput struct {
	Mode       string `mapstructure:"mode"`
	Iterations int    `mapstructure:"iterations"`
	Port       int    `mapstructure:"port"`
	IBDevice   string `mapstructure:"ib_device"` // local device, perftest picks the first one when empty
}

type runner struct {
	input *IbReadInput
}

func init() {
	benchmark.RegisterRunner(Tool, func(s series.Series) (benchmark.Runner, error) {
		input := &IbReadInput{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: input})
		if err != nil {
			return nil, err
		}
		err = decoder.Decode(map[string]any(s))
		if err != nil {
			return nil, fmt.Errorf("can't convert series to IbReadInput: %w", err)
		}
		return NewIbRead(input)
	})
}

func NewIbRead(input *IbReadInput) (benchmark.Runner, error) {
	switch input.Mode {
	case "lat", "bw-bs", "bw-th", "bw-dp":
	default:
		return nil, fmt.Errorf("%w: %s does not support mode %q", benchmark.ErrValidation, Tool, input.Mode)
	}
	if input.Iterations == 0 {
		input.Iterations = 1000
	}
	if input.Port == 0 {
		input.Port = 18515
	}
	return &runner{input: input}, nil
}

func (r *runner) binary() string {
	if r.input.Mode == "lat" {
		return "ib_read_lat"
	}
	return "ib_read_bw"
}

// args are shared by the server and the client, perftest refuses to connect when they disagree.
func (r *runner) args(row benchmark.Row) []string {
	args := []string{
		"-F",
		"-s", strconv.Itoa(int(benchmark.Param(row, "bs"))),
		"-n", strconv.Itoa(r.input.Iterations),
		"-p", strconv.Itoa(r.input.Port),
	}
	if r.input.Mode != "lat" {
		args = append(args, "-q", strconv.Itoa(max(int(benchmark.Param(row, "threads")), 1)))
		args = append(args, "-o", strconv.Itoa(max(int(benchmark.Param(row, "iodepth")), 1)))
	}
	return args
}

func (r *runner) Run(ctx context.Context, b *benchmark.Benchmark, bctx *benchmark.BenchmarkContext, resultPath string) error {
	cfg := bctx.Config
	sweep, err := benchmark.ResolveSweep(b.Series)
	if err != nil {
		return err
	}
	missing, err := benchmark.Missing(resultPath, []string{""}, sweep)
	if err != nil {
		return err
	}

	bin := r.binary()
	for _, v := range missing {
		row := benchmark.BaseRow(b, sweep.Axis, v)
		args := r.args(row)

		serverArgs := args
		if cfg.RemoteIBDevice != "" {
			serverArgs = append([]string{"-d", cfg.RemoteIBDevice}, serverArgs...)
		}
		clientArgs := args
		if r.input.IBDevice != "" {
			clientArgs = append([]string{"-d", r.input.IBDevice}, clientArgs...)
		}
		clientArgs = append(clientArgs, cfg.ServerIP)

		var out []byte
		st, err := benchmark.WithServer(ctx, bctx, bin, bin+" "+strings.Join(serverArgs, " "), nil, func() error {
			return benchmark.RetryClient(ctx, cfg.ClientConnectAttempts, cfg.ClientConnectBackoff, func() error {
				var err error
				out, err = bctx.Local(ctx, nil, bin, clientArgs...)
				if err != nil && bytes.Contains(out, []byte("Couldn't connect")) {
					return fmt.Errorf("%w: %w", benchmark.ErrServerNotReady, err)
				}
				return err
			})
		})
		if err != nil {
			return err
		}

		err = parseTable(r.input.Mode, out, row)
		if err != nil {
			return fmt.Errorf("parsing %s output failed: %w", bin, err)
		}
		st.Annotate(row)
		_, err = benchmark.AppendRow(resultPath, "", sweep.Axis, row)
		if err != nil {
			return err
		}
		slog.Debug("recorded sweep point", slog.Int("id", b.ID), slog.String("axis", sweep.Axis), slog.String("value", series.Format(v)))
	}
	return nil
}

// Column order of the perftest result line, after #bytes and #iterations.
var latColumns = []string{"lat_min", "lat_max", "lat_typical", "lat_avg", "lat_stdev", "lat_pctl_99", "lat_pctl_99.9"}
var bwColumns = []string{"bw_peak", "bw_avg", "msg_rate"}

// parseTable reads the line following the "#bytes" header into row. Latencies are in usec, bandwidths in MB/sec.
func parseTable(mode string, out []byte, row benchmark.Row) error {
	columns := bwColumns
	if mode == "lat" {
		columns = latColumns
	}

	lines := strings.Split(string(out), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "#bytes") {
			continue
		}
		for _, data := range lines[i+1:] {
			fields := strings.Fields(data)
			if len(fields) == 0 || strings.HasPrefix(fields[0], "-") {
				continue
			}
			if len(fields) < 2+len(columns) {
				return fmt.Errorf("expected %d columns, got: %q", 2+len(columns), data)
			}
			for j, name := range columns {
				f, err := strconv.ParseFloat(fields[2+j], 64)
				if err != nil {
					return fmt.Errorf("column %s: %w", name, err)
				}
				row[name] = f
			}
			if mode != "lat" {
				row["iops_avg"] = row["msg_rate"].(float64) * 1e6
			}
			return nil
		}
	}
	return fmt.Errorf("result table not found")
}
