package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Octogonapus/RPMABench/series"
)

var ErrValidation = errors.New("validation error")

// A Benchmark is one flat series plus its completion state. Benchmarks built from the same series content are the
// same unit of work, whatever their ID.
type Benchmark struct {
	ID     int // assigned at dedup time, 0 until then
	Series series.Series
	Done   bool
}

// Fields which only say how a figure reads the results, not what gets measured.
var presentationFields = []string{series.FieldLabel, series.FieldID, series.FieldRWDir}

// New wraps a flat series. The label, identifier and read/write direction are stripped: they pick a chart line, not
// the work. A mixed workload records both directions in one result file.
func New(s series.Series) *Benchmark {
	return &Benchmark{Series: s.Without(presentationFields...)}
}

// Key is the structural identity used for dedup. Requirements are part of the series, so two benchmarks with equal
// keys also impose equal requirements.
func (b *Benchmark) Key() string {
	return b.Series.Without(presentationFields...).Key()
}

func (b *Benchmark) Equal(other *Benchmark) bool {
	return b.Key() == other.Key()
}

func (b *Benchmark) Requirements() map[string]any {
	return b.Series.Requirements()
}

func (b *Benchmark) Tool() string {
	tool, _ := b.Series.String(series.FieldTool)
	return tool
}

func (b *Benchmark) Mode() string {
	mode, _ := b.Series.String(series.FieldMode)
	return mode
}

func (b *Benchmark) String() string {
	return fmt.Sprintf("benchmark %d (%s/%s)", b.ID, b.Tool(), b.Mode())
}

// ResultPath is where the runner appends this benchmark's rows.
func (b *Benchmark) ResultPath(resultDir string) string {
	return filepath.Join(resultDir, fmt.Sprintf("benchmark_%d.json", b.ID))
}

func (b *Benchmark) validate(bctx *BenchmarkContext) error {
	missing := []string{}
	if b.Tool() == "" {
		missing = append(missing, series.FieldTool)
	}
	if b.ID == 0 {
		missing = append(missing, series.FieldID)
	}
	if b.Mode() == "" {
		missing = append(missing, series.FieldMode)
	}
	if bctx.Config == nil || bctx.Config.ServerIP == "" {
		missing = append(missing, "SERVER_IP")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing %s", ErrValidation, b, strings.Join(missing, ", "))
	}
	return nil
}

// Run executes the benchmark with the runner selected by its tool. A failed run leaves Done unset, so running again
// redoes only the sweep values missing from the result file.
func (b *Benchmark) Run(ctx context.Context, bctx *BenchmarkContext) error {
	err := b.validate(bctx)
	if err != nil {
		return err
	}

	runner, err := selectRunner(b, bctx)
	if err != nil {
		return err
	}

	slog.Info("starting benchmark", slog.Int("id", b.ID), slog.String("tool", b.Tool()), slog.String("mode", b.Mode()))
	err = runner.Run(ctx, b, bctx, b.ResultPath(bctx.ResultDir))
	if err != nil {
		return fmt.Errorf("running %s failed: %w", b, err)
	}
	b.Done = true
	slog.Info("finished benchmark", slog.Int("id", b.ID))
	return nil
}

// Skip marks the benchmark done without running it.
func (b *Benchmark) Skip() {
	slog.Debug("skipping benchmark", slog.Int("id", b.ID))
	b.Done = true
}

type cache struct {
	ID     int           `json:"id"`
	Series series.Series `json:"oneseries"`
	Done   bool          `json:"done"`
}

func (b *Benchmark) MarshalJSON() ([]byte, error) {
	return json.Marshal(cache{ID: b.ID, Series: b.Series, Done: b.Done})
}

func (b *Benchmark) UnmarshalJSON(buf []byte) error {
	c := cache{}
	err := json.Unmarshal(buf, &c)
	if err != nil {
		return err
	}
	b.ID = c.ID
	b.Series = series.New(c.Series)
	b.Done = c.Done
	return nil
}
