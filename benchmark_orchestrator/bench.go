package benchmarkorchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/figure"
	"github.com/Octogonapus/RPMABench/requirement"
	"github.com/Octogonapus/RPMABench/target"
	"github.com/Octogonapus/RPMABench/util"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"
)

var ErrIncomplete = errors.New("results are incomplete")

// Name of the state file in the result directory.
const StateFile = "bench.json"

// A Part is a named list of figure specs, usually one spec file.
type Part struct {
	Name    string
	Figures []map[string]any
}

// LoadPart reads a JSON or YAML file holding a list of figure specs.
func LoadPart(path string) (Part, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Part{}, err
	}
	specs := []map[string]any{}
	// YAML is a superset of JSON
	err = yaml.Unmarshal(buf, &specs)
	if err != nil {
		return Part{}, fmt.Errorf("parsing %s failed: %w", path, err)
	}
	return Part{Name: filepath.Base(path), Figures: specs}, nil
}

// Bench owns every requirement and figure of a campaign and persists their state after each step, so an
// interrupted run resumes where it stopped.
type Bench struct {
	Config       *config.Config
	Parts        []string
	Figures      []*figure.Figure
	Requirements map[string]*requirement.Requirement

	resultDir string
}

// New flattens the parts into figures, dedups their series into benchmarks numbered from 1 in encounter order,
// groups those by requirement and writes the initial state.
func New(cfg *config.Config, parts []Part, resultDir string) (*Bench, error) {
	b := &Bench{Config: cfg, Requirements: map[string]*requirement.Requirement{}, resultDir: resultDir}

	byKey := map[string]*benchmark.Benchmark{}
	all := []*benchmark.Benchmark{}
	set := figure.NewSet()
	for _, part := range parts {
		b.Parts = append(b.Parts, part.Name)
		figures, err := set.Flatten(part.Figures)
		if err != nil {
			return nil, fmt.Errorf("part %s: %w", part.Name, err)
		}
		for _, f := range figures {
			for _, ref := range f.Series {
				bm := benchmark.New(ref.Spec)
				key := bm.Key()
				existing, ok := byKey[key]
				if !ok {
					bm.ID = len(all) + 1
					byKey[key] = bm
					all = append(all, bm)
					existing = bm
				}
				ref.ID = existing.ID
			}
			b.Figures = append(b.Figures, f)
		}
	}

	for _, r := range requirement.Uniq(all) {
		b.Requirements[r.ID()] = r
	}
	slog.Info("created bench", slog.Int("figures", len(b.Figures)), slog.Int("benchmarks", len(all)), slog.Int("requirements", len(b.Requirements)))

	err := os.MkdirAll(resultDir, 0o755)
	if err != nil {
		return nil, err
	}
	return b, b.Dump()
}

type state struct {
	Config       *config.Config                      `json:"config"`
	Parts        []string                            `json:"parts"`
	Figures      []*figure.Figure                    `json:"figures"`
	Requirements map[string]*requirement.Requirement `json:"requirements"`
}

// Load restores a bench from the state file in resultDir.
func Load(resultDir string) (*Bench, error) {
	path := filepath.Join(resultDir, StateFile)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st := state{}
	err = json.Unmarshal(buf, &st)
	if err != nil {
		return nil, fmt.Errorf("parsing %s failed: %w", path, err)
	}
	if st.Config == nil {
		return nil, fmt.Errorf("%w: %s has no config", config.ErrConfig, path)
	}
	if st.Requirements == nil {
		st.Requirements = map[string]*requirement.Requirement{}
	}
	return &Bench{Config: st.Config, Parts: st.Parts, Figures: st.Figures, Requirements: st.Requirements, resultDir: resultDir}, nil
}

// Dump rewrites the whole state file.
func (b *Bench) Dump() error {
	buf, err := json.MarshalIndent(state{Config: b.Config, Parts: b.Parts, Figures: b.Figures, Requirements: b.Requirements}, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(filepath.Join(b.resultDir, StateFile), buf)
}

func (b *Bench) ResultDir() string {
	return b.resultDir
}

// RequirementIDs returns the requirement IDs in processing order.
func (b *Bench) RequirementIDs() []string {
	return slices.Sorted(maps.Keys(b.Requirements))
}

// Benchmarks returns every benchmark ordered by ID.
func (b *Bench) Benchmarks() []*benchmark.Benchmark {
	out := []*benchmark.Benchmark{}
	for _, r := range b.Requirements {
		for _, bm := range r.Benchmarks {
			out = append(out, bm)
		}
	}
	slices.SortFunc(out, func(a, b *benchmark.Benchmark) int { return a.ID - b.ID })
	return out
}

func (b *Bench) undone() int {
	n := 0
	for _, bm := range b.Benchmarks() {
		if !bm.Done {
			n++
		}
	}
	return n
}

type RunOptions struct {
	// Mark every undone requirement done without checking or running it. Figures are still collected from whatever
	// results exist.
	SkipUndone bool

	// Where to draw the progress bar, nothing is drawn when nil.
	Progress io.Writer

	// Runs local client tools, the local OS when nil.
	Exec benchmark.Executor
}

// Summary tells apart the requirements which ran, were fast-forwarded on request, or were not met.
type Summary struct {
	Ran           []string
	FastForwarded []string
	Unmet         []string
	FiguresDone   int
}

// Run processes every undone requirement in ID order, then collects every undone figure. An unmet requirement
// stops the run before figures are collected, with ErrIncomplete; fix the environment and run again.
func (b *Bench) Run(ctx context.Context, t target.Target, opts RunOptions) (*Summary, error) {
	sum := &Summary{}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(b.undone(),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("Running benchmarks:"),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	initiallyDone := len(b.Benchmarks()) - b.undone()
	persist := func() error {
		bar.Set(len(b.Benchmarks()) - b.undone() - initiallyDone)
		return b.Dump()
	}

	for _, id := range b.RequirementIDs() {
		r := b.Requirements[id]
		if r.IsDone() {
			continue
		}
		err := ctx.Err()
		if err != nil {
			return sum, err
		}
		log := slog.With(slog.String("requirement", id))

		if opts.SkipUndone {
			log.Info("fast-forwarding requirement")
			err = r.SkipBenchmarks(persist)
			if err != nil {
				return sum, err
			}
			sum.FastForwarded = append(sum.FastForwarded, id)
			continue
		}

		cfg := b.Config.Clone()
		met, err := r.IsMet(ctx, t, cfg)
		if err != nil {
			return sum, fmt.Errorf("checking requirement %s failed: %w", id, err)
		}
		if !met {
			log.Warn("requirement is not met, skipping its benchmarks")
			sum.Unmet = append(sum.Unmet, id)
			continue
		}

		bctx := &benchmark.BenchmarkContext{Target: t, Config: cfg, ResultDir: b.resultDir, Exec: opts.Exec}
		err = r.RunBenchmarks(ctx, bctx, persist)
		if err != nil {
			return sum, fmt.Errorf("requirement %s: %w", id, err)
		}
		sum.Ran = append(sum.Ran, id)
	}

	if len(sum.Unmet) > 0 {
		return sum, fmt.Errorf("%w: %d requirement(s) not met: %v", ErrIncomplete, len(sum.Unmet), sum.Unmet)
	}

	for _, f := range b.Figures {
		if f.Done {
			continue
		}
		err := f.CollectResults(b.resultDir)
		if err != nil {
			return sum, fmt.Errorf("collecting figure %s failed: %w", f, err)
		}
		err = b.Dump()
		if err != nil {
			return sum, err
		}
		sum.FiguresDone++
	}
	slog.Info("bench finished", slog.Int("ran", len(sum.Ran)), slog.Int("fastForwarded", len(sum.FastForwarded)), slog.Int("figures", sum.FiguresDone))
	return sum, nil
}
