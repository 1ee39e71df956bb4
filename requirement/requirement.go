// Package requirement groups benchmarks by the environment they need and checks, or establishes, that environment
// before running them.
package requirement

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/target"
)

// A Requirement is a set of environment properties shared by the benchmarks it owns.
type Requirement struct {
	Props      map[string]any
	Done       bool
	Benchmarks map[int]*benchmark.Benchmark
}

func New(props map[string]any) *Requirement {
	if props == nil {
		props = map[string]any{}
	}
	return &Requirement{Props: series.New(props), Benchmarks: map[int]*benchmark.Benchmark{}}
}

// ID is stable across runs since it only depends on the properties.
func (r *Requirement) ID() string {
	return series.Key(r.Props)[:12]
}

func (r *Requirement) Equal(other *Requirement) bool {
	return series.Key(r.Props) == series.Key(other.Props)
}

// Uniq groups benchmarks by requirement. Benchmarks must already have their IDs. The requirements are returned in
// the order their first benchmark appears.
func Uniq(benchmarks []*benchmark.Benchmark) []*Requirement {
	byKey := map[string]*Requirement{}
	out := []*Requirement{}
	for _, b := range benchmarks {
		props := b.Requirements()
		key := series.Key(props)
		r, ok := byKey[key]
		if !ok {
			r = New(props)
			byKey[key] = r
			out = append(out, r)
		}
		r.Benchmarks[b.ID] = b
	}
	return out
}

// IsDone reports whether every owned benchmark is done. Once true it stays true.
func (r *Requirement) IsDone() bool {
	if r.Done {
		return true
	}
	for _, b := range r.Benchmarks {
		if !b.Done {
			return false
		}
	}
	r.Done = true
	return true
}

// BenchmarkIDs returns the owned benchmark IDs in execution order.
func (r *Requirement) BenchmarkIDs() []int {
	return slices.Sorted(maps.Keys(r.Benchmarks))
}

// IsMet evaluates the properties against the platform described by cfg. Rules may reconfigure the remote when the
// config allows it, and record derived values in cfg, which must therefore be a private copy.
func (r *Requirement) IsMet(ctx context.Context, t target.Target, cfg *config.Config) (bool, error) {
	if len(r.Props) == 0 {
		return true, nil
	}
	rules, err := rulesFor(cfg.PlatformGeneration)
	if err != nil {
		return false, err
	}

	met := true
	for _, name := range slices.Sorted(maps.Keys(r.Props)) {
		rule, err := rules.lookup(name)
		if err != nil {
			return false, err
		}
		ok, err := rule(ctx, t, cfg, r.Props[name])
		if err != nil {
			return false, err
		}
		if !ok {
			slog.Warn("requirement is not met", slog.String("requirement", r.ID()), slog.String("property", name), slog.String("value", series.Format(r.Props[name])))
			met = false
		}
	}
	return met, nil
}

// RunBenchmarks runs the undone benchmarks one at a time in ID order, calling persist after each one and once more
// after marking the requirement done. The first failure stops the run.
func (r *Requirement) RunBenchmarks(ctx context.Context, bctx *benchmark.BenchmarkContext, persist func() error) error {
	for _, id := range r.BenchmarkIDs() {
		b := r.Benchmarks[id]
		if b.Done {
			continue
		}
		err := ctx.Err()
		if err != nil {
			return err
		}
		err = b.Run(ctx, bctx)
		if err != nil {
			return err
		}
		err = persist()
		if err != nil {
			return err
		}
	}
	r.Done = true
	return persist()
}

// SkipBenchmarks marks every owned benchmark and the requirement done without running anything.
func (r *Requirement) SkipBenchmarks(persist func() error) error {
	for _, id := range r.BenchmarkIDs() {
		r.Benchmarks[id].Skip()
	}
	r.Done = true
	return persist()
}

type cache struct {
	Props      map[string]any               `json:"req"`
	Done       bool                         `json:"done"`
	Benchmarks map[int]*benchmark.Benchmark `json:"benchmarks"`
}

func (r *Requirement) MarshalJSON() ([]byte, error) {
	return json.Marshal(cache{Props: r.Props, Done: r.Done, Benchmarks: r.Benchmarks})
}

func (r *Requirement) UnmarshalJSON(buf []byte) error {
	c := cache{}
	err := json.Unmarshal(buf, &c)
	if err != nil {
		return err
	}
	*r = *New(c.Props)
	r.Done = c.Done
	if c.Benchmarks != nil {
		r.Benchmarks = c.Benchmarks
	}
	return nil
}
