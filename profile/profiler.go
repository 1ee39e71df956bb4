package profile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Octogonapus/RPMABench/target"
)

// A Profiler records the remote server side of a benchmark.
type Profiler interface {
	SetUp() error

	// Returns cmd wrapped so that it runs under the profiler, and the remote path the profile will be written to.
	WrapCommand(cmd string) (string, string)
}

type ProfilerKind string

const (
	None ProfilerKind = "none"
	Perf ProfilerKind = "perf"
)

type ProfilerFactory func(target.Target) Profiler

var allProfilers map[ProfilerKind]ProfilerFactory

func RegisterProfiler(kind ProfilerKind, factory ProfilerFactory) {
	if allProfilers == nil {
		allProfilers = map[ProfilerKind]ProfilerFactory{
			None: func(t target.Target) Profiler { panic("Profiler kind none is reserved and can't be created") },
		}
	}
	allProfilers[kind] = factory
}

func NewProfiler(kind ProfilerKind, target target.Target) (Profiler, error) {
	if kind == None || kind == "" {
		return nil, fmt.Errorf("Profiler kind none is reserved and can't be created")
	}

	factory, ok := allProfilers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown profiler kind: %s (must be one of: %s)", kind, ExplainProfilers())
	}
	return factory(target), nil
}

func ExplainProfilers() string {
	kinds := []string{}
	for kind := range allProfilers {
		kinds = append(kinds, "\""+string(kind)+"\"")
	}
	slices.Sort(kinds)
	return strings.Join(kinds, ", ")
}
