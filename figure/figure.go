// Package figure describes the charts a bench produces and collects their points from the per-benchmark result
// files once every contributing benchmark is done.
package figure

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Octogonapus/RPMABench/series"
)

const (
	DefaultFile   = "figures"
	DefaultXScale = "linear"
)

// SeriesRef is one line of a figure. ID is 0 until the orchestrator has matched Spec to a benchmark.
type SeriesRef struct {
	Label string        `json:"label"`
	ID    int           `json:"id"`
	RWDir string        `json:"rw_dir,omitempty"`
	Spec  series.Series `json:"-"`
}

// SeriesResult holds the collected [x, y] points of one label.
type SeriesResult struct {
	Label  string       `json:"label"`
	Points [][2]float64 `json:"points"`
}

type Figure struct {
	File         string         `json:"file"`
	Key          string         `json:"key"`
	Title        string         `json:"title"`
	X            string         `json:"x"`
	Y            string         `json:"y"`
	XScale       string         `json:"xscale"`
	Defaults     map[string]any `json:"defaults,omitempty"`
	Done         bool           `json:"done"`
	Series       []*SeriesRef   `json:"series"`
	Results      []SeriesResult `json:"results,omitempty"`
	CommonParams map[string]any `json:"common_params,omitempty"`
}

func (f *Figure) String() string {
	return f.File + "/" + f.Key
}

// A Set flattens figure specs from several sources into one namespace: default keys are numbered across every
// call and a file/key pair may only be used once.
type Set struct {
	n    int
	seen map[string]bool
}

func NewSet() *Set {
	return &Set{seen: map[string]bool{}}
}

// Flatten turns figure specs into figures. A spec is a mapping with an "output" mapping (title, x, y, xscale, file,
// key, defaults), a "series" list and any other field as a figure parameter. List-valued figure parameters and output
// fields produce one figure per combination; every series inherits the figure parameters, its own fields winning,
// and is flattened in turn.
func Flatten(specs []map[string]any) ([]*Figure, error) {
	return NewSet().Flatten(specs)
}

// Flatten flattens specs, continuing the default key numbering of earlier calls.
func (set *Set) Flatten(specs []map[string]any) ([]*Figure, error) {
	out := []*Figure{}
	for i, spec := range specs {
		figures, err := flattenOne(spec)
		if err != nil {
			return nil, fmt.Errorf("figure spec %d: %w", i, err)
		}
		for _, f := range figures {
			if f.Key == "" {
				f.Key = fmt.Sprintf("figure_%d", set.n)
			}
			if set.seen[f.String()] {
				return nil, fmt.Errorf("%w: duplicate figure %s", series.ErrSpecification, f)
			}
			set.seen[f.String()] = true
			set.n++
			out = append(out, f)
		}
	}
	return out, nil
}

func flattenOne(spec map[string]any) ([]*Figure, error) {
	rawOutput, ok := spec["output"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing output mapping", series.ErrSpecification)
	}
	rawSeries, ok := spec["series"].([]any)
	if !ok || len(rawSeries) == 0 {
		return nil, fmt.Errorf("%w: missing series list", series.ErrSpecification)
	}
	params := series.New(spec).Without("output", "series")

	paramSets, err := series.Expand([]series.Series{params})
	if err != nil {
		return nil, err
	}

	figures := []*Figure{}
	for _, p := range paramSets {
		outputs, err := series.Expand([]series.Series{series.New(rawOutput)})
		if err != nil {
			return nil, err
		}
		for _, o := range outputs {
			f, err := newFigure(p, o)
			if err != nil {
				return nil, err
			}
			for j, raw := range rawSeries {
				m, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: series %d is not a mapping", series.ErrSpecification, j)
				}
				merged := p.Clone()
				maps.Copy(merged, series.New(m))
				flat, err := series.Flatten([]series.Series{merged})
				if err != nil {
					return nil, fmt.Errorf("series %d: %w", j, err)
				}
				for _, s := range flat {
					label, _ := s.String(series.FieldLabel)
					dir, _ := s.String(series.FieldRWDir)
					f.Series = append(f.Series, &SeriesRef{Label: label, RWDir: dir, Spec: s})
				}
			}
			figures = append(figures, f)
		}
	}
	return figures, nil
}

func newFigure(params series.Series, output series.Series) (*Figure, error) {
	fields := params.Clone()
	maps.Copy(fields, output)
	str := func(name string) string {
		s, _ := output.String(name)
		return series.Template(s, fields)
	}

	f := &Figure{
		File:   str("file"),
		Key:    str("key"),
		Title:  str("title"),
		X:      str("x"),
		Y:      str("y"),
		XScale: str("xscale"),
	}
	if f.X == "" || f.Y == "" {
		return nil, fmt.Errorf("%w: output needs both x and y", series.ErrSpecification)
	}
	if f.File == "" {
		f.File = DefaultFile
	}
	if strings.ContainsAny(f.File, `/\`) {
		return nil, fmt.Errorf("%w: figure file %q must be a plain name", series.ErrSpecification, f.File)
	}
	switch f.XScale {
	case "":
		f.XScale = DefaultXScale
	case "linear", "log":
	default:
		return nil, fmt.Errorf("%w: xscale must be linear or log, got %q", series.ErrSpecification, f.XScale)
	}
	if d, ok := output["defaults"].(map[string]any); ok {
		f.Defaults = d
	}
	return f, nil
}

// Labels returns the distinct series labels in encounter order.
func (f *Figure) Labels() []string {
	out := []string{}
	for _, ref := range f.Series {
		if !slices.Contains(out, ref.Label) {
			out = append(out, ref.Label)
		}
	}
	return out
}
