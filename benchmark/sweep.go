package benchmark

import (
	"fmt"

	"github.com/Octogonapus/RPMABench/series"
)

// A Sweep is the list of x-axis values a runner executes for one benchmark.
type Sweep struct {
	Axis   string
	Values []any
}

var modeAxis = map[string]string{
	"lat":   "bs",
	"bw-bs": "bs",
	"bw-th": "threads",
	"bw-dp": "iodepth",
}

var defaultValues = map[string][]any{
	"bs":      {256.0, 1024.0, 4096.0, 8192.0, 16384.0, 65536.0},
	"threads": {1.0, 2.0, 4.0, 8.0, 12.0, 16.0},
	"iodepth": {1.0, 2.0, 4.0, 8.0, 16.0, 32.0},
}

// Parameters fixed while another axis is swept.
var defaultFixed = map[string]map[string]any{
	"lat":   {"threads": 1.0, "iodepth": 1.0},
	"bw-bs": {"threads": 1.0, "iodepth": 2.0},
	"bw-th": {"bs": 65536.0, "iodepth": 2.0},
	"bw-dp": {"bs": 65536.0, "threads": 1.0},
}

// ResolveSweep picks the axis from the mode and the values from the series when it fixes the axis, or the defaults
// otherwise.
func ResolveSweep(s series.Series) (Sweep, error) {
	mode, _ := s.String(series.FieldMode)
	axis, ok := modeAxis[mode]
	if !ok {
		axis = "bs"
	}
	if v, ok := s[axis]; ok {
		if _, isList := v.([]any); isList {
			return Sweep{}, fmt.Errorf("%w: %s must be flattened before running", ErrValidation, axis)
		}
		return Sweep{Axis: axis, Values: []any{v}}, nil
	}
	return Sweep{Axis: axis, Values: defaultValues[axis]}, nil
}

// BaseRow starts a result row: the benchmark's parameters, the fixed parameters of its mode and the sweep value.
func BaseRow(b *Benchmark, axis string, value any) Row {
	row := Row{}
	for k, v := range defaultFixed[b.Mode()] {
		row[k] = v
	}
	for k, v := range b.Series.Without(series.FieldRequirements) {
		row[k] = v
	}
	row[axis] = value
	return row
}

// Param returns row[name] as a number, 0 when it is missing or not numeric.
func Param(row Row, name string) float64 {
	f, _ := series.Float(row[name])
	return f
}
