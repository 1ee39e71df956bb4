package benchmark

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/util"
)

// A Row is one measured point, keyed by standardized field names (bs, lat_avg, bw_avg, ...).
type Row map[string]any

// Result is the content of a per-benchmark result file: a plain array of rows, or for mixed read/write workloads a
// {read:[...], write:[...]} object.
type Result struct {
	Rows  []Row
	Read  []Row
	Write []Row
	Split bool
}

type splitResult struct {
	Read  []Row `json:"read"`
	Write []Row `json:"write"`
}

// LoadResult reads a result file. A missing file is an empty result.
func LoadResult(path string) (*Result, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	r := &Result{}
	err = json.Unmarshal(buf, r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s failed: %w", path, err)
	}
	return r, nil
}

func (r *Result) UnmarshalJSON(buf []byte) error {
	var rows []Row
	err := json.Unmarshal(buf, &rows)
	if err == nil {
		*r = Result{Rows: normalizeRows(rows)}
		return nil
	}
	split := splitResult{}
	err = json.Unmarshal(buf, &split)
	if err != nil {
		return err
	}
	*r = Result{Read: normalizeRows(split.Read), Write: normalizeRows(split.Write), Split: true}
	return nil
}

func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Split {
		return json.Marshal(splitResult{Read: nonNil(r.Read), Write: nonNil(r.Write)})
	}
	return json.Marshal(nonNil(r.Rows))
}

func normalizeRows(rows []Row) []Row {
	for i, row := range rows {
		rows[i] = Row(series.New(row))
	}
	return rows
}

func nonNil(rows []Row) []Row {
	if rows == nil {
		return []Row{}
	}
	return rows
}

// Empty reports whether the result holds no rows at all.
func (r *Result) Empty() bool {
	return len(r.Rows) == 0 && len(r.Read) == 0 && len(r.Write) == 0
}

// Half returns the rows for dir: "" for a plain result, "read" or "write" for a split one.
func (r *Result) Half(dir string) ([]Row, error) {
	switch {
	case dir == "" && !r.Split:
		return r.Rows, nil
	case dir == "read" && (r.Split || len(r.Rows) == 0):
		return r.Read, nil
	case dir == "write" && (r.Split || len(r.Rows) == 0):
		return r.Write, nil
	case dir == "":
		return nil, fmt.Errorf("%w: split result requires a read or write direction", ErrValidation)
	default:
		return nil, fmt.Errorf("%w: result is not split, can't select %q", ErrValidation, dir)
	}
}

// Has reports whether a row with axis == value is already recorded in dir.
func (r *Result) Has(dir string, axis string, value any) bool {
	rows, err := r.Half(dir)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(rows, func(row Row) bool {
		v, ok := row[axis]
		return ok && series.Equal(v, value)
	})
}

func (r *Result) add(dir string, row Row) {
	switch dir {
	case "read":
		r.Split = true
		r.Read = append(r.Read, row)
	case "write":
		r.Split = true
		r.Write = append(r.Write, row)
	default:
		r.Rows = append(r.Rows, row)
	}
}

// AppendRow adds row to the dir half of the result file unless a row with the same axis value is already there.
// It returns whether the row was added. The whole file is rewritten atomically.
func AppendRow(path string, dir string, axis string, row Row) (bool, error) {
	r, err := LoadResult(path)
	if err != nil {
		return false, err
	}
	_, err = r.Half(dir)
	if err != nil {
		return false, err
	}
	if r.Has(dir, axis, row[axis]) {
		return false, nil
	}
	r.add(dir, Row(series.New(row)))

	buf, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return false, err
	}
	return true, util.WriteFileAtomic(path, buf)
}

// Missing returns the sweep values not yet recorded in every one of dirs.
func Missing(path string, dirs []string, sweep Sweep) ([]any, error) {
	r, err := LoadResult(path)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for _, v := range sweep.Values {
		for _, dir := range dirs {
			if !r.Has(dir, sweep.Axis, v) {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}
