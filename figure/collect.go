package figure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/util"
)

// Bucket is what a figure stores under its key in its figure file.
type Bucket struct {
	Title        string         `json:"title"`
	X            string         `json:"x"`
	Y            string         `json:"y"`
	Series       []SeriesResult `json:"series"`
	CommonParams map[string]any `json:"common_params"`
}

// Path is the figure file the figure's bucket lives in.
func (f *Figure) Path(resultDir string) string {
	return filepath.Join(resultDir, f.File+".json")
}

// CollectResults reads the rows of every series, merges their points by label, computes the parameters common to
// every row and stores the result under the figure's key in its figure file. Series whose result is missing, empty
// or lacks the axes are skipped with a warning.
func (f *Figure) CollectResults(resultDir string) error {
	results := []SeriesResult{}
	byLabel := map[string]int{}
	allRows := []benchmark.Row{}

	for _, ref := range f.Series {
		rows, points, ok, err := f.seriesPoints(resultDir, ref)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		i, seen := byLabel[ref.Label]
		if !seen {
			i = len(results)
			byLabel[ref.Label] = i
			results = append(results, SeriesResult{Label: ref.Label, Points: [][2]float64{}})
		}
		results[i].Points = append(results[i].Points, points...)
		allRows = append(allRows, rows...)
	}

	f.Results = results
	f.CommonParams = CommonParams(allRows, f.Defaults, f.X, f.Y)

	err := f.store(resultDir)
	if err != nil {
		return err
	}
	f.Done = true
	slog.Info("collected figure results", slog.String("figure", f.String()), slog.Int("series", len(results)))
	return nil
}

func (f *Figure) seriesPoints(resultDir string, ref *SeriesRef) ([]benchmark.Row, [][2]float64, bool, error) {
	log := slog.With(slog.String("figure", f.String()), slog.String("label", ref.Label), slog.Int("id", ref.ID))
	if ref.ID == 0 {
		log.Warn("series has no benchmark, skipping it")
		return nil, nil, false, nil
	}
	path := filepath.Join(resultDir, fmt.Sprintf("benchmark_%d.json", ref.ID))
	r, err := benchmark.LoadResult(path)
	if err != nil {
		return nil, nil, false, err
	}
	if r.Empty() {
		log.Warn("series result is missing or empty, skipping it", slog.String("path", path))
		return nil, nil, false, nil
	}
	rows, err := r.Half(ref.RWDir)
	if err != nil {
		log.Warn("can't select the series' half of the result, skipping it", slog.String("error", err.Error()))
		return nil, nil, false, nil
	}
	if len(rows) == 0 {
		log.Warn("series result has no rows for its direction, skipping it", slog.String("rw_dir", ref.RWDir))
		return nil, nil, false, nil
	}

	points := make([][2]float64, 0, len(rows))
	for _, row := range rows {
		x, xok := row[f.X]
		y, yok := row[f.Y]
		if !xok || !yok {
			log.Warn("series rows lack the figure's axes, skipping it", slog.String("x", f.X), slog.String("y", f.Y))
			return nil, nil, false, nil
		}
		xf, xok := series.Float(x)
		yf, yok := series.Float(y)
		if !xok || !yok {
			log.Warn("series axis values are not numeric, skipping it", slog.String("x", series.Format(x)), slog.String("y", series.Format(y)))
			return nil, nil, false, nil
		}
		points = append(points, [2]float64{xf, yf})
	}
	return rows, points, true, nil
}

// CommonParams returns the parameters holding the same value in every row, excluding the given fields. The first
// row seeds the set, with defaults filling keys it lacks; a later row lacking a key is compared through its default
// too.
func CommonParams(rows []benchmark.Row, defaults map[string]any, exclude ...string) map[string]any {
	common := map[string]any{}
	if len(rows) == 0 {
		return common
	}
	value := func(row benchmark.Row, k string) (any, bool) {
		v, ok := row[k]
		if !ok {
			v, ok = defaults[k]
		}
		return v, ok
	}

	keys := map[string]bool{}
	for k := range rows[0] {
		keys[k] = true
	}
	for k := range defaults {
		keys[k] = true
	}
	for k := range keys {
		if v, ok := value(rows[0], k); ok && !slices.Contains(exclude, k) {
			common[k] = v
		}
	}

	for _, row := range rows[1:] {
		for _, k := range slices.Collect(maps.Keys(common)) {
			v, ok := value(row, k)
			if !ok || !series.Equal(v, common[k]) {
				delete(common, k)
			}
		}
	}
	return common
}

// store writes the figure's bucket into its figure file, keeping the other keys of that file.
func (f *Figure) store(resultDir string) error {
	path := f.Path(resultDir)
	buckets := map[string]json.RawMessage{}
	buf, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		err = json.Unmarshal(buf, &buckets)
		if err != nil {
			return fmt.Errorf("parsing %s failed: %w", path, err)
		}
	}

	bucket, err := json.Marshal(Bucket{Title: f.Title, X: f.X, Y: f.Y, Series: f.Results, CommonParams: f.CommonParams})
	if err != nil {
		return err
	}
	buckets[f.Key] = bucket

	buf, err = json.MarshalIndent(buckets, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, buf)
}

// LoadBucket reads the bucket stored under key in a figure file.
func LoadBucket(path string, key string) (*Bucket, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	buckets := map[string]*Bucket{}
	err = json.Unmarshal(buf, &buckets)
	if err != nil {
		return nil, err
	}
	b, ok := buckets[key]
	if !ok {
		return nil, fmt.Errorf("%s has no figure %q", path, key)
	}
	return b, nil
}
