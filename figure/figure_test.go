package figure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSpec(t *testing.T, s string) map[string]any {
	m := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestFlatten(t *testing.T) {
	spec := parseSpec(t, `{
		"output": {"title": "{tool} latency, {threads} threads", "x": "bs", "y": "lat_avg", "xscale": "log", "key": "lat_{threads}"},
		"tool": "ib_read",
		"threads": [1, 2],
		"series": [
			{"mode": "lat", "bs": [256, 512], "label": "{tool}"},
			{"mode": "lat", "tool": "fio", "label": "fio", "threads": 4}
		]
	}`)

	figures, err := Flatten([]map[string]any{spec})
	require.NoError(t, err)
	require.Len(t, figures, 2)

	f := figures[0]
	assert.Equal(t, "figures", f.File)
	assert.Equal(t, "lat_1", f.Key)
	assert.Equal(t, "ib_read latency, 1 threads", f.Title)
	assert.Equal(t, "log", f.XScale)
	require.Len(t, f.Series, 3)
	assert.Equal(t, "ib_read", f.Series[0].Label)
	assert.Equal(t, 256.0, f.Series[0].Spec["bs"])
	assert.Equal(t, 512.0, f.Series[1].Spec["bs"])
	assert.Equal(t, 1.0, f.Series[0].Spec["threads"])
	assert.Equal(t, []string{"ib_read", "fio"}, f.Labels())

	// series fields win over figure parameters
	assert.Equal(t, "fio", f.Series[2].Spec["tool"])
	assert.Equal(t, 4.0, f.Series[2].Spec["threads"])

	assert.Equal(t, "lat_2", figures[1].Key)
	assert.Equal(t, 2.0, figures[1].Series[0].Spec["threads"])
}

func TestFlattenErrors(t *testing.T) {
	tests := map[string]string{
		"missing output":     `{"series": [{"tool": "t"}]}`,
		"missing series":     `{"output": {"x": "bs", "y": "lat_avg"}}`,
		"missing axis":       `{"output": {"x": "bs"}, "series": [{"tool": "t"}]}`,
		"bad xscale":         `{"output": {"x": "bs", "y": "lat_avg", "xscale": "sqrt"}, "series": [{"tool": "t"}]}`,
		"mixed without dir":  `{"output": {"x": "bs", "y": "bw_avg"}, "series": [{"tool": "t", "rw": "randrw"}]}`,
		"duplicate figure":   `{"output": {"x": "bs", "y": "bw_avg", "key": "same"}, "threads": [1, 2], "series": [{"tool": "t"}]}`,
		"unknown label name": `{"output": {"x": "bs", "y": "bw_avg"}, "series": [{"tool": "t", "label": "{nope}"}]}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Flatten([]map[string]any{parseSpec(t, raw)})
			assert.ErrorIs(t, err, series.ErrSpecification)
		})
	}
}

func TestSetSpansSeveralSources(t *testing.T) {
	set := NewSet()
	a, err := set.Flatten([]map[string]any{parseSpec(t, `{"output": {"x": "bs", "y": "lat_avg"}, "series": [{"tool": "t"}]}`)})
	require.NoError(t, err)
	b, err := set.Flatten([]map[string]any{parseSpec(t, `{"output": {"x": "bs", "y": "lat_avg"}, "series": [{"tool": "t"}]}`)})
	require.NoError(t, err)
	assert.Equal(t, "figure_0", a[0].Key)
	assert.Equal(t, "figure_1", b[0].Key)

	_, err = set.Flatten([]map[string]any{parseSpec(t, `{"output": {"x": "bs", "y": "lat_avg", "key": "figure_1"}, "series": [{"tool": "t"}]}`)})
	assert.ErrorIs(t, err, series.ErrSpecification)
}

func TestCommonParams(t *testing.T) {
	rows := []benchmark.Row{
		{"bs": 4096.0, "threads": 1.0},
		{"bs": 8192.0, "threads": 1.0},
	}
	assert.Equal(t, map[string]any{"threads": 1.0}, CommonParams(rows, nil))

	rows = []benchmark.Row{
		{"bs": 4096.0, "threads": 1.0, "lat_avg": 2.0},
		{"bs": 8192.0, "lat_avg": 2.0, "iodepth": 2.0},
	}
	got := CommonParams(rows, map[string]any{"threads": 1.0, "iodepth": 2.0}, "bs", "lat_avg")
	assert.Equal(t, map[string]any{"threads": 1.0, "iodepth": 2.0}, got)

	assert.Empty(t, CommonParams(nil, map[string]any{"threads": 1.0}))
}

func writeResult(t *testing.T, dir string, id int, content string) {
	path := filepath.Join(dir, fmt.Sprintf("benchmark_%d.json", id))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectResults(t *testing.T) {
	dir := t.TempDir()
	writeResult(t, dir, 1, `[{"bs": 256, "lat_avg": 2.5, "threads": 1}]`)
	writeResult(t, dir, 2, `[{"bs": 512, "lat_avg": 3.5, "threads": 1}]`)
	writeResult(t, dir, 3, `{"read": [{"bs": 256, "lat_avg": 7, "threads": 1}], "write": [{"bs": 256, "lat_avg": 9, "threads": 1}]}`)
	writeResult(t, dir, 4, `[{"bs": 256, "threads": 1}]`)

	// another figure already lives in the file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "figures.json"), []byte(`{"other": {"title": "keep me"}}`), 0o644))

	f := &Figure{
		File: "figures", Key: "lat", Title: "Latency", X: "bs", Y: "lat_avg", XScale: "log",
		Series: []*SeriesRef{
			{Label: "a", ID: 1},
			{Label: "a", ID: 2},
			{Label: "rw", ID: 3, RWDir: "write"},
			{Label: "no y", ID: 4},
			{Label: "missing", ID: 9},
			{Label: "unassigned"},
		},
	}
	require.NoError(t, f.CollectResults(dir))
	assert.True(t, f.Done)

	want := []SeriesResult{
		{Label: "a", Points: [][2]float64{{256, 2.5}, {512, 3.5}}},
		{Label: "rw", Points: [][2]float64{{256, 9}}},
	}
	if diff := cmp.Diff(want, f.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]any{"threads": 1.0}, f.CommonParams)

	b, err := LoadBucket(f.Path(dir), "lat")
	require.NoError(t, err)
	assert.Equal(t, "Latency", b.Title)
	assert.Equal(t, want, b.Series)

	other, err := LoadBucket(f.Path(dir), "other")
	require.NoError(t, err)
	assert.Equal(t, "keep me", other.Title)
}
