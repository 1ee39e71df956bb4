package series

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandIsCartesian(t *testing.T) {
	raw := []Series{New(map[string]any{
		"tool":    "ib_read",
		"mode":    "lat",
		"bs":      []any{256, 512, 1024},
		"threads": []any{1, 2},
		"rw":      []any{"read", "randread"},
		"label":   "fixed",
	})}

	flat, err := Expand(raw)
	require.NoError(t, err)
	require.Len(t, flat, 3*2*2)

	seen := map[string]bool{}
	for _, s := range flat {
		assert.True(t, s.IsFlat())
		assert.Equal(t, "ib_read", s["tool"])
		assert.Equal(t, "lat", s["mode"])
		assert.Equal(t, "fixed", s["label"])
		assert.Contains(t, []any{256.0, 512.0, 1024.0}, s["bs"])
		assert.Contains(t, []any{1.0, 2.0}, s["threads"])
		assert.Contains(t, []any{"read", "randread"}, s["rw"])
		seen[s.Key()] = true
	}
	assert.Len(t, seen, 12, "every combination appears exactly once")
}

func TestExpandOrderFollowsExpansion(t *testing.T) {
	flat, err := Expand([]Series{
		New(map[string]any{"a": []any{1, 2}, "b": []any{"x", "y"}}),
		New(map[string]any{"a": 3}),
	})
	require.NoError(t, err)

	got := [][2]any{}
	for _, s := range flat {
		got = append(got, [2]any{s["a"], s["b"]})
	}
	want := [][2]any{{1.0, "x"}, {1.0, "y"}, {2.0, "x"}, {2.0, "y"}, {3.0, nil}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestExpandFlatElementUnchanged(t *testing.T) {
	in := New(map[string]any{"tool": "t", "mode": "lat", "requirements": map[string]any{"direct_write_to_pmem": true}})
	flat, err := Expand([]Series{in})
	require.NoError(t, err)
	require.Len(t, flat, 1)
	assert.Equal(t, in.Key(), flat[0].Key())
}

func TestExpandEmptyList(t *testing.T) {
	_, err := Expand([]Series{New(map[string]any{"bs": []any{}})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpecification))
}

func TestResolveTemplates(t *testing.T) {
	flat, err := Flatten([]Series{New(map[string]any{
		"tool":     "fio",
		"mode":     "bw-bs",
		"rw":       []any{"read", "randread"},
		"filetype": "pmem",
		"label":    "{rw_order} {filetype} {{raw}}",
		"id_hint":  "{label}/{mode}",
	})})
	require.NoError(t, err)
	require.Len(t, flat, 2)

	assert.Equal(t, "seq", flat[0][FieldRWOrder])
	assert.Equal(t, "seq pmem {raw}", flat[0]["label"])
	assert.Equal(t, "seq pmem {raw}/bw-bs", flat[0]["id_hint"])
	assert.Equal(t, "rand", flat[1][FieldRWOrder])
	assert.Equal(t, "rand pmem {raw}", flat[1]["label"])
}

func TestResolveErrors(t *testing.T) {
	cases := map[string]Series{
		"unknown field":     New(map[string]any{"label": "{nope}"}),
		"self reference":    New(map[string]any{"label": "{label}"}),
		"mixed without dir": New(map[string]any{"rw": "randrw"}),
		"mixed bad dir":     New(map[string]any{"rw": "rw", "rw_dir": "both"}),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Flatten([]Series{s})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSpecification))
		})
	}

	_, err := Flatten([]Series{New(map[string]any{"rw": "rw", "rw_dir": "write"})})
	assert.NoError(t, err)
}

func TestKeyIsCanonical(t *testing.T) {
	a := New(map[string]any{"bs": 4096, "tool": "t", "requirements": map[string]any{"x": true}})
	b := New(map[string]any{"requirements": map[string]any{"x": true}, "tool": "t", "bs": 4096.0})
	assert.Equal(t, a.Key(), b.Key())

	c := b.With("bs", 8192)
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, 4096.0, b["bs"], "With does not mutate the receiver")
}

func TestTemplateAndFormat(t *testing.T) {
	fields := map[string]any{"bs": 4096.0, "th": 1.5, "on": true}
	assert.Equal(t, "4096-1.5-true-{missing}", Template("{bs}-{th}-{on}-{missing}", fields))
	assert.Equal(t, "4096", Format(4096))
}
