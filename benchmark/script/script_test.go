package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Octogonapus/RPMABench/benchmark"
	"github.com/Octogonapus/RPMABench/config"
	"github.com/Octogonapus/RPMABench/series"
	"github.com/Octogonapus/RPMABench/target/targettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T) *benchmark.BenchmarkContext {
	cfg := config.Default()
	cfg.ServerIP = "10.0.0.2"
	return &benchmark.BenchmarkContext{Target: targettest.New(), Config: cfg, ResultDir: t.TempDir()}
}

func writeScript(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "bench.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestRunScript(t *testing.T) {
	bctx := newContext(t)
	path := writeScript(t, `echo "starting against $SERVER_IP"
echo "{\"lat_avg\": $BS, \"server\": \"$SERVER_IP\"}"
`)

	b := benchmark.New(series.New(map[string]any{"tool": path, "mode": "lat", "bs": 512}))
	b.ID = 1
	require.NoError(t, b.Run(context.Background(), bctx))

	r, err := benchmark.LoadResult(b.ResultPath(bctx.ResultDir))
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, 512.0, r.Rows[0]["lat_avg"])
	assert.Equal(t, "10.0.0.2", r.Rows[0]["server"])
	assert.Equal(t, 512.0, r.Rows[0]["bs"])
}

func TestRunScriptMixedWorkload(t *testing.T) {
	bctx := newContext(t)
	path := writeScript(t, `echo '{"read": {"bw_avg": 1}, "write": {"bw_avg": 2}}'`)

	b := benchmark.New(series.New(map[string]any{"tool": path, "mode": "bw-bs", "bs": 4096, "rw": "randrw", "rw_dir": "read"}))
	b.ID = 2
	require.NoError(t, b.Run(context.Background(), bctx))

	r, err := benchmark.LoadResult(b.ResultPath(bctx.ResultDir))
	require.NoError(t, err)
	require.Len(t, r.Write, 1)
	assert.Equal(t, 2.0, r.Write[0]["bw_avg"])
}

func TestRunScriptWithoutJSON(t *testing.T) {
	bctx := newContext(t)
	path := writeScript(t, `echo done`)

	b := benchmark.New(series.New(map[string]any{"tool": path, "mode": "lat", "bs": 512}))
	b.ID = 3
	err := b.Run(context.Background(), bctx)
	assert.ErrorContains(t, err, "JSON row")
	assert.False(t, b.Done)
}
