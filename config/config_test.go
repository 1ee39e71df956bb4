package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDefaults(t *testing.T) {
	cfg, err := Decode(map[string]any{"SERVER_IP": "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", cfg.ServerIP)
	assert.Equal(t, "root", cfg.SSHUser)
	assert.Equal(t, 22, cfg.SSHPort)
	assert.Equal(t, 10, cfg.ClientConnectAttempts)
	assert.Equal(t, "none", cfg.RemoteProfiler)
	assert.Nil(t, cfg.RemoteDirectWriteToPMem)
}

func TestDecodeWeaklyTyped(t *testing.T) {
	cfg, err := Decode(map[string]any{
		"SSH_PORT":                    "2222",
		"CLIENT_CONNECT_BACKOFF":      "250ms",
		"REMOTE_DIRECT_WRITE_TO_PMEM": "true",
		"DUMMY_RESULTS":               "1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.SSHPort)
	assert.Equal(t, 250*time.Millisecond, cfg.ClientConnectBackoff)
	require.NotNil(t, cfg.RemoteDirectWriteToPMem)
	assert.True(t, *cfg.RemoteDirectWriteToPMem)
	assert.True(t, cfg.DummyResults)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(map[string]any{"SERVER_IPP": "10.0.0.2"})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestParseMapping(t *testing.T) {
	want := map[string]any{"SERVER_IP": "10.0.0.2", "SSH_PORT": 22}

	m, err := ParseMapping("config.yaml", []byte("SERVER_IP: 10.0.0.2\nSSH_PORT: 22\n"))
	require.NoError(t, err)
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("yaml mismatch (-want +got):\n%s", diff)
	}

	m, err = ParseMapping("config.json", []byte(`{"SERVER_IP": "10.0.0.2", "SSH_PORT": 22}`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", m["SERVER_IP"])
	assert.Equal(t, 22.0, m["SSH_PORT"])

	_, err = ParseMapping("config.json", []byte("SERVER_IP: 10.0.0.2"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	m := map[string]any{"SERVER_IP": "10.0.0.2"}
	ApplyEnv(m, []string{
		"RPMABENCH_SERVER_IP=10.0.0.9",
		"RPMABENCH_SSH_PORT=2200",
		"SERVER_IP=ignored",
		"RPMABENCH_BROKEN",
	})
	assert.Equal(t, map[string]any{"SERVER_IP": "10.0.0.9", "SSH_PORT": "2200"}, m)
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SERVER_IP: 10.0.0.2\nREMOTE_PMEM_PATH: /dev/dax0.0\n"), 0o644))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RPMABENCH_REMOTE_IB_DEVICE=mlx5_0\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("RPMABENCH_REMOTE_IB_DEVICE") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", cfg.ServerIP)
	assert.Equal(t, "/dev/dax0.0", cfg.RemotePMemPath)
	assert.Equal(t, "mlx5_0", cfg.RemoteIBDevice)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := Load(path, "")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCloneIsDeep(t *testing.T) {
	dw := true
	cfg := Default()
	cfg.RemoteDirectWriteToPMem = &dw

	c := cfg.Clone()
	*c.RemoteDirectWriteToPMem = false
	derived := true
	c.DirectWriteToPMem = &derived

	assert.True(t, *cfg.RemoteDirectWriteToPMem)
	assert.Nil(t, cfg.DirectWriteToPMem)
}

func TestEnv(t *testing.T) {
	cfg := Default()
	cfg.ServerIP = "10.0.0.2"
	env := cfg.Env()

	assert.Equal(t, "10.0.0.2", env["SERVER_IP"])
	assert.Equal(t, "22", env["SSH_PORT"])
	assert.Equal(t, "1s", env["CLIENT_CONNECT_BACKOFF"])
	assert.Equal(t, "false", env["DUMMY_RESULTS"])
	assert.NotContains(t, env, "REMOTE_DIRECT_WRITE_TO_PMEM")
	assert.NotContains(t, env, "REMOTE_PMEM_PATH")

	dw := true
	cfg.DirectWriteToPMem = &dw
	assert.Equal(t, "true", cfg.Env()["DIRECT_WRITE_TO_PMEM"])
}
