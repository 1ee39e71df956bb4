package benchmark

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/Octogonapus/RPMABench/target/targettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithServer(t *testing.T) {
	bctx := newTestContext(t)
	fake := bctx.Target.(*targettest.Fake)

	clientRan := false
	st, err := WithServer(context.Background(), bctx, "srv", "srv --port 1", map[string]string{"A": "1"}, func() error {
		clientRan = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, clientRan)
	assert.False(t, st.HasCPU)
	assert.Equal(t, []string{"A=1 srv --port 1"}, fake.Commands())
}

func TestWithServerKillsServerWhenClientFails(t *testing.T) {
	bctx := newTestContext(t)
	fake := bctx.Target.(*targettest.Fake)

	boom := errors.New("boom")
	_, err := WithServer(context.Background(), bctx, "srv", "srv", nil, func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"pkill -x srv"}, fake.CommandsContaining("pkill"))
}

func TestWithServerReportsServerFailure(t *testing.T) {
	bctx := newTestContext(t)
	fake := bctx.Target.(*targettest.Fake)
	fake.Respond = func(cmd string) targettest.Reply {
		return targettest.Reply{Stderr: "no device", Status: 1}
	}

	_, err := WithServer(context.Background(), bctx, "srv", "srv", nil, func() error { return nil })
	assert.ErrorContains(t, err, "no device")
}

func TestWithServerProfiles(t *testing.T) {
	bctx := newTestContext(t)
	bctx.Config.RemoteProfiler = "perf"
	bctx.Config.ProfileDir = t.TempDir()
	fake := bctx.Target.(*targettest.Fake)
	fake.Respond = func(cmd string) targettest.Reply {
		if strings.HasPrefix(cmd, "perf record") {
			out := strings.Fields(cmd)[4]
			fake.Files[out] = []byte("profile data")
		}
		return targettest.Reply{}
	}

	st, err := WithServer(context.Background(), bctx, "srv", "srv", nil, func() error { return nil })
	require.NoError(t, err)
	require.NotEmpty(t, st.ProfilePath)
	buf, err := os.ReadFile(st.ProfilePath)
	require.NoError(t, err)
	assert.Equal(t, "profile data", string(buf))

	row := Row{}
	st.Annotate(row)
	assert.Equal(t, st.ProfilePath, row["profile"])
}
