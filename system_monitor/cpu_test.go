package systemmonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUTimeStat(t *testing.T) {
	buf := []byte("cpu  100 0 50 800 10 5 5 0 0 0\ncpu0 50 0 25 400 5 2 3 0 0 0\nintr 12345\n")
	st := parseCPUTimeStat(buf)
	require.NotNil(t, st)
	assert.Equal(t, 100, st.user)
	assert.Equal(t, 800, st.idle)
	assert.Equal(t, 970, st.totalCPUTime())

	assert.Nil(t, parseCPUTimeStat([]byte("intr 1\n")))
}

func TestAverageBusy(t *testing.T) {
	sm := &SystemMeasurements{}
	_, ok := sm.AverageBusy()
	assert.False(t, ok)

	prev := &cpuTimeStat{user: 0, idle: 0}
	sm.appendCPUMetrics(time.Now(), &cpuTimeStat{user: 25, idle: 75}, prev)
	sm.appendCPUMetrics(time.Now(), &cpuTimeStat{user: 75, idle: 25}, prev)

	busy, ok := sm.AverageBusy()
	require.True(t, ok)
	assert.InDelta(t, 50.0, busy, 1e-9)
	assert.InDelta(t, 25.0, sm.CpuUsageUser[0].Value, 1e-9)
}
