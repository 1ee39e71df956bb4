package systemmonitor

import (
	"strconv"
	"strings"
	"time"
)

type cpuTimeStat struct {
	user      int
	system    int
	idle      int
	nice      int
	iowait    int
	irq       int
	softIrq   int
	steal     int
	guest     int
	guestNice int
}

func (ts *cpuTimeStat) totalCPUTime() int {
	return ts.user + ts.system + ts.nice + ts.iowait + ts.irq + ts.softIrq + ts.steal + ts.idle
}

// parseCPUTimeStat reads the aggregate "cpu " line of /proc/stat.
func parseCPUTimeStat(buf []byte) *cpuTimeStat {
	for _, line := range strings.Split(string(buf), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 11 {
			return nil
		}
		values := make([]int, 10)
		for i := range values {
			values[i], _ = strconv.Atoi(parts[i+1])
		}
		return &cpuTimeStat{
			user:      values[0],
			nice:      values[1],
			system:    values[2],
			idle:      values[3],
			iowait:    values[4],
			irq:       values[5],
			softIrq:   values[6],
			steal:     values[7],
			guest:     values[8],
			guestNice: values[9],
		}
	}
	return nil
}

func pct(curr, prev int, delta float64) float64 {
	return float64(100*(curr-prev)) / delta
}

func (sm *SystemMeasurements) appendCPUMetrics(now time.Time, curr *cpuTimeStat, prev *cpuTimeStat) {
	delta := float64(curr.totalCPUTime() - prev.totalCPUTime())
	if delta <= 0 {
		return
	}
	t := now.Unix()
	sm.CpuUsageUser = append(sm.CpuUsageUser, Measurement[float64]{Time: t, Value: pct(curr.user-curr.guest, prev.user-prev.guest, delta)})
	sm.CpuUsageSystem = append(sm.CpuUsageSystem, Measurement[float64]{Time: t, Value: pct(curr.system, prev.system, delta)})
	sm.CpuUsageIdle = append(sm.CpuUsageIdle, Measurement[float64]{Time: t, Value: pct(curr.idle, prev.idle, delta)})
	sm.CpuUsageIowait = append(sm.CpuUsageIowait, Measurement[float64]{Time: t, Value: pct(curr.iowait, prev.iowait, delta)})
	sm.CpuUsageIrq = append(sm.CpuUsageIrq, Measurement[float64]{Time: t, Value: pct(curr.irq, prev.irq, delta)})
	sm.CpuUsageSoftIrq = append(sm.CpuUsageSoftIrq, Measurement[float64]{Time: t, Value: pct(curr.softIrq, prev.softIrq, delta)})
}
