package systemmonitor

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Octogonapus/RPMABench/target"
	"golang.org/x/crypto/ssh"
)

// Samples the remote CPU usage while a server-side benchmark process runs.
type SystemMonitor interface {
	StartMonitoring() error
	StopMonitoring()
	WaitUntilStopped()
	GetSystemMeasurements() *SystemMeasurements
}

type Measurement[T any] struct {
	Time  int64
	Value T
}

type SystemMeasurements struct {
	CpuUsageUser    []Measurement[float64]
	CpuUsageSystem  []Measurement[float64]
	CpuUsageIdle    []Measurement[float64]
	CpuUsageIowait  []Measurement[float64]
	CpuUsageIrq     []Measurement[float64]
	CpuUsageSoftIrq []Measurement[float64]
}

// AverageBusy is the mean of 100 - idle over all samples.
func (sm *SystemMeasurements) AverageBusy() (float64, bool) {
	if len(sm.CpuUsageIdle) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, m := range sm.CpuUsageIdle {
		sum += 100 - m.Value
	}
	return sum / float64(len(sm.CpuUsageIdle)), true
}

type systemMonitor struct {
	target target.Target
	stop   *atomic.Bool
	wg     *sync.WaitGroup
	mu     sync.Mutex
	sm     *SystemMeasurements
}

func NewSystemMonitor(target target.Target) SystemMonitor {
	return &systemMonitor{
		target: target,
		stop:   &atomic.Bool{},
		wg:     &sync.WaitGroup{},
		sm:     &SystemMeasurements{},
	}
}

func (mon *systemMonitor) StartMonitoring() error {
	client, err := mon.target.Client()
	if err != nil {
		return err
	}

	mon.wg.Add(1)
	go mon.runMonitor(client)
	return nil
}

func (mon *systemMonitor) StopMonitoring() {
	mon.stop.Store(true)
}

func (mon *systemMonitor) WaitUntilStopped() {
	mon.wg.Wait()
}

func (mon *systemMonitor) GetSystemMeasurements() *SystemMeasurements {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.sm
}

var loopTime = 1 * time.Second
var maxJitter = 1 * time.Second

func (mon *systemMonitor) runMonitor(client *ssh.Client) {
	var prevCPU *cpuTimeStat
	defer mon.wg.Done()
	defer client.Close()
	lastWakeTime := time.Now()
	for {
		if mon.stop.Load() {
			break // we deferred wg.Done
		}

		jitterMs := time.Since(lastWakeTime).Milliseconds() - loopTime.Milliseconds()
		if jitterMs > maxJitter.Milliseconds() {
			slog.Warn("SystemMonitor: jitter exceeded maximum", slog.Int64("jitterMs", jitterMs), slog.Int64("maxJitterMs", maxJitter.Milliseconds()))
		}
		lastWakeTime = time.Now()

		buf := mon.runCommand(client, "cat /proc/stat")
		currCPU := parseCPUTimeStat(buf)
		if prevCPU != nil && currCPU != nil {
			mon.mu.Lock()
			mon.sm.appendCPUMetrics(time.Now(), currCPU, prevCPU)
			mon.mu.Unlock()
		}
		prevCPU = currCPU

		time.Sleep(loopTime)
	}
	slog.Debug("SystemMonitor: stopped")
}

func (mon *systemMonitor) runCommand(client *ssh.Client, cmd string) []byte {
	session, err := client.NewSession()
	if err == io.EOF {
		slog.Error("SystemMonitor: client got EOF when creating session, stopping monitor because connection is dead", slog.String("error", err.Error()))
		mon.StopMonitoring()
		return nil
	} else if err != nil {
		slog.Warn("SystemMonitor: failed to create session", slog.String("error", err.Error()))
		return nil
	}
	defer session.Close()
	buf, err := session.CombinedOutput(cmd)
	if err != nil {
		slog.Warn("SystemMonitor: failed to run command", slog.String("command", cmd), slog.String("output", string(buf)))
		return nil
	}
	return buf
}
