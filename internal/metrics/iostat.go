// Package metrics holds Prometheus collectors the store server registers
// next to the tally reporter.
package metrics

import (
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	namespace = "kvbulk"
	subsystem = "process"
)

// IOStatsCollector reports the disk traffic of the server process and the
// host iowait share. Bulk loads are write heavy, so these are the first
// numbers to look at when a load stalls.
type IOStatsCollector struct {
	proc *process.Process
	mu   sync.Mutex

	readBytesDesc  *prometheus.Desc
	writeBytesDesc *prometheus.Desc
	cpuIowaitDesc  *prometheus.Desc
}

// NewIOStatsCollector returns a collector for the current process.
func NewIOStatsCollector() (*IOStatsCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &IOStatsCollector{
		proc: proc,
		readBytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "io_read_bytes_total"),
			"Total number of bytes read by the process",
			nil, nil,
		),
		writeBytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "io_write_bytes_total"),
			"Total number of bytes written by the process",
			nil, nil,
		),
		cpuIowaitDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "system", "cpu_iowait_percent"),
			"Percentage of CPU time spent waiting for I/O",
			nil, nil,
		),
	}, nil
}

// Describe implements prometheus.Collector
func (c *IOStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.readBytesDesc
	ch <- c.writeBytesDesc
	ch <- c.cpuIowaitDesc
}

// Collect implements prometheus.Collector. Values the platform cannot
// provide are skipped.
func (c *IOStatsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	io, err := c.proc.IOCounters()
	if err != nil {
		slog.Debug("[kvbulk.metrics] process io counters unavailable", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.readBytesDesc, prometheus.CounterValue, float64(io.ReadBytes))
		ch <- prometheus.MustNewConstMetric(c.writeBytesDesc, prometheus.CounterValue, float64(io.WriteBytes))
	}

	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		slog.Debug("[kvbulk.metrics] cpu times unavailable", "error", err)
		return
	}

	t := times[0]
	total := t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	var iowait float64
	if total > 0 {
		iowait = t.Iowait / total * 100
	}
	ch <- prometheus.MustNewConstMetric(c.cpuIowaitDesc, prometheus.GaugeValue, iowait)
}
