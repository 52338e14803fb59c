package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SystemMetrics is a process and host snapshot for dashboards.
type SystemMetrics struct {
	CPULoad1    float64 `json:"cpu_load_1"`
	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	MemUsedMB   float64 `json:"mem_used_mb"`
	MemTotalMB  float64 `json:"mem_total_mb"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	Goroutines  int     `json:"goroutines"`
	WSClients   int     `json:"ws_clients"`
	SignalSeq   int64   `json:"signal_seq"`
	PushP50Ms   float64 `json:"push_p50_ms"`
	PushP99Ms   float64 `json:"push_p99_ms"`
	UptimeSec   int64   `json:"uptime_sec"`
	TS          string  `json:"ts"`
}

type cpuSample struct {
	idle  uint64
	total uint64
}

// SystemSampler computes CPU usage as a delta between successive samples.
type SystemSampler struct {
	start time.Time
	proc  string // procfs root, "/proc" outside tests

	mu   sync.Mutex
	prev cpuSample
}

// NewSystemSampler starts the uptime clock now.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{start: time.Now(), proc: "/proc"}
}

// Collect takes a snapshot. Host fields stay zero where procfs is missing.
func (s *SystemSampler) Collect(h *Hub) SystemMetrics {
	m := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		CPUCores:   runtime.NumCPU(),
		UptimeSec:  int64(time.Since(s.start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
	}

	cur := s.readCPU()
	s.mu.Lock()
	if s.prev.total > 0 && cur.total > s.prev.total {
		dTotal := float64(cur.total - s.prev.total)
		dIdle := float64(cur.idle - s.prev.idle)
		m.CPUPercent = (1 - dIdle/dTotal) * 100
	}
	s.prev = cur
	s.mu.Unlock()

	if fields := s.firstLineFields("loadavg"); len(fields) > 0 {
		m.CPULoad1, _ = strconv.ParseFloat(fields[0], 64)
	}
	total, avail := s.readMem()
	if total > 0 {
		m.MemTotalMB = float64(total) / 1024
		m.MemUsedMB = float64(total-avail) / 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	m.GCRuns = ms.NumGC

	if h != nil {
		m.WSClients = h.ClientCount()
		m.SignalSeq = h.Seq()
		p50, _, p99 := h.Latency.Percentiles()
		m.PushP50Ms = float64(p50) / float64(time.Millisecond)
		m.PushP99Ms = float64(p99) / float64(time.Millisecond)
	}
	return m
}

func (s *SystemSampler) readCPU() cpuSample {
	f, err := os.Open(s.proc + "/stat")
	if err != nil {
		return cpuSample{}
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var sample cpuSample
		for i := 1; i < len(fields); i++ {
			v, _ := strconv.ParseUint(fields[i], 10, 64)
			sample.total += v
			if i == 4 {
				sample.idle = v
			}
		}
		return sample
	}
	return cpuSample{}
}

func (s *SystemSampler) firstLineFields(name string) []string {
	f, err := os.Open(s.proc + "/" + name)
	if err != nil {
		return nil
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil
	}
	return strings.Fields(scanner.Text())
}

// readMem returns MemTotal and MemAvailable in kB.
func (s *SystemSampler) readMem() (total, avail uint64) {
	f, err := os.Open(s.proc + "/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
		}
	}
	return total, avail
}

// StartSystemBroadcast pushes a {"type":"metrics"} frame to every client on
// each interval until ctx is cancelled.
func (h *Hub) StartSystemBroadcast(ctx context.Context, sampler *SystemSampler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := json.Marshal(map[string]any{
				"type":    "metrics",
				"metrics": sampler.Collect(h),
			})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
