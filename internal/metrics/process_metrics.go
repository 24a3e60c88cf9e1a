package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample holds one resource reading for a service's process group leader.
type Sample struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// history is a fixed-capacity circular buffer of Sample, matching §5's
// bounded per-service history requirement.
type history struct {
	mu       sync.RWMutex
	buf      []Sample
	startIdx int
	count    int
}

func newHistory(size int) *history {
	return &history{buf: make([]Sample, size)}
}

func (h *history) add(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < len(h.buf) {
		h.buf[h.count] = s
		h.count++
		return
	}
	h.buf[h.startIdx] = s
	h.startIdx = (h.startIdx + 1) % len(h.buf)
}

func (h *history) latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return Sample{}, false
	}
	var idx int
	if h.count < len(h.buf) {
		idx = h.count - 1
	} else {
		idx = (h.startIdx - 1 + len(h.buf)) % len(h.buf)
	}
	return h.buf[idx], true
}

func (h *history) all() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return nil
	}
	out := make([]Sample, h.count)
	if h.count < len(h.buf) {
		copy(out, h.buf[:h.count])
		return out
	}
	n1 := copy(out, h.buf[h.startIdx:])
	copy(out[n1:], h.buf[:h.startIdx])
	return out
}

const (
	defaultSamplerMaxHistory = 100
	// SamplerServiceCap bounds how many services are sampled per supervisor
	// tick (spec.md §5: "metrics sampling touches at most 16 services per
	// tick"), so a large fleet never turns metrics collection into the
	// tick's long pole.
	SamplerServiceCap = 16
)

// Sampler periodically reads CPU/RSS/VMS/thread/FD counters for a bounded
// set of service process-group leaders via gopsutil, keeping a short
// in-memory history per service and mirroring the latest reading into
// Prometheus gauges.
type Sampler struct {
	maxHistory int

	mu        sync.RWMutex
	histories map[string]*history

	cpu     *prometheus.GaugeVec
	memMB   *prometheus.GaugeVec
	threads *prometheus.GaugeVec
	fds     *prometheus.GaugeVec
}

// NewSampler constructs a Sampler with maxHistory samples retained per
// service (0 uses a sensible default).
func NewSampler(maxHistory int) *Sampler {
	if maxHistory <= 0 {
		maxHistory = defaultSamplerMaxHistory
	}
	return &Sampler{
		maxHistory: maxHistory,
		histories:  make(map[string]*history),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "systemg", Subsystem: "service", Name: "cpu_percent",
			Help: "CPU usage percentage for the service's process group leader.",
		}, []string{"name"}),
		memMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "systemg", Subsystem: "service", Name: "memory_mb",
			Help: "Resident memory in MB for the service's process group leader.",
		}, []string{"name"}),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "systemg", Subsystem: "service", Name: "num_threads",
			Help: "Thread count for the service's process group leader.",
		}, []string{"name"}),
		fds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "systemg", Subsystem: "service", Name: "num_fds",
			Help: "Open file descriptor count for the service's process group leader (Unix only).",
		}, []string{"name"}),
	}
}

// RegisterMetrics registers the sampler's gauges with r.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{s.cpu, s.memMB, s.threads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.fds)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// SampleOnce samples at most SamplerServiceCap entries of pidsByService
// (iteration order is map order; callers that need determinism should
// pre-sort the names they pass in via a stable subset). Returns the names
// actually sampled so the supervisor loop can round-robin across ticks
// when there are more services than the cap.
func (s *Sampler) SampleOnce(pidsByService map[string]int32) []string {
	now := time.Now()
	var sampled []string
	for name, pid := range pidsByService {
		if len(sampled) >= SamplerServiceCap {
			break
		}
		if pid <= 0 {
			continue
		}
		sample, err := readSample(name, pid, now)
		if err != nil {
			slog.Debug("metrics: sample failed", "service", name, "pid", pid, "error", err)
			continue
		}
		s.record(name, *sample)
		sampled = append(sampled, name)
	}
	s.cleanup(pidsByService)
	return sampled
}

func readSample(name string, pid int32, now time.Time) (*Sample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("metrics: process handle: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("metrics: memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	sample := &Sample{
		PID:        pid,
		Name:       name,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  now,
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			sample.NumFDs = n
		}
	}
	return sample, nil
}

func (s *Sampler) record(name string, sample Sample) {
	s.mu.Lock()
	h, ok := s.histories[name]
	if !ok {
		h = newHistory(s.maxHistory)
		s.histories[name] = h
	}
	s.mu.Unlock()

	h.add(sample)
	s.cpu.WithLabelValues(name).Set(sample.CPUPercent)
	s.memMB.WithLabelValues(name).Set(sample.MemoryMB)
	s.threads.WithLabelValues(name).Set(float64(sample.NumThreads))
	if runtime.GOOS != "windows" && sample.NumFDs > 0 {
		s.fds.WithLabelValues(name).Set(float64(sample.NumFDs))
	}
}

// cleanup drops histories and gauge series for services no longer present
// in the current service set (e.g. removed by a config reload).
func (s *Sampler) cleanup(active map[string]int32) {
	s.mu.Lock()
	var stale []string
	for name := range s.histories {
		if _, ok := active[name]; !ok {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		delete(s.histories, name)
	}
	s.mu.Unlock()

	for _, name := range stale {
		s.cpu.DeleteLabelValues(name)
		s.memMB.DeleteLabelValues(name)
		s.threads.DeleteLabelValues(name)
		if runtime.GOOS != "windows" {
			s.fds.DeleteLabelValues(name)
		}
	}
}

// Latest returns the most recent sample for a service.
func (s *Sampler) Latest(name string) (Sample, bool) {
	s.mu.RLock()
	h, ok := s.histories[name]
	s.mu.RUnlock()
	if !ok {
		return Sample{}, false
	}
	return h.latest()
}

// History returns the retained samples for a service, oldest first.
func (s *Sampler) History(name string) []Sample {
	s.mu.RLock()
	h, ok := s.histories[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.all()
}
