// Package profiler - Periodic runtime and detection reports for long running
// capture loops.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks memory, goroutines, custom metrics and operation
// timings and logs a report every ReportInterval. It is safe for concurrent
// use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	logger         *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	startTime   time.Time
	memStats    runtime.MemStats
	lastGCCount uint32

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker keeps a window of the most recent values of a metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (t *MetricTracker) add(value float64, window int) {
	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.values = append(t.values, value)
	t.sum += value
	if len(t.values) > window {
		t.sum -= t.values[0]
		t.values = t.values[1:]
	}
	t.count++
}

// TimeTracker keeps a window of the most recent durations of an operation.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

func (t *TimeTracker) add(d time.Duration, window int) {
	if t.count == 0 || d < t.minTime {
		t.minTime = d
	}
	if t.count == 0 || d > t.maxTime {
		t.maxTime = d
	}
	t.durations = append(t.durations, d)
	t.totalTime += d
	if len(t.durations) > window {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.count++
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 2s)
	ReportInterval time.Duration
	// SampleInterval specifies how often to collect samples (default: 100ms)
	SampleInterval time.Duration
	// MaxSamples bounds every metric and timing window (default: 600)
	MaxSamples int
	// Logger receives the reports. Nil disables them.
	Logger *zap.Logger
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 2 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger,
		startTime:      time.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and reporting in the background. Calling Start on a
// running profiler does nothing.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()
	rp.ctx, rp.cancel = context.WithCancel(context.Background())

	rp.wg.Add(2)
	go rp.loop(rp.sampleInterval, rp.sample)
	go rp.loop(rp.reportInterval, rp.emitStatusReport)
}

// Stop stops the profiler and waits for its goroutines to exit.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

func (rp *RuntimeProfiler) loop(interval time.Duration, fn func()) {
	defer rp.wg.Done()

	rp.mu.RLock()
	ctx := rp.ctx
	rp.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// AddMetricsCollector registers a collector polled on every sample.
//
// Arguments:
// - collector: An implementation of MetricsCollector interface
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, ok := rp.customMetrics[name]
	if !ok {
		tracker = &MetricTracker{}
		rp.customMetrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records the completion time of an operation.
func (rp *RuntimeProfiler) RecordDuration(name string, d time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.operationTimes[name]
	if !ok {
		tracker = &TimeTracker{}
		rp.operationTimes[name] = tracker
	}
	tracker.add(d, rp.maxSamples)
}

func (rp *RuntimeProfiler) sample() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	// Collectors run unlocked so that they may call back into the profiler.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordMetricLocked(name, value)
		}
	}
}

// emitStatusReport logs a snapshot of the profiler.
func (rp *RuntimeProfiler) emitStatusReport() {
	s := rp.Snapshot()

	fields := []zap.Field{
		zap.Duration("uptime", s.Uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", s.Goroutines),
		zap.Int64("cgo_calls", s.CgoCalls),
		zap.Uint64("heap_alloc", s.HeapAlloc),
		zap.Uint64("sys", s.Sys),
		zap.Uint32("gc_cycles", s.NumGC),
	}

	rp.mu.Lock()
	if s.NumGC > rp.lastGCCount {
		fields = append(fields, zap.Uint32("new_gc_cycles", s.NumGC-rp.lastGCCount))
		rp.lastGCCount = s.NumGC
	}
	rp.mu.Unlock()

	for _, m := range s.Metrics {
		fields = append(fields, zap.Float64(m.Name+"_avg", m.Avg), zap.Float64(m.Name+"_max", m.Max))
	}
	for _, o := range s.Operations {
		fields = append(fields, zap.Duration(o.Name+"_avg", o.Avg), zap.Duration(o.Name+"_max", o.Max))
	}

	rp.logger.Info("runtime profile", fields...)
}

// MetricSummary summarizes the window of a custom metric. Min and Max cover
// every recorded value.
type MetricSummary struct {
	Name    string
	Avg     float64
	Min     float64
	Max     float64
	Samples int
}

// OperationSummary summarizes the window of an operation.
type OperationSummary struct {
	Name  string
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
	Count int64
}

// Snapshot is a point in time view of the profiler.
type Snapshot struct {
	Uptime     time.Duration
	Goroutines int
	CgoCalls   int64
	HeapAlloc  uint64
	Sys        uint64
	NumGC      uint32
	// Metrics and Operations are sorted by name.
	Metrics    []MetricSummary
	Operations []OperationSummary
}

// Snapshot returns the current profiling statistics.
func (rp *RuntimeProfiler) Snapshot() Snapshot {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	s := Snapshot{
		Uptime:     time.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		CgoCalls:   runtime.NumCgoCall(),
		HeapAlloc:  rp.memStats.HeapAlloc,
		Sys:        rp.memStats.Sys,
		NumGC:      rp.memStats.NumGC,
	}

	for name, t := range rp.customMetrics {
		if len(t.values) == 0 {
			continue
		}
		s.Metrics = append(s.Metrics, MetricSummary{
			Name:    name,
			Avg:     t.sum / float64(len(t.values)),
			Min:     t.min,
			Max:     t.max,
			Samples: len(t.values),
		})
	}
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })

	for name, t := range rp.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		s.Operations = append(s.Operations, OperationSummary{
			Name:  name,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
			Count: t.count,
		})
	}
	sort.Slice(s.Operations, func(i, j int) bool { return s.Operations[i].Name < s.Operations[j].Name })

	return s
}
