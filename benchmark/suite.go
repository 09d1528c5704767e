package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Suite manages and executes benchmark scenarios
type Suite struct {
	load      Loader
	outputDir string
	logger    *zap.Logger

	mu        sync.RWMutex
	scenarios []Scenario
	corpus    []image.Image
	results   []PerformanceMetrics
}

// NewSuiteArgs represents the arguments for creating a new benchmark suite.
type NewSuiteArgs struct {
	// Load provides a detector per scenario.
	Load Loader
	// OutputPath is where SaveResults writes.
	OutputPath string
	// Logger receives progress. Nil disables logging.
	Logger *zap.Logger
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - args: The arguments for creating a new benchmark suite.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(args NewSuiteArgs) *Suite {
	logger := args.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suite{
		load:      args.Load,
		outputDir: args.OutputPath,
		logger:    logger,
	}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// AddImages adds frames to the corpus the scenarios cycle through.
func (bs *Suite) AddImages(imgs ...image.Image) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.corpus = append(bs.corpus, imgs...)
}

// frames returns the corpus resized to the scenario resolution.
func (bs *Suite) frames(scenario Scenario) []image.Image {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	out := make([]image.Image, len(bs.corpus))
	for i, img := range bs.corpus {
		b := img.Bounds()
		if b.Dx() == scenario.Resolution.Width && b.Dy() == scenario.Resolution.Height {
			out[i] = img
			continue
		}
		out[i] = resize.Resize(uint(scenario.Resolution.Width), uint(scenario.Resolution.Height), img, resize.Bilinear)
	}
	return out
}

// RunScenario loads a detector for the scenario and times its iterations.
// Failed iterations count towards ErrorRate and are left out of Latency.
//
// Arguments:
//   - ctx: Cancels the run between iterations.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: An error if the scenario is invalid or the detector cannot load.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations < 1 {
		return nil, errors.Errorf("scenario %s: iterations must be positive", scenario.Name)
	}
	if scenario.Resolution.Width < 1 || scenario.Resolution.Height < 1 {
		return nil, errors.Errorf("scenario %s: invalid resolution %dx%d",
			scenario.Name, scenario.Resolution.Width, scenario.Resolution.Height)
	}

	frames := bs.frames(scenario)
	if len(frames) == 0 {
		return nil, errors.New("no images in the benchmark corpus")
	}

	det, err := bs.load(ctx, scenario)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s: load detector", scenario.Name)
	}
	defer func() {
		if err := det.Dispose(); err != nil {
			bs.logger.Warn("dispose detector", zap.String("scenario", scenario.Name), zap.Error(err))
		}
	}()

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	// Warmup errors surface again in the timed iterations.
	for i := 0; i < scenario.WarmupRuns; i++ {
		_, _ = det.DetectImage(ctx, frames[i%len(frames)])
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	latencies := make([]time.Duration, 0, scenario.Iterations)
	failures := 0
	startTime := time.Now()

	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frameStart := time.Now()
		objects, err := det.DetectImage(ctx, frames[i%len(frames)])
		if err != nil {
			failures++
			bs.logger.Debug("iteration failed", zap.String("scenario", scenario.Name), zap.Int("iteration", i), zap.Error(err))
			continue
		}
		latencies = append(latencies, time.Since(frameStart))
		metrics.DetectionCount += len(objects)
	}

	metrics.TotalDuration = time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.Latency = summarizeLatency(latencies)
	if seconds := metrics.TotalDuration.Seconds(); seconds > 0 {
		metrics.FramesPerSecond = float64(len(latencies)) / seconds
	}
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}
	metrics.CPUStats = CPUMetrics{
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
	}

	return metrics, nil
}

// RunAllScenarios executes all configured scenarios. A failing scenario is
// logged and skipped; cancellation stops the run.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bs.logger.Error("scenario failed", zap.String("scenario", scenario.Name), zap.Error(err))
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		bs.logger.Info("scenario completed",
			zap.String("scenario", scenario.Name),
			zap.Float64("fps", metrics.FramesPerSecond),
			zap.Duration("p95", metrics.Latency.P95),
		)
	}

	return nil
}

// SaveResults writes the results as JSON plus a CSV summary.
//
// Returns:
//   - []string: The files written.
//   - error: An error if the output directory or a file cannot be written.
func (bs *Suite) SaveResults() ([]string, error) {
	results := bs.Results()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "write results file")
	}

	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return nil, errors.Wrap(err, "save summary CSV")
	}

	return []string{resultsFile, summaryFile}, nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	_ = w.Write([]string{
		"Scenario", "Backend", "Resolution", "FPS", "P50_ms", "P95_ms", "Alloc_MB", "Detections", "Error_Rate",
	})
	for _, r := range results {
		_ = w.Write([]string{
			r.Scenario.Name,
			string(r.Scenario.Backend),
			r.Scenario.Resolution.Name,
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(milliseconds(r.Latency.P50), 'f', 3, 64),
			strconv.FormatFloat(milliseconds(r.Latency.P95), 'f', 3, 64),
			strconv.FormatFloat(float64(r.MemoryStats.TotalAllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		})
	}
	w.Flush()
	return w.Error()
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// Results returns a copy of the collected results.
func (bs *Suite) Results() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
