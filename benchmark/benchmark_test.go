package benchmark

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-helmet/detector"
	"github.com/nvr-ai/go-helmet/models/postprocess"
)

// mockDetector fails every failEvery-th call when failEvery is set.
type mockDetector struct {
	mu        sync.Mutex
	calls     int
	failEvery int
	sizes     []image.Point
	disposed  bool
}

func (m *mockDetector) DetectImage(_ context.Context, img image.Image) ([]detector.DetectedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.sizes = append(m.sizes, img.Bounds().Size())
	if m.failEvery > 0 && m.calls%m.failEvery == 0 {
		return nil, errors.New("inference failed")
	}
	return []detector.DetectedObject{{Class: "helmet", ClassID: 2, Score: 0.9}}, nil
}

func (m *mockDetector) Dispose() error {
	m.disposed = true
	return nil
}

func newTestSuite(t *testing.T, det *mockDetector) *Suite {
	t.Helper()
	suite := NewSuite(NewSuiteArgs{
		Load: func(context.Context, Scenario) (Detector, error) {
			return det, nil
		},
		OutputPath: t.TempDir(),
	})
	suite.AddImages(image.NewRGBA(image.Rect(0, 0, 64, 48)))
	return suite
}

func TestScenarioBuilder(t *testing.T) {
	scenario := NewScenarioBuilder("test_scenario").
		WithBackend(detector.BackendParallel).
		WithResolution(640, 480).
		WithIterations(5).
		WithWarmupRuns(1).
		Build()

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, detector.BackendParallel, scenario.Backend)
	assert.Equal(t, Resolution{Width: 640, Height: 480, Name: "640x480"}, scenario.Resolution)
	assert.Equal(t, 5, scenario.Iterations)
	assert.Equal(t, 1, scenario.WarmupRuns)
}

func TestPredefinedScenarios(t *testing.T) {
	backends := BackendComparisonScenarios(NewResolution(300, 300), 20)
	require.Len(t, backends.Scenarios, len(detector.Backends))
	for i, s := range backends.Scenarios {
		assert.Equal(t, detector.Backends[i], s.Backend)
		assert.Equal(t, 20, s.Iterations)
	}

	resolutions := ResolutionComparisonScenarios(detector.BackendGreedy, 10)
	require.Len(t, resolutions.Scenarios, len(CommonResolutions))
	assert.Equal(t, "resolution_greedy_1920x1080", resolutions.Scenarios[3].Name)
}

func TestScenarioSetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	set := BackendComparisonScenarios(NewResolution(640, 480), 3)

	require.NoError(t, SaveScenarioSet(set, path))
	loaded, err := LoadScenarioSet(path)
	require.NoError(t, err)
	assert.Equal(t, set, loaded)

	_, err = LoadScenarioSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunScenario(t *testing.T) {
	det := &mockDetector{failEvery: 4}
	suite := newTestSuite(t, det)

	scenario := NewScenarioBuilder("run").WithResolution(32, 24).WithIterations(8).WithWarmupRuns(0).Build()
	metrics, err := suite.RunScenario(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, 6, metrics.DetectionCount)
	assert.InDelta(t, 0.25, metrics.ErrorRate, 1e-9)
	assert.True(t, det.disposed)
	assert.Positive(t, metrics.CPUStats.NumCPU)
	assert.LessOrEqual(t, metrics.Latency.Min, metrics.Latency.P50)
	assert.LessOrEqual(t, metrics.Latency.P50, metrics.Latency.P95)
	assert.LessOrEqual(t, metrics.Latency.P95, metrics.Latency.Max)

	for _, size := range det.sizes {
		assert.Equal(t, image.Pt(32, 24), size, "frames are resized to the scenario resolution")
	}
}

func TestRunScenarioErrors(t *testing.T) {
	suite := newTestSuite(t, &mockDetector{})

	_, err := suite.RunScenario(context.Background(), Scenario{Name: "none", Resolution: NewResolution(8, 8)})
	assert.Error(t, err)

	_, err = suite.RunScenario(context.Background(), Scenario{Name: "size", Iterations: 1})
	assert.Error(t, err)

	failing := NewSuite(NewSuiteArgs{
		Load: func(context.Context, Scenario) (Detector, error) {
			return nil, errors.New("no model")
		},
	})
	failing.AddImages(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	_, err = failing.RunScenario(context.Background(), NewScenarioBuilder("load").Build())
	assert.ErrorContains(t, err, "no model")

	empty := NewSuite(NewSuiteArgs{Load: failing.load})
	_, err = empty.RunScenario(context.Background(), NewScenarioBuilder("empty").Build())
	assert.ErrorContains(t, err, "corpus")
}

func TestRunAllScenariosAndSave(t *testing.T) {
	suite := newTestSuite(t, &mockDetector{})
	for _, s := range BackendComparisonScenarios(NewResolution(16, 16), 3).Scenarios {
		suite.AddScenario(s)
	}
	suite.AddScenario(Scenario{Name: "broken"})

	require.NoError(t, suite.RunAllScenarios(context.Background()))
	require.Len(t, suite.Results(), len(detector.Backends))

	files, err := suite.SaveResults()
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestRunAllScenariosCanceled(t *testing.T) {
	suite := newTestSuite(t, &mockDetector{})
	suite.AddScenario(NewScenarioBuilder("canceled").Build())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, suite.RunAllScenarios(ctx), context.Canceled)
}

func TestSummarizeLatency(t *testing.T) {
	samples := make([]time.Duration, 0, 20)
	for i := 20; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}

	l := summarizeLatency(samples)
	assert.Equal(t, time.Millisecond, l.Min)
	assert.Equal(t, 20*time.Millisecond, l.Max)
	assert.Equal(t, 10*time.Millisecond+500*time.Microsecond, l.Mean)
	assert.Equal(t, 10*time.Millisecond, l.P50)
	assert.Equal(t, 19*time.Millisecond, l.P95)

	assert.Equal(t, LatencyMetrics{}, summarizeLatency(nil))
}

func TestConfigLoaderValidates(t *testing.T) {
	cfg := detector.DefaultConfig()
	cfg.Model = "helmet.onnx"
	cfg.IoUThreshold = 2

	_, err := ConfigLoader(cfg)(context.Background(), NewScenarioBuilder("bad").Build())
	assert.True(t, errors.Is(err, postprocess.ErrInvalidThreshold), "got %v", err)
}
