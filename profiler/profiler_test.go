package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type staticCollector map[string]float64

func (c staticCollector) CollectMetrics() map[string]float64 { return c }

func TestRecordMetricWindow(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 3})
	for _, v := range []float64{10, 1, 2, 3} {
		rp.RecordMetric("objects", v)
	}

	s := rp.Snapshot()
	require.Len(t, s.Metrics, 1)
	m := s.Metrics[0]
	assert.Equal(t, "objects", m.Name)
	assert.Equal(t, 3, m.Samples)
	assert.InDelta(t, 2, m.Avg, 1e-9)
	assert.InDelta(t, 1, m.Min, 1e-9)
	assert.InDelta(t, 10, m.Max, 1e-9)
}

func TestRecordDuration(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	rp.RecordDuration("detect", 10*time.Millisecond)
	rp.RecordDuration("detect", 30*time.Millisecond)
	rp.RecordDuration("annotate", time.Millisecond)

	s := rp.Snapshot()
	require.Len(t, s.Operations, 2)
	assert.Equal(t, "annotate", s.Operations[0].Name)

	detect := s.Operations[1]
	assert.Equal(t, 20*time.Millisecond, detect.Avg)
	assert.Equal(t, 10*time.Millisecond, detect.Min)
	assert.Equal(t, 30*time.Millisecond, detect.Max)
	assert.EqualValues(t, 2, detect.Count)
}

func TestStartOperation(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	stop := rp.StartOperation("frame")
	stop()

	s := rp.Snapshot()
	require.Len(t, s.Operations, 1)
	assert.EqualValues(t, 1, s.Operations[0].Count)
}

func TestStartStopReports(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zap.InfoLevel)
	rp := NewRuntimeProfiler(ProfilingOptions{
		ReportInterval: 5 * time.Millisecond,
		SampleInterval: time.Millisecond,
		Logger:         zap.New(core),
	})
	rp.AddMetricsCollector(staticCollector{"fps": 25})

	rp.Start()
	rp.Start()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("runtime profile").Len() > 0 && len(rp.Snapshot().Metrics) > 0
	}, time.Second, time.Millisecond)
	rp.Stop()
	rp.Stop()

	s := rp.Snapshot()
	require.NotEmpty(t, s.Metrics)
	assert.Equal(t, "fps", s.Metrics[0].Name)
	assert.InDelta(t, 25, s.Metrics[0].Avg, 1e-9)
	assert.NotZero(t, s.Sys)

	// A stopped profiler can be started again.
	rp.Start()
	rp.Stop()
}

func TestConcurrentRecording(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 50})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rp.RecordMetric("objects", float64(j))
				rp.RecordDuration("detect", time.Duration(j))
			}
		}()
	}
	wg.Wait()

	s := rp.Snapshot()
	assert.Equal(t, 50, s.Metrics[0].Samples)
	assert.EqualValues(t, 800, s.Operations[0].Count)
}
