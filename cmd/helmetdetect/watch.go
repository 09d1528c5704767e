package main

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-helmet/detector"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/nvr-ai/go-helmet/profiler"
)

const (
	flagDevice = "device"
	flagVideo  = "video"
	flagShow   = "show"
	flagFrames = "frames"
	flagReport = "report-interval"
)

var (
	helmetColor = color.RGBA{0, 255, 0, 0}
	personColor = color.RGBA{0, 0, 255, 0}
	textColor   = color.RGBA{255, 255, 255, 0}
)

// fpsMeter reports frames per second over one second windows.
type fpsMeter struct {
	fps   float64
	count int
	last  time.Time
}

func (m *fpsMeter) tick(now time.Time) float64 {
	if m.last.IsZero() {
		m.last = now
	}
	m.count++
	if elapsed := now.Sub(m.last).Seconds(); elapsed >= 1.0 {
		m.fps = float64(m.count) / elapsed
		m.count = 0
		m.last = now
	}
	return m.fps
}

// statsCollector exposes the inference statistics of a model to the profiler.
type statsCollector struct {
	stats *inference.Stats
}

func (c statsCollector) CollectMetrics() map[string]float64 {
	return map[string]float64{
		"inference_ms": float64(c.stats.Average().Microseconds()) / 1000,
	}
}

func openCapture(c *cli.Context) (*gocv.VideoCapture, string, error) {
	if path := c.Path(flagVideo); path != "" {
		capture, err := gocv.OpenVideoCapture(path)
		return capture, path, errors.Wrapf(err, "open video %s", path)
	}
	device := c.Int(flagDevice)
	capture, err := gocv.OpenVideoCapture(device)
	return capture, fmt.Sprintf("device %d", device), errors.Wrapf(err, "open capture device %d", device)
}

func watchAction(c *cli.Context, logger *zap.Logger) error {
	model, err := loadModel(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Dispose(); err != nil {
			logger.Error("dispose model", zap.Error(err))
		}
	}()

	capture, source, err := openCapture(c)
	if err != nil {
		return err
	}
	defer capture.Close()

	var window *gocv.Window
	if c.Bool(flagShow) {
		window = gocv.NewWindow("helmetdetect")
		defer window.Close()
	}

	img := gocv.NewMat()
	defer img.Close()

	limit := c.Int(flagFrames)
	meter := &fpsMeter{}

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
		ReportInterval: c.Duration(flagReport),
		Logger:         logger,
	})
	prof.AddMetricsCollector(statsCollector{stats: model.Stats()})
	prof.Start()
	defer prof.Stop()

	logger.Info("watching", zap.String("source", source))
	for frame := 0; limit == 0 || frame < limit; frame++ {
		if err := c.Context.Err(); err != nil {
			return nil
		}
		if ok := capture.Read(&img); !ok {
			logger.Info("source closed", zap.String("source", source), zap.Int("frames", frame))
			return nil
		}
		if img.Empty() {
			continue
		}

		done := prof.StartOperation("detect")
		objects, err := model.DetectMat(c.Context, img)
		done()
		if err != nil {
			return errors.Wrapf(err, "frame %d", frame)
		}
		fps := meter.tick(time.Now())
		prof.RecordMetric("objects", float64(len(objects)))
		prof.RecordMetric("fps", fps)

		logger.Debug("frame processed",
			zap.Int("frame", frame),
			zap.Int("objects", len(objects)),
			zap.Float64("fps", fps),
		)

		if window == nil {
			continue
		}
		annotate(&img, objects, fps)
		window.IMShow(img)
		if window.WaitKey(1) == 27 {
			return nil
		}
	}
	return nil
}

// annotate draws the detections and the frame rate onto img.
func annotate(img *gocv.Mat, objects []detector.DetectedObject, fps float64) {
	for _, o := range objects {
		c := personColor
		if o.Class == "helmet" {
			c = helmetColor
		}
		r := image.Rect(
			int(o.BBox[0]), int(o.BBox[1]),
			int(o.BBox[0]+o.BBox[2]), int(o.BBox[1]+o.BBox[3]),
		)
		gocv.Rectangle(img, r, c, 2)
		gocv.PutText(img, fmt.Sprintf("%s %.2f", o.Class, o.Score),
			image.Pt(r.Min.X, r.Min.Y-4), gocv.FontHersheyPlain, 1.2, c, 2)
	}
	gocv.PutText(img, fmt.Sprintf("FPS: %.1f", fps), image.Pt(10, 30), gocv.FontHersheyPlain, 1.2, textColor, 2)
}
