// Package main is the helmetdetect command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-helmet/detector"
	"github.com/nvr-ai/go-helmet/inference"
)

const (
	// Flags.
	flagConfig        = "config"
	flagDebug         = "debug"
	flagModel         = "model"
	flagEngine        = "engine"
	flagCacheDir      = "cache-dir"
	flagMaxOutputs    = "max-outputs"
	flagIoU           = "iou"
	flagScore         = "score"
	flagBackend       = "backend"
	flagWorkers       = "workers"
	flagSharedLibrary = "shared-library"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newApp builds the command tree.
func newApp() *cli.App {
	var logger *zap.Logger

	return &cli.App{
		Name:  "helmetdetect",
		Usage: "detect helmets and people in images and video",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load detector configuration from `FILE`",
				EnvVars: []string{"HELMET_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:    flagModel,
				Aliases: []string{"m"},
				Usage:   "model path or URL",
				EnvVars: []string{"HELMET_MODEL"},
			},
			&cli.StringFlag{
				Name:  flagEngine,
				Usage: "inference engine (onnx, tflite, opencv)",
			},
			&cli.PathFlag{
				Name:  flagCacheDir,
				Usage: "download directory for remote models",
			},
			&cli.IntFlag{
				Name:  flagMaxOutputs,
				Usage: "maximum detections per frame",
			},
			&cli.Float64Flag{
				Name:  flagIoU,
				Usage: "IoU suppression threshold",
			},
			&cli.Float64Flag{
				Name:  flagScore,
				Usage: "minimum detection score",
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Usage: "suppression backend (greedy, parallel, opencv)",
			},
			&cli.IntFlag{
				Name:  flagWorkers,
				Usage: "goroutines for the parallel backend",
			},
			&cli.PathFlag{
				Name:    flagSharedLibrary,
				Usage:   "onnxruntime shared library",
				EnvVars: []string{"ONNXRUNTIME_SHARED_LIBRARY_PATH"},
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			if c.Bool(flagDebug) {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			return err
		},
		After: func(*cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run detection on image files and print one JSON line per image",
				ArgsUsage: "<image or directory>...",
				Action: func(c *cli.Context) error {
					return detectAction(c, logger)
				},
			},
			{
				Name:  "watch",
				Usage: "run detection on a camera or a video file",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagDevice,
						Usage: "video capture device id",
					},
					&cli.PathFlag{
						Name:  flagVideo,
						Usage: "video file to read instead of a device",
					},
					&cli.BoolFlag{
						Name:  flagShow,
						Usage: "display annotated frames in a window",
					},
					&cli.IntFlag{
						Name:  flagFrames,
						Usage: "stop after `N` frames, 0 runs until the source ends",
					},
					&cli.DurationFlag{
						Name:  flagReport,
						Value: 5 * time.Second,
						Usage: "interval between runtime profile reports",
					},
				},
				Action: func(c *cli.Context) error {
					return watchAction(c, logger)
				},
			},
			benchCommand(func() *zap.Logger { return logger }),
			{
				Name:  "config",
				Usage: "print the effective detector configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					out, err := yaml.Marshal(cfg)
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(out)
					return err
				},
			},
		},
	}
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig(c *cli.Context) (detector.Config, error) {
	cfg := detector.DefaultConfig()
	if path := c.Path(flagConfig); path != "" {
		var err error
		if cfg, err = detector.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	if c.IsSet(flagModel) {
		cfg.Model = c.String(flagModel)
	}
	if c.IsSet(flagEngine) {
		engine, err := inference.ParseEngineType(c.String(flagEngine))
		if err != nil {
			return cfg, err
		}
		cfg.Engine = engine
	}
	if c.IsSet(flagCacheDir) {
		cfg.CacheDir = c.Path(flagCacheDir)
	}
	if c.IsSet(flagMaxOutputs) {
		cfg.MaxOutputs = c.Int(flagMaxOutputs)
	}
	if c.IsSet(flagIoU) {
		cfg.IoUThreshold = float32(c.Float64(flagIoU))
	}
	if c.IsSet(flagScore) {
		cfg.ScoreThreshold = float32(c.Float64(flagScore))
	}
	if c.IsSet(flagBackend) {
		cfg.Backend = detector.Backend(c.String(flagBackend))
	}
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagSharedLibrary) {
		cfg.SharedLibrary = c.Path(flagSharedLibrary)
	}

	return cfg, nil
}

// loadModel loads the detector described by the global flags.
func loadModel(c *cli.Context, logger *zap.Logger) (*detector.Model, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger

	model, err := detector.Load(c.Context, cfg)
	if err != nil {
		return nil, err
	}
	if err := model.WarmupErr(); err != nil {
		logger.Warn("detector loaded without a successful warmup", zap.Error(err))
	}
	return model, nil
}
