package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-helmet/detector"
	"github.com/nvr-ai/go-helmet/util"
)

// imageResult is the JSON line printed for every image.
type imageResult struct {
	Path    string                    `json:"path"`
	Width   int                       `json:"width"`
	Height  int                       `json:"height"`
	Objects []detector.DetectedObject `json:"objects"`
}

func detectAction(c *cli.Context, logger *zap.Logger) error {
	if c.NArg() == 0 {
		return errors.New("no images given")
	}

	files, err := util.LoadImageFiles(c.Args().Slice()...)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no image files found")
	}

	model, err := loadModel(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Dispose(); err != nil {
			logger.Error("dispose model", zap.Error(err))
		}
	}()

	enc := json.NewEncoder(c.App.Writer)
	for _, f := range files {
		if err := c.Context.Err(); err != nil {
			return err
		}

		img, _, err := f.Decode()
		if err != nil {
			return err
		}

		objects, err := model.DetectImage(c.Context, img)
		if err != nil {
			return errors.Wrap(err, f.Path)
		}

		logger.Debug("image processed", zap.String("path", f.Path), zap.Int("objects", len(objects)))

		b := img.Bounds()
		if err := enc.Encode(imageResult{
			Path:    f.Path,
			Width:   b.Dx(),
			Height:  b.Dy(),
			Objects: objects,
		}); err != nil {
			return err
		}
	}

	stats := model.Stats()
	logger.Info("detection finished",
		zap.Int("images", len(files)),
		zap.Duration("avg_inference", stats.Average()),
	)
	return nil
}
