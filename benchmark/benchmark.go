package benchmark

import (
	"context"
	"fmt"
	"image"

	"github.com/nvr-ai/go-helmet/detector"
)

// Resolution represents the frame dimensions fed to the detector.
type Resolution struct {
	Width  int    `json:"width"  yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	Name   string `json:"name"   yaml:"name"`
}

// NewResolution returns a Resolution named WIDTHxHEIGHT.
func NewResolution(width, height int) Resolution {
	return Resolution{Width: width, Height: height, Name: fmt.Sprintf("%dx%d", width, height)}
}

// CommonResolutions are typical camera frame sizes plus the native SSD input.
var CommonResolutions = []Resolution{
	NewResolution(300, 300),
	NewResolution(640, 480),
	NewResolution(1280, 720),
	NewResolution(1920, 1080),
}

// Scenario defines a specific benchmark configuration.
type Scenario struct {
	Name       string           `json:"name"        yaml:"name"`
	Backend    detector.Backend `json:"backend"     yaml:"backend"`
	Resolution Resolution       `json:"resolution"  yaml:"resolution"`
	Iterations int              `json:"iterations"  yaml:"iterations"`
	WarmupRuns int              `json:"warmup_runs" yaml:"warmup_runs"`
}

// Detector is the part of a loaded detector a benchmark drives.
type Detector interface {
	DetectImage(ctx context.Context, img image.Image) ([]detector.DetectedObject, error)
	Dispose() error
}

var _ Detector = (*detector.Model)(nil)

// Loader loads a detector configured for the given scenario.
type Loader func(ctx context.Context, scenario Scenario) (Detector, error)

// ConfigLoader returns a Loader that loads cfg with the scenario's backend.
//
// Arguments:
//   - cfg: The base detector configuration.
//
// Returns:
//   - Loader: Loads a *detector.Model per scenario.
func ConfigLoader(cfg detector.Config) Loader {
	return func(ctx context.Context, scenario Scenario) (Detector, error) {
		c := cfg
		if scenario.Backend != "" {
			c.Backend = scenario.Backend
		}
		model, err := detector.Load(ctx, c)
		if err != nil {
			return nil, err
		}
		return model, nil
	}
}
