// Package detector - Helmet and person detection on top of an SSD graph.
package detector

import (
	"os"
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-helmet/inference"
	dnn "github.com/nvr-ai/go-helmet/inference/opencv"
	"github.com/nvr-ai/go-helmet/inference/providers"
	"github.com/nvr-ai/go-helmet/models"
	"github.com/nvr-ai/go-helmet/models/postprocess"
	"github.com/nvr-ai/go-helmet/models/postprocess/opencv"
)

// Backend selects the suppression implementation.
type Backend string

// Supported suppression backends.
const (
	BackendGreedy   Backend = "greedy"
	BackendParallel Backend = "parallel"
	BackendOpenCV   Backend = "opencv"
)

// Backends lists the supported suppression backends.
var Backends = []Backend{BackendGreedy, BackendParallel, BackendOpenCV}

// InputConfig describes how frames are fed to the graph.
type InputConfig struct {
	// Type forces the input element type. Empty follows the graph.
	Type inference.InputType `json:"type" yaml:"type"`
	// Normalize scales float32 inputs.
	Normalize inference.Normalization `json:"normalize" yaml:"normalize"`
}

// Config configures Load.
//
// Start from DefaultConfig or LoadConfig: zero thresholds and a zero output
// limit are honored as given.
type Config struct {
	// Model is a local path or a remote URL of the graph artifact.
	Model string `json:"model" yaml:"model"`
	// Engine selects the runtime. Empty selects onnx.
	Engine inference.EngineType `json:"engine" yaml:"engine"`
	// CacheDir is where remote artifacts are downloaded.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	postprocess.NMSConfig `yaml:",inline"`

	// Backend selects the suppression implementation. Empty selects greedy.
	Backend Backend `json:"backend" yaml:"backend"`
	// Workers sizes the parallel backend. Zero uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`

	Input InputConfig `json:"input" yaml:"input"`
	// Outputs names the detection outputs of the graph.
	Outputs inference.OutputLayout `json:"outputs" yaml:"outputs"`
	// OutputOrder renames TFLite outputs by position.
	OutputOrder []string `json:"output_order" yaml:"output_order"`
	// Classes overrides the helmet class registry.
	Classes []models.Class `json:"classes" yaml:"classes"`

	// Provider selects the ONNX Runtime execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// SharedLibrary overrides the onnxruntime library path.
	SharedLibrary string `json:"shared_library" yaml:"shared_library"`
	// Threads sizes the TFLite interpreter.
	Threads int `json:"threads" yaml:"threads"`
	// DNN configures the opencv engine. Its Normalize falls back to
	// Input.Normalize.
	DNN dnn.Options `json:"dnn" yaml:"dnn"`

	// Logger receives load and detection events. Nil disables logging.
	Logger *zap.Logger `json:"-" yaml:"-"`
	// Open replaces the engine selected by Engine.
	Open inference.Opener `json:"-" yaml:"-"`
}

// DefaultConfig returns the default configuration for a post-processed SSD
// graph. Model must still be set.
func DefaultConfig() Config {
	return Config{
		Engine: inference.EngineONNX,
		NMSConfig: postprocess.NMSConfig{
			MaxOutputs:     postprocess.DefaultMaxOutputs,
			IoUThreshold:   postprocess.DefaultIoUThreshold,
			ScoreThreshold: postprocess.DefaultScoreThreshold,
		},
		Backend: BackendGreedy,
		Outputs: inference.DefaultOutputLayout(),
	}
}

// LoadConfig reads a YAML configuration file over DefaultConfig.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The configuration.
//   - error: An error if the file cannot be read or parsed.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration. Thresholds are checked first so that an
// invalid threshold is reported before any I/O happens.
//
// Returns:
//   - error: postprocess.ErrInvalidThreshold (wrapped) for thresholds,
//     otherwise an error describing the first invalid field.
func (c Config) Validate() error {
	if err := c.NMSConfig.Validate(); err != nil {
		return err
	}
	if c.Model == "" {
		return errors.New("model is required")
	}
	if _, err := inference.ParseEngineType(string(c.Engine)); err != nil {
		return err
	}
	switch c.Backend {
	case "", BackendGreedy, BackendParallel, BackendOpenCV:
	default:
		return errors.Errorf("unsupported backend %q", c.Backend)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if err := c.Input.Type.Validate(); err != nil {
		return err
	}
	if err := c.Input.Normalize.Validate(); err != nil {
		return err
	}
	if err := c.Outputs.Validate(); err != nil {
		return err
	}
	if err := c.DNN.Validate(); err != nil {
		return err
	}
	return c.Provider.Validate()
}

// Suppressor returns the suppression backend selected by Backend.
func (c Config) Suppressor() postprocess.Suppressor {
	switch c.Backend {
	case BackendParallel:
		return postprocess.ParallelSuppressor{Workers: c.Workers}
	case BackendOpenCV:
		return opencv.Suppressor{}
	default:
		return postprocess.GreedySuppressor{}
	}
}

// Registry builds the class registry, HelmetClasses unless Classes is set.
func (c Config) Registry() (*models.Registry, error) {
	if len(c.Classes) == 0 {
		return models.DefaultRegistry(), nil
	}
	return models.NewRegistry(c.Classes...)
}

// OutputLayout returns the output layout for the selected engine. A layout
// left at its default picks up the conventions of the engine's fixed-size
// heads: TFLite and OpenCV DNN report a num_detections count, and
// TFLite_Detection_PostProcess numbers classes from 0 without the background.
func (c Config) OutputLayout() inference.OutputLayout {
	layout := c.Outputs
	if layout != inference.DefaultOutputLayout() {
		return layout
	}

	switch c.Engine {
	case inference.EngineTFLite:
		layout.ClassOffset = 1
		if len(c.OutputOrder) == 0 || slices.Contains(c.OutputOrder, inference.DefaultCountOutput) {
			layout.Count = inference.DefaultCountOutput
		}
	case inference.EngineOpenCV:
		layout.Count = inference.DefaultCountOutput
	}
	return layout
}
