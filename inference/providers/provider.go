// Package providers - ONNX Runtime execution provider configuration.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// Backends is the list of all supported execution provider backends.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CoreMLProviderBackend,
	CUDAProviderBackend,
	OpenVINOProviderBackend,
}

// Config selects and tunes the execution provider of an ONNX Runtime session.
type Config struct {
	// Backend specifies the execution provider. Empty selects the CPU.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// IntraOpThreads sets the threads used inside a single node. Zero lets the
	// runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads sets the threads used across independent nodes. Zero lets
	// the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// CoreML holds the CoreML options, used when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// CUDA holds the CUDA options, used when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// OpenVINO holds the OpenVINO options, used when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// Validate checks the backend name and thread counts.
//
// Returns:
//   - error: An error describing the first invalid value.
func (c Config) Validate() error {
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpThreads, c.InterOpThreads)
	}
	if c.Backend == "" {
		return nil
	}
	for _, b := range Backends {
		if b == c.Backend {
			return nil
		}
	}
	return errors.Errorf("unsupported execution provider %q", c.Backend)
}

// NewSessionOptions creates ONNX Runtime session options for the configured
// execution provider.
//
// Session options control threading and graph optimization. Execution
// providers let ONNX Runtime hand supported nodes to specialized hardware
// (CoreML on Apple silicon, CUDA on NVIDIA GPUs, OpenVINO on Intel devices);
// anything they cannot take falls back to the CPU.
//
// **Note: The caller must Destroy the returned options once the session is
// created.**
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The session options.
//   - error: An error if the options could not be created or the provider
//     could not be enabled.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := configure(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	// Enables graph rewrites such as fusion and constant folding at load time.
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch cfg.Backend {
	case "", CPUProviderBackend:
		// The CPU provider is always registered.
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreML.Flags()); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case CUDAProviderBackend:
		cuda, err := cfg.CUDA.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.ToMap()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	}

	return nil
}
