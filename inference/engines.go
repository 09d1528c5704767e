// Package inference - Inference engine interface and implementations.
package inference

import "github.com/pkg/errors"

// EngineType is the type of the engine.
type EngineType string

const (
	// EngineONNX is the ONNX engine that uses the onnxruntime library.
	EngineONNX EngineType = "onnx"
	// EngineTFLite is the TensorFlow Lite engine that uses the tflite C library.
	EngineTFLite EngineType = "tflite"
	// EngineOpenCV is the OpenCV DNN engine for graphs ending in a
	// DetectionOutput layer.
	EngineOpenCV EngineType = "opencv"
)

// Engines is a list of all supported engines.
var Engines = []EngineType{EngineONNX, EngineTFLite, EngineOpenCV}

// ParseEngineType validates an engine name. Empty selects EngineONNX.
//
// Arguments:
//   - s: The engine name.
//
// Returns:
//   - EngineType: The engine type.
//   - error: If the engine is not supported.
func ParseEngineType(s string) (EngineType, error) {
	if s == "" {
		return EngineONNX, nil
	}
	for _, e := range Engines {
		if string(e) == s {
			return e, nil
		}
	}
	return "", errors.Errorf("unsupported engine %q", s)
}
