// Package providers - Utility functions.
package providers

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// SharedLibEnv names the environment variable that overrides the ONNX Runtime
// shared library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the ONNX Runtime shared library.
//
// An explicit path wins, then SharedLibEnv, then the platform default under
// ./third_party.
//
// Arguments:
//   - override: An explicit library path, or empty.
//
// Returns:
//   - string: The path to the shared library.
//   - error: If the platform has no default library.
func GetSharedLibPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if p := os.Getenv(SharedLibEnv); p != "" {
		return p, nil
	}

	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}
