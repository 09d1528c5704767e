package inference

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrModelLoad matches every *ModelLoadError.
	ErrModelLoad = errors.New("model load failed")

	// ErrDisposed is returned when an adapter is used after Dispose.
	ErrDisposed = errors.New("inference adapter disposed")
)

// ModelLoadError is returned when the model artifact cannot be fetched or
// opened.
type ModelLoadError struct {
	// Model is the path or URL that was requested.
	Model string
	// Err is the underlying cause.
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Model, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrModelLoad.
func (e *ModelLoadError) Is(target error) bool {
	return target == ErrModelLoad
}
