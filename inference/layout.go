package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-helmet/images/geometry"
	"github.com/nvr-ai/go-helmet/models/postprocess"
)

// Default output names of TensorFlow Object Detection API SSD graphs.
const (
	DefaultBoxesOutput   = "detection_boxes"
	DefaultScoresOutput  = "detection_scores"
	DefaultClassesOutput = "detection_classes"
	DefaultCountOutput   = "num_detections"
)

// OutputLayout names the graph outputs that carry the raw detections.
type OutputLayout struct {
	// Boxes is the [1, N, 4] (or [1, N, 1, 4]) box output.
	Boxes string `json:"boxes" yaml:"boxes"`
	// Scores is the [1, N] score output, or [1, N, C] class scores when
	// Classes is empty.
	Scores string `json:"scores" yaml:"scores"`
	// Classes is the [1, N] class output. Empty derives each class as the
	// argmax over the class scores.
	Classes string `json:"classes" yaml:"classes"`
	// ClassOffset is added to every class id, named or argmax-derived, e.g. 1
	// when the model numbers classes from 0 with the background excluded.
	ClassOffset int `json:"class_offset" yaml:"class_offset"`
	// Count optionally names a scalar output holding how many of the N rows
	// are valid.
	Count string `json:"count" yaml:"count"`
}

// DefaultOutputLayout returns the layout of a post-processed SSD graph.
func DefaultOutputLayout() OutputLayout {
	return OutputLayout{
		Boxes:   DefaultBoxesOutput,
		Scores:  DefaultScoresOutput,
		Classes: DefaultClassesOutput,
	}
}

// Validate checks that the mandatory outputs are named.
func (l OutputLayout) Validate() error {
	if l.Boxes == "" || l.Scores == "" {
		return errors.New("output layout needs both a boxes and a scores output")
	}
	return nil
}

// Names returns the output names the engine must produce, in a stable order.
func (l OutputLayout) Names() []string {
	names := []string{l.Boxes, l.Scores}
	if l.Classes != "" {
		names = append(names, l.Classes)
	}
	if l.Count != "" {
		names = append(names, l.Count)
	}
	return names
}

// Extract copies the raw detection buffers out of engine outputs. The returned
// tensors do not alias the outputs, which may be released afterwards. Width
// and Height are left for the caller to fill in.
//
// Arguments:
//   - outputs: The outputs of a single Execute call.
//
// Returns:
//   - *postprocess.RawDetectionTensors: The raw detections.
//   - error: postprocess.ErrShapeMismatch (wrapped) if an output is missing or
//     the sizes disagree.
func (l OutputLayout) Extract(outputs []Tensor) (*postprocess.RawDetectionTensors, error) {
	byName := make(map[string]Tensor, len(outputs))
	for _, o := range outputs {
		byName[o.Name()] = o
	}

	boxes, err := l.read(byName, l.Boxes)
	if err != nil {
		return nil, err
	}
	if len(boxes)%geometry.BoxStride != 0 {
		return nil, errors.Wrapf(postprocess.ErrShapeMismatch,
			"output %q has %d values, not a multiple of %d", l.Boxes, len(boxes), geometry.BoxStride)
	}
	n := len(boxes) / geometry.BoxStride

	scores, err := l.read(byName, l.Scores)
	if err != nil {
		return nil, err
	}

	var classes []float32
	if l.Classes != "" {
		if classes, err = l.read(byName, l.Classes); err != nil {
			return nil, err
		}
		if len(scores) != n || len(classes) != n {
			return nil, errors.Wrapf(postprocess.ErrShapeMismatch,
				"%d boxes but %d scores and %d classes", n, len(scores), len(classes))
		}
	} else {
		if scores, classes, err = l.reduceClassScores(scores, n); err != nil {
			return nil, err
		}
	}

	if l.Count != "" {
		count, err := l.read(byName, l.Count)
		if err != nil {
			return nil, err
		}
		if len(count) == 0 {
			return nil, errors.Wrapf(postprocess.ErrShapeMismatch, "output %q is empty", l.Count)
		}
		if k := int(count[0]); k >= 0 && k < n {
			n = k
		}
	}

	raw := &postprocess.RawDetectionTensors{
		Boxes:   append([]float32(nil), boxes[:n*geometry.BoxStride]...),
		Scores:  append([]float32(nil), scores[:n]...),
		Classes: append([]float32(nil), classes[:n]...),
	}
	if l.Classes != "" && l.ClassOffset != 0 {
		for i := range raw.Classes {
			raw.Classes[i] += float32(l.ClassOffset)
		}
	}
	return raw, nil
}

func (l OutputLayout) read(byName map[string]Tensor, name string) ([]float32, error) {
	t, ok := byName[name]
	if !ok {
		return nil, errors.Wrapf(postprocess.ErrShapeMismatch, "missing output %q", name)
	}
	data, err := t.Float32s()
	if err != nil {
		return nil, errors.Wrapf(err, "read output %q", name)
	}
	return data, nil
}

// reduceClassScores reduces [N, C] class scores to one score and one class
// per box: the class is the argmax over C plus ClassOffset and the score is
// the maximum itself.
func (l OutputLayout) reduceClassScores(scores []float32, n int) ([]float32, []float32, error) {
	if n == 0 {
		return []float32{}, []float32{}, nil
	}
	if len(scores) == 0 || len(scores)%n != 0 {
		return nil, nil, errors.Wrapf(postprocess.ErrShapeMismatch,
			"%d class scores do not split over %d boxes", len(scores), n)
	}
	c := len(scores) / n

	m := tensor.New(tensor.WithShape(n, c), tensor.WithBacking(append([]float32(nil), scores...)))
	arg, err := m.Argmax(1)
	if err != nil {
		return nil, nil, errors.Wrap(err, "argmax over class scores")
	}
	var idx []int
	switch v := arg.Data().(type) {
	case []int:
		idx = v
	case int:
		// A single box reduces to a scalar.
		idx = []int{v}
	default:
		return nil, nil, errors.Errorf("unexpected argmax dtype %v", arg.Dtype())
	}

	best := make([]float32, n)
	classes := make([]float32, n)
	for i, j := range idx {
		best[i] = scores[i*c+j]
		classes[i] = float32(j + l.ClassOffset)
	}
	return best, classes, nil
}
