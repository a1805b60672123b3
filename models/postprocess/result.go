// Package postprocess - Postprocessing stages that turn raw detector outputs into detections.
package postprocess

import (
	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned when scores, deltas and proposals disagree on their dimensions.
var ErrShapeMismatch = errors.New("shape mismatch")

// BackgroundClass is the reserved class index that is never emitted.
const BackgroundClass = 0

// Result represents a single detection candidate.
type Result struct {
	// The bounding box of the result in original image space.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}

// Detections holds the surviving candidates of one image, indexed by class.
// Index 0 is the background class and stays empty.
type Detections [][]Result

// NewDetections allocates an empty detection set for numClasses classes.
func NewDetections(numClasses int) Detections {
	return make(Detections, numClasses)
}

// Count returns the number of candidates across all classes.
func (d Detections) Count() int {
	n := 0
	for _, cls := range d {
		n += len(cls)
	}
	return n
}

// Scores flattens every candidate score across all classes.
func (d Detections) Scores() []float32 {
	scores := make([]float32, 0, d.Count())
	for _, cls := range d {
		for _, r := range cls {
			scores = append(scores, r.Score)
		}
	}
	return scores
}
