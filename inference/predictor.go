// Package inference - the detector forward pass and the frames that feed it.
package inference

import (
	"context"
	"image"

	"gorgonia.org/tensor"
)

// Frame is one decoded image waiting for inference.
type Frame struct {
	// ID is the image id, derived from the file name.
	ID int64
	// Name is the file name.
	Name string
	// Image is the decoded image in its original size.
	Image image.Image
}

// Output is the raw detector output for one frame.
type Output struct {
	// ImageID is the id of the frame the output belongs to.
	ImageID int64
	// Name is the file name of the frame.
	Name string
	// Rois are region proposals in network input pixels, [N, 4] or [N, 5].
	Rois *tensor.Dense
	// Scores are per-class probabilities, [N, C].
	Scores *tensor.Dense
	// Deltas are box regression deltas, [N, 4C] or [N, 8].
	Deltas *tensor.Dense
	// Height is the network input height in pixels.
	Height int
	// Width is the network input width in pixels.
	Width int
	// Scale is network input size / original image size.
	Scale float32
}

// Predictor runs the detector over a batch of frames.
type Predictor interface {
	// Predict returns one Output per frame, in frame order.
	Predict(ctx context.Context, frames []Frame) ([]Output, error)
	// Close releases the predictor's resources.
	Close() error
}
