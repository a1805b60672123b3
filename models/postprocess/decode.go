package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// BoxDecoderConfig controls how regression deltas are laid out and normalized.
type BoxDecoderConfig struct {
	// ClassAgnostic selects the [N, 8] delta layout (background + foreground) shared by all
	// classes instead of the per-class [N, 4*C] layout.
	ClassAgnostic bool `json:"class_agnostic" yaml:"class_agnostic"`
	// BBoxStds multiplies each delta coordinate before decoding. Zero value means 1.
	BBoxStds [4]float32 `json:"bbox_stds" yaml:"bbox_stds"`
	// BBoxMeans is added to each delta coordinate after BBoxStds.
	BBoxMeans [4]float32 `json:"bbox_means" yaml:"bbox_means"`
}

// BoxInput is the raw output of the detector for a single image.
type BoxInput struct {
	// Rois are the region proposals, [N, 4] or [N, 5] with a leading batch index column.
	Rois *tensor.Dense
	// Scores are the per-class probabilities, [N, C].
	Scores *tensor.Dense
	// Deltas are the box regression outputs, [N, 4*C] or [N, 8].
	Deltas *tensor.Dense
	// Height and Width are the dimensions of the network input the rois live in.
	Height, Width int
	// Scale is the resize factor applied to the original image before the network ran.
	Scale float32
}

// Decoded is the BoxDecoder output: boxes aligned with the score matrix.
type Decoded struct {
	// Boxes[i][j] is the decoded box of proposal i for class j, in original image space.
	Boxes [][]images.Rect
	// Scores[i][j] is the score of proposal i for class j.
	Scores [][]float32
	// NumClasses is C, including background.
	NumClasses int
}

// BoxDecoder turns proposals and regression deltas into clipped boxes in original image space.
type BoxDecoder struct {
	config BoxDecoderConfig
}

// NewBoxDecoder creates a decoder for the given layout.
//
// Arguments:
//   - config: The delta layout and normalization.
//
// Returns:
//   - *BoxDecoder: The decoder.
func NewBoxDecoder(config BoxDecoderConfig) *BoxDecoder {
	for i, s := range config.BBoxStds {
		if s == 0 {
			config.BBoxStds[i] = 1
		}
	}
	return &BoxDecoder{config: config}
}

// Decode validates the input shapes, applies the delta transform, clips to the network input
// and maps the boxes back to the original image by dividing by the scale. A predicted side
// shorter than one pixel inverts its corners under the +1 convention; such an axis is folded
// onto its midpoint so every decoded box has a non-negative size.
//
// Arguments:
//   - in: The raw detector output for one image.
//
// Returns:
//   - *Decoded: Boxes and scores indexed by [proposal][class].
//   - error: ErrShapeMismatch (wrapped) when the arrays disagree, or an error for invalid
//     scale or dtype.
func (d *BoxDecoder) Decode(in BoxInput) (*Decoded, error) {
	if in.Scale <= 0 || math32.IsNaN(in.Scale) {
		return nil, errors.Errorf("invalid scale factor %v", in.Scale)
	}
	if in.Height <= 0 || in.Width <= 0 {
		return nil, errors.Errorf("invalid image shape %dx%d", in.Width, in.Height)
	}

	rois, roiCols, err := matrix(in.Rois, "rois")
	if err != nil {
		return nil, err
	}
	scores, numClasses, err := matrix(in.Scores, "scores")
	if err != nil {
		return nil, err
	}
	deltas, deltaCols, err := matrix(in.Deltas, "deltas")
	if err != nil {
		return nil, err
	}

	if roiCols != 4 && roiCols != 5 {
		return nil, errors.Wrapf(ErrShapeMismatch, "rois have %d columns, want 4 or 5", roiCols)
	}
	n := len(rois) / roiCols
	if len(scores)/numClasses != n {
		return nil, errors.Wrapf(ErrShapeMismatch, "scores have %d rows for %d proposals", len(scores)/numClasses, n)
	}
	if len(deltas)/deltaCols != n {
		return nil, errors.Wrapf(ErrShapeMismatch, "deltas have %d rows for %d proposals", len(deltas)/deltaCols, n)
	}
	wantCols := 4 * numClasses
	if d.config.ClassAgnostic {
		wantCols = 8
	}
	if deltaCols != wantCols {
		return nil, errors.Wrapf(ErrShapeMismatch, "deltas have %d columns, want %d for %d classes",
			deltaCols, wantCols, numClasses)
	}

	out := &Decoded{
		Boxes:      make([][]images.Rect, n),
		Scores:     make([][]float32, n),
		NumClasses: numClasses,
	}
	skip := roiCols - 4
	for i := 0; i < n; i++ {
		r := rois[i*roiCols+skip : (i+1)*roiCols]
		proposal := images.Rect{X1: r[0], Y1: r[1], X2: r[2], Y2: r[3]}
		row := deltas[i*deltaCols : (i+1)*deltaCols]

		out.Scores[i] = scores[i*numClasses : (i+1)*numClasses]
		out.Boxes[i] = make([]images.Rect, numClasses)
		for j := 0; j < numClasses; j++ {
			off := 4 * j
			if d.config.ClassAgnostic {
				off = 4
				if j == BackgroundClass {
					off = 0
				}
			}
			box := d.transform(proposal, row[off:off+4])
			out.Boxes[i][j] = collapse(box.Clip(in.Width, in.Height)).Scale(in.Scale)
		}
	}

	return out, nil
}

// DecodeBox applies the center/size delta transform to a single proposal without clipping
// or rescaling. A zero delta returns the proposal unchanged.
func (d *BoxDecoder) DecodeBox(proposal images.Rect, delta [4]float32) images.Rect {
	return d.transform(proposal, delta[:])
}

func (d *BoxDecoder) transform(p images.Rect, delta []float32) images.Rect {
	width := p.X2 - p.X1 + 1.0
	height := p.Y2 - p.Y1 + 1.0
	ctrX := p.X1 + 0.5*(width-1.0)
	ctrY := p.Y1 + 0.5*(height-1.0)

	dx := delta[0]*d.config.BBoxStds[0] + d.config.BBoxMeans[0]
	dy := delta[1]*d.config.BBoxStds[1] + d.config.BBoxMeans[1]
	dw := delta[2]*d.config.BBoxStds[2] + d.config.BBoxMeans[2]
	dh := delta[3]*d.config.BBoxStds[3] + d.config.BBoxMeans[3]

	predCtrX := dx*width + ctrX
	predCtrY := dy*height + ctrY
	predW := math32.Exp(dw) * width
	predH := math32.Exp(dh) * height

	return images.Rect{
		X1: predCtrX - 0.5*(predW-1.0),
		Y1: predCtrY - 0.5*(predH-1.0),
		X2: predCtrX + 0.5*(predW-1.0),
		Y2: predCtrY + 0.5*(predH-1.0),
	}
}

// collapse folds an inverted axis onto its midpoint.
func collapse(r images.Rect) images.Rect {
	if r.X2 < r.X1 {
		mid := 0.5 * (r.X1 + r.X2)
		r.X1, r.X2 = mid, mid
	}
	if r.Y2 < r.Y1 {
		mid := 0.5 * (r.Y1 + r.Y2)
		r.Y1, r.Y2 = mid, mid
	}
	return r
}

// matrix returns the float32 backing of a 2-D tensor together with its column count.
func matrix(t *tensor.Dense, name string) ([]float32, int, error) {
	if t == nil {
		return nil, 0, errors.Wrapf(ErrShapeMismatch, "%s tensor is nil", name)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, 0, errors.Errorf("%s tensor has dtype %v, want float32", name, t.Dtype())
	}
	shape := t.Shape()
	if len(shape) != 2 || shape[1] == 0 {
		return nil, 0, errors.Wrapf(ErrShapeMismatch, "%s tensor has shape %v, want 2-D", name, shape)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, 0, errors.Errorf("%s tensor data is %T", name, t.Data())
	}
	if len(data) != shape[0]*shape[1] {
		return nil, 0, errors.Wrapf(ErrShapeMismatch, "%s tensor holds %d values for shape %v", name, len(data), shape)
	}
	return data, shape[1], nil
}
