// Package annotations - COCO annotation records, the run-wide accumulator and dataset files.
package annotations

import (
	"math"

	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/pkg/errors"
)

// ErrInvalidRecord is returned when a record would not be a valid COCO annotation.
var ErrInvalidRecord = errors.New("invalid annotation record")

// Record is one COCO instance annotation. Records are only built through NewRecord.
type Record struct {
	// Segmentation is the polygon placeholder [[0, 0, 0, 0]]; boxes carry no mask.
	Segmentation [][]float64 `json:"segmentation"`
	// Area is width × height of the box.
	Area float64 `json:"area"`
	// IsCrowd is always 0.
	IsCrowd int `json:"iscrowd"`
	// ImageID is the id of the image the box belongs to.
	ImageID int64 `json:"image_id"`
	// BBox is [x, y, width, height] in original image pixels.
	BBox [4]float64 `json:"bbox"`
	// CategoryID is the external category id.
	CategoryID int `json:"category_id"`
	// ID is unique across the dataset.
	ID int64 `json:"id"`
}

// NewRecord builds a record from a corner box.
//
// Arguments:
//   - id: The annotation id, positive.
//   - imageID: The image id.
//   - categoryID: The external category id, positive.
//   - box: The box in original image pixels.
//
// Returns:
//   - Record: The validated record.
//   - error: ErrInvalidRecord if any field is out of range.
func NewRecord(id, imageID int64, categoryID int, box images.Rect) (Record, error) {
	if id <= 0 {
		return Record{}, errors.Wrapf(ErrInvalidRecord, "id %d", id)
	}
	if categoryID <= 0 {
		return Record{}, errors.Wrapf(ErrInvalidRecord, "category id %d", categoryID)
	}
	xywh := box.XYWH()
	bbox := [4]float64{float64(xywh[0]), float64(xywh[1]), float64(xywh[2]), float64(xywh[3])}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Record{}, errors.Wrapf(ErrInvalidRecord, "non-finite bbox %v", bbox)
		}
	}
	if bbox[2] < 0 || bbox[3] < 0 {
		return Record{}, errors.Wrapf(ErrInvalidRecord, "negative size bbox %v", bbox)
	}
	return Record{
		Segmentation: [][]float64{{0, 0, 0, 0}},
		Area:         bbox[2] * bbox[3],
		IsCrowd:      0,
		ImageID:      imageID,
		BBox:         bbox,
		CategoryID:   categoryID,
		ID:           id,
	}, nil
}
