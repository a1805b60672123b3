package cooccur

import (
	"sort"

	"github.com/nvr-ai/go-pseudolabel/models/postprocess"
	"github.com/pkg/errors"
)

// CategoryMapper maps a model class index onto an external category id.
type CategoryMapper interface {
	CategoryID(class int) (int, error)
}

// RescoreConfig holds the thresholds of co-occurrence rescoring.
type RescoreConfig struct {
	// PresenceThreshold is the score at or above which a candidate marks its category present.
	PresenceThreshold float32 `json:"presence_threshold" yaml:"presence_threshold"`
	// HighConfidence is the score at or above which a candidate is never rescored.
	HighConfidence float32 `json:"high_confidence" yaml:"high_confidence"`
	// Acceptance is the rescored score below which a candidate is dropped.
	Acceptance float32 `json:"acceptance" yaml:"acceptance"`
}

// DefaultRescoreConfig returns presence 0.5, high confidence 0.9 and acceptance 0.3.
func DefaultRescoreConfig() RescoreConfig {
	return RescoreConfig{
		PresenceThreshold: 0.5,
		HighConfidence:    0.9,
		Acceptance:        0.3,
	}
}

// Validate checks that every threshold lies in [0, 1].
func (c RescoreConfig) Validate() error {
	for _, f := range []struct {
		name  string
		value float32
	}{
		{"presence_threshold", c.PresenceThreshold},
		{"high_confidence", c.HighConfidence},
		{"acceptance", c.Acceptance},
	} {
		if f.value < 0 || f.value > 1 {
			return errors.Errorf("rescore %s %v outside [0, 1]", f.name, f.value)
		}
	}
	return nil
}

// Rescorer adjusts low-confidence scores by how plausible a category is next to the other
// categories found in the same image.
type Rescorer struct {
	matrix *Matrix
	config RescoreConfig
}

// NewRescorer creates a rescorer over a normalized matrix.
func NewRescorer(matrix *Matrix, config RescoreConfig) (*Rescorer, error) {
	if matrix == nil {
		return nil, errors.New("nil co-occurrence matrix")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid rescore config")
	}
	return &Rescorer{matrix: matrix, config: config}, nil
}

// Summary reports what one Rescore call did.
type Summary struct {
	// Present is the sorted set of present category ids.
	Present []int
	// Rescored counts candidates whose score was multiplied by a weight.
	Rescored int
	// Dropped counts rescored candidates that fell below the acceptance threshold.
	Dropped int
}

// Weights computes the support weight of every present category.
//
// For each present category c the weight is the largest Weight(o, c) over the other present
// categories o. Categories that are not present have no entry and are treated as weight 0.
//
// Arguments:
//   - present: The present category ids.
//
// Returns:
//   - map[int]float64: The weight per present category.
//   - error: ErrMissingCategory if a category is not covered by the matrix.
func (r *Rescorer) Weights(present []int) (map[int]float64, error) {
	weights := make(map[int]float64, len(present))
	for _, c := range present {
		var best float64
		for _, o := range present {
			if o == c {
				continue
			}
			w, err := r.matrix.Weight(o, c)
			if err != nil {
				return nil, err
			}
			best = max(best, w)
		}
		weights[c] = best
	}
	return weights, nil
}

// Rescore applies co-occurrence rescoring to the candidates of one image.
//
// When at most one category is present nothing changes. Otherwise every candidate scoring
// below the high-confidence threshold has its score multiplied by its category weight, and
// is dropped if the result is below the acceptance threshold.
//
// Arguments:
//   - dets: The candidates of one image, indexed by class. Not modified.
//   - labels: Maps class indices onto the matrix's category ids.
//
// Returns:
//   - postprocess.Detections: The rescored candidates.
//   - Summary: Counts for logging.
//   - error: An error if a class cannot be mapped or its category is not in the matrix.
func (r *Rescorer) Rescore(dets postprocess.Detections, labels CategoryMapper) (postprocess.Detections, Summary, error) {
	var summary Summary

	categories := make([]int, len(dets))
	seen := make(map[int]bool)
	for class, cls := range dets {
		if len(cls) == 0 {
			continue
		}
		id, err := labels.CategoryID(class)
		if err != nil {
			return nil, summary, errors.Wrapf(err, "class %d", class)
		}
		if !r.matrix.Has(id) {
			return nil, summary, errors.Wrapf(ErrMissingCategory, "category %d of class %d", id, class)
		}
		categories[class] = id
		for _, c := range cls {
			if c.Score >= r.config.PresenceThreshold && !seen[id] {
				seen[id] = true
				summary.Present = append(summary.Present, id)
			}
		}
	}
	sort.Ints(summary.Present)

	if len(summary.Present) <= 1 {
		return dets, summary, nil
	}

	weights, err := r.Weights(summary.Present)
	if err != nil {
		return nil, summary, err
	}

	out := postprocess.NewDetections(len(dets))
	for class, cls := range dets {
		w := float32(weights[categories[class]])
		for _, c := range cls {
			if c.Score >= r.config.HighConfidence {
				out[class] = append(out[class], c)
				continue
			}
			c.Score *= w
			summary.Rescored++
			if c.Score < r.config.Acceptance {
				summary.Dropped++
				continue
			}
			out[class] = append(out[class], c)
		}
	}
	return out, summary, nil
}
