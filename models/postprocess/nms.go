// Package postprocess - provides Soft Non-Maximum Suppression for detection results.
package postprocess

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/pkg/errors"
)

// NMSMethod selects how overlapping candidates are decayed.
type NMSMethod string

const (
	// NMSLinear multiplies the score by (1 - IoU) when IoU exceeds the threshold.
	NMSLinear NMSMethod = "linear"
	// NMSGaussian multiplies the score by exp(-IoU² / sigma) regardless of the threshold.
	NMSGaussian NMSMethod = "gaussian"
	// NMSHard zeroes the score when IoU exceeds the threshold, i.e. classic greedy NMS.
	NMSHard NMSMethod = "hard"
)

// ParseNMSMethod parses a method name, case-insensitively.
func ParseNMSMethod(s string) (NMSMethod, error) {
	switch m := NMSMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case NMSLinear, NMSGaussian, NMSHard:
		return m, nil
	default:
		return "", errors.Errorf("unknown nms method %q", s)
	}
}

// NMSConfig defines parameters for Soft Non-Maximum Suppression.
type NMSConfig struct {
	// Method is the decay function.
	Method NMSMethod `json:"method" yaml:"method"`
	// IoUThreshold is the overlap above which linear and hard decay act.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Sigma is the gaussian bandwidth.
	Sigma float32 `json:"sigma" yaml:"sigma"`
	// ScoreFloor drops candidates whose decayed score falls below it.
	ScoreFloor float32 `json:"score_floor" yaml:"score_floor"`
	// MaxDetections bounds the keep-list per class. Zero means unlimited.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
}

// DefaultNMSConfig returns linear Soft-NMS with a 0.3 overlap threshold.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		Method:       NMSLinear,
		IoUThreshold: 0.3,
		Sigma:        0.5,
		ScoreFloor:   1e-3,
	}
}

// Validate checks the configuration for values the decay functions cannot use.
func (c NMSConfig) Validate() error {
	if _, err := ParseNMSMethod(string(c.Method)); err != nil {
		return err
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("nms iou threshold %v outside [0, 1]", c.IoUThreshold)
	}
	if c.Method == NMSGaussian && c.Sigma <= 0 {
		return errors.Errorf("gaussian nms needs a positive sigma, got %v", c.Sigma)
	}
	if c.ScoreFloor < 0 {
		return errors.Errorf("nms score floor %v is negative", c.ScoreFloor)
	}
	if c.MaxDetections < 0 {
		return errors.Errorf("nms max detections %d is negative", c.MaxDetections)
	}
	return nil
}

// SoftNMS reduces duplicate detections within one class by decaying, rather than deleting,
// the scores of candidates that overlap a higher-scoring one.
//
// Each round selects the highest remaining score, emits it, and decays every other remaining
// candidate by the configured function of its IoU with the selection. Candidates that fall
// below the score floor are removed. Equal scores are resolved by original index, lowest
// first. The cost is O(n²) per class; candidate counts are in the hundreds, so no spatial
// index is used.
type SoftNMS struct {
	config NMSConfig
}

// NewSoftNMS creates a suppressor from a validated configuration.
//
// Arguments:
//   - config: The suppression parameters.
//
// Returns:
//   - *SoftNMS: The suppressor.
//   - error: An error if the configuration is invalid.
func NewSoftNMS(config NMSConfig) (*SoftNMS, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid nms config")
	}
	return &SoftNMS{config: config}, nil
}

// Keep runs suppression over one class's candidates.
//
// Arguments:
//   - candidates: The candidates of a single class, in any order. Not modified.
//
// Returns:
//   - []int: Indices into candidates of the survivors, in selection order.
//   - []float32: The post-decay score of each survivor, aligned with the indices.
func (s *SoftNMS) Keep(candidates []Result) ([]int, []float32) {
	n := len(candidates)
	if n == 0 {
		return nil, nil
	}

	scores := make([]float32, n)
	remaining := make([]int, 0, n)
	for i, c := range candidates {
		scores[i] = c.Score
		if s.alive(c.Score) {
			remaining = append(remaining, i)
		}
	}

	keep := make([]int, 0, len(remaining))
	kept := make([]float32, 0, len(remaining))
	for len(remaining) > 0 {
		if s.config.MaxDetections > 0 && len(keep) >= s.config.MaxDetections {
			break
		}

		best := 0
		for k := 1; k < len(remaining); k++ {
			i, b := remaining[k], remaining[best]
			if scores[i] > scores[b] || (scores[i] == scores[b] && i < b) {
				best = k
			}
		}
		m := remaining[best]
		keep = append(keep, m)
		kept = append(kept, scores[m])
		remaining = append(remaining[:best], remaining[best+1:]...)

		survivors := remaining[:0]
		for _, i := range remaining {
			iou := images.CalculateIoU(candidates[m].Box, candidates[i].Box)
			scores[i] *= s.weight(iou)
			if s.alive(scores[i]) {
				survivors = append(survivors, i)
			}
		}
		remaining = survivors
	}

	return keep, kept
}

// Apply runs Keep and returns the survivors carrying their decayed scores.
func (s *SoftNMS) Apply(candidates []Result) []Result {
	keep, scores := s.Keep(candidates)
	if len(keep) == 0 {
		return nil
	}
	out := make([]Result, len(keep))
	for k, i := range keep {
		out[k] = candidates[i]
		out[k].Score = scores[k]
	}
	return out
}

// ApplyAll suppresses every class of a detection set independently.
func (s *SoftNMS) ApplyAll(dets Detections) Detections {
	out := NewDetections(len(dets))
	for class, cls := range dets {
		out[class] = s.Apply(cls)
	}
	return out
}

// alive reports whether a score stays in the pool. Fully suppressed candidates leave even
// with a zero floor.
func (s *SoftNMS) alive(score float32) bool {
	return score > 0 && score >= s.config.ScoreFloor
}

// weight is the decay factor for an overlap, always within [0, 1].
func (s *SoftNMS) weight(iou float32) float32 {
	switch s.config.Method {
	case NMSLinear:
		if iou > s.config.IoUThreshold {
			return 1 - iou
		}
		return 1
	case NMSGaussian:
		return math32.Exp(-(iou * iou) / s.config.Sigma)
	default:
		if iou > s.config.IoUThreshold {
			return 0
		}
		return 1
	}
}
