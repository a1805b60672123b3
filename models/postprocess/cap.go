package postprocess

import "sort"

// CapDetections bounds the number of detections in one image across all classes.
//
// When the total exceeds maxPerImage, the maxPerImage-th largest score becomes a threshold
// and every candidate strictly below it is dropped from its class. Candidates equal to the
// threshold are all retained, so the result may exceed maxPerImage by the number of ties at
// the boundary. A non-positive maxPerImage disables capping.
//
// Arguments:
//   - dets: The suppressed detections of one image.
//   - maxPerImage: The nominal cap.
//
// Returns:
//   - Detections: The capped detections. The input is returned unchanged when no cap applies.
func CapDetections(dets Detections, maxPerImage int) Detections {
	if maxPerImage <= 0 {
		return dets
	}

	scores := dets.Scores()
	if len(scores) <= maxPerImage {
		return dets
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i] > scores[j] })
	threshold := scores[maxPerImage-1]

	out := NewDetections(len(dets))
	for class, cls := range dets {
		for _, r := range cls {
			if r.Score >= threshold {
				out[class] = append(out[class], r)
			}
		}
	}
	return out
}
