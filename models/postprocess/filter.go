package postprocess

// FilterClass selects the candidates of one class whose score is strictly above threshold.
// Boxes are not modified and the original proposal order is preserved.
//
// Arguments:
//   - decoded: The BoxDecoder output for one image.
//   - class: The class index to select.
//   - threshold: The minimum score, exclusive.
//
// Returns:
//   - []Result: The candidates of the class, possibly empty.
func FilterClass(decoded *Decoded, class int, threshold float32) []Result {
	var out []Result
	for i, row := range decoded.Scores {
		if row[class] > threshold {
			out = append(out, Result{
				Box:   decoded.Boxes[i][class],
				Score: row[class],
				Class: class,
			})
		}
	}
	return out
}

// FilterScores runs FilterClass for every class except background.
func FilterScores(decoded *Decoded, threshold float32) Detections {
	dets := NewDetections(decoded.NumClasses)
	for class := BackgroundClass + 1; class < decoded.NumClasses; class++ {
		dets[class] = FilterClass(decoded, class, threshold)
	}
	return dets
}

// FilterVisible keeps candidates scoring at or above threshold. Unlike FilterScores the
// bound is inclusive, matching the emission rule for annotations.
func FilterVisible(dets Detections, threshold float32) Detections {
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
