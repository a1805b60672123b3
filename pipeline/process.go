package pipeline

import (
	"github.com/nvr-ai/go-pseudolabel/annotations"
	"github.com/nvr-ai/go-pseudolabel/inference"
	"github.com/nvr-ai/go-pseudolabel/models/cooccur"
	"github.com/nvr-ai/go-pseudolabel/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ImageStats counts candidates after each stage of one image.
type ImageStats struct {
	Filtered   int
	Suppressed int
	Capped     int
	Visible    int
	Rescored   int
	Dropped    int
	Emitted    int
	Skipped    int
}

// Processor runs the postprocessing chain for one image at a time and appends the result
// to a shared accumulator.
type Processor struct {
	config   Config
	decoder  *postprocess.BoxDecoder
	nms      *postprocess.SoftNMS
	rescorer *cooccur.Rescorer
	labels   cooccur.CategoryMapper
	acc      *annotations.Accumulator
	log      logrus.FieldLogger
}

// NewProcessor wires the stages together.
//
// Arguments:
//   - config: The run configuration.
//   - labels: Maps class indices onto category ids.
//   - matrix: The co-occurrence matrix. Nil disables rescoring.
//   - acc: Receives the emitted records.
//   - log: The logger.
//
// Returns:
//   - *Processor: The processor.
//   - error: An error if the configuration is invalid.
func NewProcessor(
	config Config,
	labels cooccur.CategoryMapper,
	matrix *cooccur.Matrix,
	acc *annotations.Accumulator,
	log logrus.FieldLogger,
) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if labels == nil || acc == nil {
		return nil, errors.New("processor needs a label space and an accumulator")
	}
	nms, err := postprocess.NewSoftNMS(config.NMS)
	if err != nil {
		return nil, err
	}
	p := &Processor{
		config:  config,
		decoder: postprocess.NewBoxDecoder(config.BoxDecoder),
		nms:     nms,
		labels:  labels,
		acc:     acc,
		log:     log,
	}
	if matrix != nil {
		if p.rescorer, err = cooccur.NewRescorer(matrix, config.Rescore); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Process decodes, filters, suppresses, caps, rescores and emits the detections of one image.
//
// Arguments:
//   - out: The detector output of one image.
//
// Returns:
//   - ImageStats: Stage counts.
//   - error: A shape mismatch, unmapped class or missing matrix category. A candidate that
//     cannot form a valid record is skipped with a warning instead.
func (p *Processor) Process(out inference.Output) (ImageStats, error) {
	var stats ImageStats

	decoded, err := p.decoder.Decode(postprocess.BoxInput{
		Rois:   out.Rois,
		Scores: out.Scores,
		Deltas: out.Deltas,
		Height: out.Height,
		Width:  out.Width,
		Scale:  out.Scale,
	})
	if err != nil {
		return stats, errors.Wrapf(err, "decode %s", out.Name)
	}

	dets := postprocess.FilterScores(decoded, p.config.ScoreThreshold)
	stats.Filtered = dets.Count()

	dets = p.nms.ApplyAll(dets)
	stats.Suppressed = dets.Count()

	dets = postprocess.CapDetections(dets, p.config.MaxPerImage)
	stats.Capped = dets.Count()

	dets = postprocess.FilterVisible(dets, p.config.VisibilityThreshold)
	stats.Visible = dets.Count()

	if p.rescorer != nil {
		var summary cooccur.Summary
		dets, summary, err = p.rescorer.Rescore(dets, p.labels)
		if err != nil {
			return stats, errors.Wrapf(err, "rescore %s", out.Name)
		}
		stats.Rescored, stats.Dropped = summary.Rescored, summary.Dropped
	}

	for class, cls := range dets {
		if len(cls) == 0 {
			continue
		}
		categoryID, err := p.labels.CategoryID(class)
		if err != nil {
			return stats, errors.Wrapf(err, "image %s", out.Name)
		}
		for _, r := range cls {
			if _, err := p.acc.Add(out.ImageID, categoryID, r.Box); err != nil {
				if !errors.Is(err, annotations.ErrInvalidRecord) {
					return stats, errors.Wrapf(err, "image %s class %d", out.Name, class)
				}
				p.log.WithError(err).WithFields(logrus.Fields{
					"image_id": out.ImageID,
					"class":    class,
				}).Warn("skipping candidate")
				stats.Skipped++
				continue
			}
			stats.Emitted++
		}
	}

	p.log.WithFields(logrus.Fields{
		"image_id":   out.ImageID,
		"filtered":   stats.Filtered,
		"suppressed": stats.Suppressed,
		"capped":     stats.Capped,
		"visible":    stats.Visible,
		"rescored":   stats.Rescored,
		"dropped":    stats.Dropped,
		"emitted":    stats.Emitted,
		"skipped":    stats.Skipped,
	}).Debug("processed image")

	return stats, nil
}
