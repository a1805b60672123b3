package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/nvr-ai/go-pseudolabel/inference"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source yields batches of frames. Next returns io.EOF when there are no more.
type Source interface {
	Next(ctx context.Context) ([]inference.Frame, error)
}

// RunStats summarizes a run.
type RunStats struct {
	Batches int
	Images  int
	Emitted int
	Data    time.Duration
	Net     time.Duration
	Post    time.Duration
}

// batch is one predicted batch on its way from the producer to the consumer.
type batch struct {
	outputs []inference.Output
	data    time.Duration
	net     time.Duration
}

// Runner drives a Source and a Predictor one batch ahead of the Processor.
type Runner struct {
	source    Source
	predictor inference.Predictor
	processor *Processor
	log       logrus.FieldLogger
}

// NewRunner creates a runner.
func NewRunner(source Source, predictor inference.Predictor, processor *Processor, log logrus.FieldLogger) *Runner {
	return &Runner{source: source, predictor: predictor, processor: processor, log: log}
}

// Run processes every batch of the source. A producer goroutine reads and predicts the next
// batch while the current one is postprocessed; images are still processed strictly in
// source order. The first error from either side cancels the other.
//
// Arguments:
//   - ctx: Cancels the run.
//
// Returns:
//   - RunStats: What was processed before the run ended.
//   - error: The first error, or nil when the source was exhausted.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan batch, 1)

	g.Go(func() error {
		defer close(batches)
		for {
			start := time.Now()
			frames, err := r.source.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "read batch")
			}
			loaded := time.Now()

			outputs, err := r.predictor.Predict(ctx, frames)
			if err != nil {
				return errors.Wrap(err, "predict batch")
			}
			if len(outputs) != len(frames) {
				return errors.Errorf("predictor returned %d outputs for %d frames", len(outputs), len(frames))
			}

			select {
			case batches <- batch{outputs: outputs, data: loaded.Sub(start), net: time.Since(loaded)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for b := range batches {
			start := time.Now()
			for _, out := range b.outputs {
				s, err := r.processor.Process(out)
				if err != nil {
					return err
				}
				stats.Emitted += s.Emitted
			}
			stats.Batches++
			stats.Images += len(b.outputs)
			stats.Data += b.data
			stats.Net += b.net
			stats.Post += time.Since(start)

			r.log.WithFields(logrus.Fields{
				"images":  stats.Images,
				"emitted": stats.Emitted,
				"data":    perImage(stats.Data, stats.Images),
				"net":     perImage(stats.Net, stats.Images),
				"post":    perImage(stats.Post, stats.Images),
			}).Info("batch done")
		}
		return nil
	})

	err := g.Wait()
	return stats, err
}

// perImage is the average seconds per image, rounded for logging.
func perImage(d time.Duration, images int) string {
	if images == 0 {
		return "0s"
	}
	return (d / time.Duration(images)).Round(100 * time.Microsecond).String()
}
