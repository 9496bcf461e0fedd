// Package classifier runs one image through the model and names the result.
package classifier

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/metrics"
	"github.com/Brownie44l1/snapclass/internal/model"
	"github.com/Brownie44l1/snapclass/internal/preprocess"
	"github.com/Brownie44l1/snapclass/internal/selector"
)

// DefaultTopK is how many ranked predictions a Result carries by default.
const DefaultTopK = 5

// Result is the outcome of one classification.
type Result struct {
	Label       string                `json:"class"`
	Index       int                   `json:"index"`
	Confidence  float32               `json:"confidence"`
	Predictions []selector.Prediction `json:"predictions"`
	Scores      []float32             `json:"-"`
	Duration    time.Duration         `json:"-"`
}

// Classifier owns the label set and the model loader.
type Classifier struct {
	loader  model.Loader
	labels  []string
	topK    int
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

func WithTopK(k int) Option                 { return func(c *Classifier) { c.topK = k } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Classifier) { c.metrics = m } }
func WithLogger(l *slog.Logger) Option      { return func(c *Classifier) { c.log = l } }

func New(loader model.Loader, labels []string, opts ...Option) *Classifier {
	c := &Classifier{loader: loader, labels: labels, topK: DefaultTopK}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrModule(c.log, "classifier")
	return c
}

// Labels returns the label set.
func (c *Classifier) Labels() []string { return c.labels }

// Classify resizes and encodes img, runs it through a freshly instantiated
// model handle and selects the top label. The handle is released before
// Classify returns.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil {
		c.metrics.ObserveClassification("no_image", 0)
		return nil, apperr.ErrNoImageAcquired
	}

	start := time.Now()
	res, err := c.run(ctx, img)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveClassification(string(apperr.Classify(err).Category), 0)
		c.log.Error("classification failed", "error", err)
		return nil, err
	}
	res.Duration = elapsed
	c.metrics.ObserveClassification("ok", elapsed)

	c.log.Info("image classified",
		"class", res.Label,
		"index", res.Index,
		"confidence", res.Confidence,
		"duration", elapsed)
	return res, nil
}

func (c *Classifier) run(ctx context.Context, img image.Image) (*Result, error) {
	tensor, err := preprocess.Encode(img, c.loader.Spec())
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	handle, err := c.loader.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrModelUnavailable, err)
	}
	scores, err := process(handle, tensor)
	if err != nil {
		return nil, err
	}

	if len(scores) != len(c.labels) {
		return nil, fmt.Errorf("%d scores for %d labels: %w", len(scores), len(c.labels), apperr.ErrLabelMismatch)
	}

	label, idx, err := selector.SelectTop(scores, c.labels)
	if err != nil {
		return nil, err
	}

	return &Result{
		Label:       label,
		Index:       idx,
		Confidence:  scores[idx],
		Predictions: selector.TopK(scores, c.labels, c.topK),
		Scores:      scores,
	}, nil
}

// process runs one inference and always releases the handle.
func process(h model.Handle, t *model.Tensor) (scores []float32, err error) {
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release model: %w", cerr)
		}
	}()

	scores, err = h.Process(t)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return scores, nil
}
