// Package modeltest provides an in-memory model.Loader for tests.
package modeltest

import (
	"context"
	"errors"
	"sync"

	"github.com/Brownie44l1/snapclass/internal/model"
)

// Loader returns handles that answer every Process call with Scores, or
// with the result of ScoreFunc when set.
type Loader struct {
	InputSpec      model.InputSpec
	Scores         []float32
	ScoreFunc      func(*model.Tensor) []float32
	InstantiateErr error
	ProcessErr     error

	mu        sync.Mutex
	instances int
	released  int
	inputs    []*model.Tensor
}

// New returns a loader for the default input spec answering scores.
func New(scores ...float32) *Loader {
	return &Loader{InputSpec: model.DefaultInputSpec(), Scores: scores}
}

func (l *Loader) Spec() model.InputSpec { return l.InputSpec }

func (l *Loader) Instantiate(ctx context.Context) (model.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.InstantiateErr != nil {
		return nil, l.InstantiateErr
	}
	l.mu.Lock()
	l.instances++
	l.mu.Unlock()
	return &handle{l: l}, nil
}

func (l *Loader) Close() error { return nil }

// Instances is how many handles were instantiated.
func (l *Loader) Instances() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instances
}

// Released is how many handles were closed.
func (l *Loader) Released() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Inputs returns every tensor passed to Process.
func (l *Loader) Inputs() []*model.Tensor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.Tensor(nil), l.inputs...)
}

type handle struct {
	l      *Loader
	closed bool
}

func (h *handle) Process(t *model.Tensor) ([]float32, error) {
	if h.closed {
		return nil, errors.New("handle used after close")
	}
	h.l.mu.Lock()
	h.l.inputs = append(h.l.inputs, t)
	h.l.mu.Unlock()

	if h.l.ProcessErr != nil {
		return nil, h.l.ProcessErr
	}
	if h.l.ScoreFunc != nil {
		return h.l.ScoreFunc(t), nil
	}
	return append([]float32(nil), h.l.Scores...), nil
}

func (h *handle) Close() error {
	if h.closed {
		return errors.New("handle closed twice")
	}
	h.closed = true
	h.l.mu.Lock()
	h.l.released++
	h.l.mu.Unlock()
	return nil
}
