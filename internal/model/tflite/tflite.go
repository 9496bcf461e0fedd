// Package tflite runs classification models through the TensorFlow Lite C API.
package tflite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/tphakala/go-tflite"

	"github.com/Brownie44l1/snapclass/internal/model"
)

// Options configures the TFLite backend.
type Options struct {
	ModelPath string
	// Threads is the interpreter thread count; 0 uses all CPUs.
	Threads int
	Logger  *slog.Logger
}

// Loader owns the loaded flatbuffer model. Interpreters are created per
// inference and deleted with their handle.
type Loader struct {
	model   *tflite.Model
	threads int
	spec    model.InputSpec
	outputs int
	log     *slog.Logger
}

// New loads the model file and probes its input and output tensors.
func New(opts Options) (*Loader, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	m := tflite.NewModelFromFile(opts.ModelPath)
	if m == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model from %s", opts.ModelPath)
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	l := &Loader{model: m, threads: threads, log: log}

	interp, options, err := l.newInterpreter()
	if err != nil {
		m.Delete()
		return nil, err
	}
	defer options.Delete()
	defer interp.Delete()

	spec, err := inputSpec(interp.GetInputTensor(0))
	if err != nil {
		m.Delete()
		return nil, err
	}
	out := interp.GetOutputTensor(0)
	if out == nil {
		m.Delete()
		return nil, errors.New("model has no output tensor")
	}
	l.spec = spec
	l.outputs = out.Dim(out.NumDims() - 1)

	log.Info("tflite model loaded",
		"path", opts.ModelPath,
		"input", fmt.Sprintf("%dx%dx%d", spec.Width, spec.Height, spec.Channels),
		"dtype", spec.DType,
		"classes", l.outputs,
		"threads", threads)

	return l, nil
}

func (l *Loader) newInterpreter() (*tflite.Interpreter, *tflite.InterpreterOptions, error) {
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(l.threads)
	options.SetErrorReporter(func(msg string, _ any) {
		l.log.Warn("tflite", "message", msg)
	}, nil)

	interp := tflite.NewInterpreter(l.model, options)
	if interp == nil {
		options.Delete()
		return nil, nil, errors.New("cannot create interpreter")
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		options.Delete()
		return nil, nil, fmt.Errorf("tensor allocation failed: %v", status)
	}
	return interp, options, nil
}

func inputSpec(t *tflite.Tensor) (model.InputSpec, error) {
	if t == nil {
		return model.InputSpec{}, errors.New("model has no input tensor")
	}
	if t.NumDims() != 4 {
		return model.InputSpec{}, fmt.Errorf("input tensor has %d dimensions, want 4", t.NumDims())
	}

	spec := model.InputSpec{
		Height:   t.Dim(1),
		Width:    t.Dim(2),
		Channels: t.Dim(3),
		Layout:   model.NHWC,
	}
	switch t.Type() {
	case tflite.UInt8:
		spec.DType = model.Uint8
	case tflite.Float32:
		spec.DType = model.Float32
	default:
		return model.InputSpec{}, fmt.Errorf("unsupported input tensor type %v", t.Type())
	}
	return spec, spec.Validate()
}

// Spec returns the model input contract.
func (l *Loader) Spec() model.InputSpec { return l.spec }

// Instantiate creates and allocates a fresh interpreter.
func (l *Loader) Instantiate(ctx context.Context) (model.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interp, options, err := l.newInterpreter()
	if err != nil {
		return nil, err
	}
	return &handle{interp: interp, options: options, spec: l.spec}, nil
}

// Close releases the model.
func (l *Loader) Close() error {
	if l.model != nil {
		l.model.Delete()
		l.model = nil
	}
	return nil
}

type handle struct {
	interp  *tflite.Interpreter
	options *tflite.InterpreterOptions
	spec    model.InputSpec
}

func (h *handle) Process(input *model.Tensor) ([]float32, error) {
	if input.Len() != h.spec.Size() {
		return nil, fmt.Errorf("expected %d values, got %d", h.spec.Size(), input.Len())
	}

	if err := writeInput(h.interp.GetInputTensor(0), h.spec.DType, input); err != nil {
		return nil, err
	}
	if status := h.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}
	return readOutput(h.interp.GetOutputTensor(0))
}

func writeInput(in *tflite.Tensor, dtype model.DType, input *model.Tensor) error {
	if in == nil {
		return errors.New("model has no input tensor")
	}
	switch dtype {
	case model.Uint8:
		copy(in.UInt8s(), input.Uint8)
	default:
		copy(in.Float32s(), input.Float32)
	}
	return nil
}

// readOutput returns the scores as float32. Quantized output is not
// dequantized.
func readOutput(out *tflite.Tensor) ([]float32, error) {
	if out == nil {
		return nil, errors.New("model has no output tensor")
	}
	switch out.Type() {
	case tflite.UInt8:
		raw := out.UInt8s()
		scores := make([]float32, len(raw))
		for i, v := range raw {
			scores[i] = float32(v)
		}
		return scores, nil
	case tflite.Float32:
		raw := out.Float32s()
		scores := make([]float32, len(raw))
		copy(scores, raw)
		return scores, nil
	default:
		return nil, fmt.Errorf("unsupported output tensor type %v", out.Type())
	}
}

func (h *handle) Close() error {
	if h.interp != nil {
		h.interp.Delete()
		h.interp = nil
	}
	if h.options != nil {
		h.options.Delete()
		h.options = nil
	}
	return nil
}
