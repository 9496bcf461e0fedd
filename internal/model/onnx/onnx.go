// Package onnx runs classification models through onnxruntime.
package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/snapclass/internal/model"
)

// Options configures the ONNX backend.
type Options struct {
	ModelPath    string
	MetadataPath string
	// SharedLibraryPath points at the onnxruntime library. When empty the
	// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable is used.
	SharedLibraryPath string
	Logger            *slog.Logger
}

// Loader keeps the model bytes and metadata; every Instantiate builds a
// fresh session bound to its own tensors.
type Loader struct {
	data     []byte
	metadata model.Metadata
	spec     model.InputSpec
	log      *slog.Logger
}

// New initializes the onnxruntime environment and reads the model.
func New(opts Options) (*Loader, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	meta := model.DefaultMetadata()
	if opts.MetadataPath != "" {
		var err error
		if meta, err = model.LoadMetadata(opts.MetadataPath); err != nil {
			return nil, err
		}
	}
	spec, err := meta.Spec()
	if err != nil {
		return nil, fmt.Errorf("invalid model metadata: %w", err)
	}

	data, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	} else if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	log.Info("onnx model loaded",
		"path", opts.ModelPath,
		"input_shape", meta.InputShape,
		"output_shape", meta.OutputShape,
		"dtype", spec.DType)

	return &Loader{data: data, metadata: meta, spec: spec, log: log}, nil
}

// Spec returns the model input contract.
func (l *Loader) Spec() model.InputSpec { return l.spec }

// Instantiate creates the input and output tensors and a session over them.
func (l *Loader) Instantiate(ctx context.Context) (model.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := &handle{spec: l.spec}
	var input ort.ArbitraryTensor
	switch l.spec.DType {
	case model.Uint8:
		t, err := ort.NewEmptyTensor[uint8](ort.NewShape(l.spec.Shape()...))
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		h.inUint8, input = t, t
	default:
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(l.spec.Shape()...))
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		h.inFloat32, input = t, t
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(l.metadata.OutputShape...))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	h.output = output

	session, err := ort.NewAdvancedSessionWithONNXData(l.data,
		[]string{l.metadata.InputName}, []string{l.metadata.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	h.session = session

	return h, nil
}

// Close tears down the onnxruntime environment.
func (l *Loader) Close() error {
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

type handle struct {
	spec      model.InputSpec
	session   *ort.AdvancedSession
	inUint8   *ort.Tensor[uint8]
	inFloat32 *ort.Tensor[float32]
	output    *ort.Tensor[float32]
}

func (h *handle) Process(input *model.Tensor) ([]float32, error) {
	if input.Len() != h.spec.Size() {
		return nil, fmt.Errorf("expected %d values, got %d", h.spec.Size(), input.Len())
	}

	if h.inUint8 != nil {
		copy(h.inUint8.GetData(), input.Uint8)
	} else {
		copy(h.inFloat32.GetData(), input.Float32)
	}

	if err := h.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := h.output.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (h *handle) Close() error {
	if h.session != nil {
		h.session.Destroy()
		h.session = nil
	}
	if h.inUint8 != nil {
		h.inUint8.Destroy()
		h.inUint8 = nil
	}
	if h.inFloat32 != nil {
		h.inFloat32.Destroy()
		h.inFloat32 = nil
	}
	if h.output != nil {
		h.output.Destroy()
		h.output = nil
	}
	return nil
}
