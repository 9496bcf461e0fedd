package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes a model file whose runtime cannot report its own
// tensor contract (the ONNX backend reads it from a JSON sidecar).
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
	Layout      Layout  `json:"layout"`
	DType       DType   `json:"dtype"`
}

// DefaultMetadata matches the bundled quantized MobileNet with 1001 classes.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 224, 224, 3},
		OutputShape: []int64{1, 1001},
		ImageSize:   224,
		Layout:      NHWC,
		DType:       Uint8,
	}
}

// LoadMetadata reads a metadata JSON file. Missing fields keep the defaults.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()

	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// Spec derives the input contract from the declared input shape.
func (m Metadata) Spec() (InputSpec, error) {
	if len(m.InputShape) != 4 {
		return InputSpec{}, fmt.Errorf("input shape %v: want 4 dimensions", m.InputShape)
	}

	spec := InputSpec{Layout: m.Layout, DType: m.DType}
	if spec.Layout == "" {
		spec.Layout = NHWC
	}
	if spec.DType == "" {
		spec.DType = Float32
	}

	if spec.Layout == NCHW {
		spec.Channels = int(m.InputShape[1])
		spec.Height = int(m.InputShape[2])
		spec.Width = int(m.InputShape[3])
	} else {
		spec.Height = int(m.InputShape[1])
		spec.Width = int(m.InputShape[2])
		spec.Channels = int(m.InputShape[3])
	}

	if m.ImageSize > 0 && (spec.Width != m.ImageSize || spec.Height != m.ImageSize) {
		return InputSpec{}, fmt.Errorf("image_size %d disagrees with input shape %v", m.ImageSize, m.InputShape)
	}
	return spec, spec.Validate()
}

// OutputSize is the number of scores the model produces.
func (m Metadata) OutputSize() int {
	if len(m.OutputShape) == 0 {
		return 0
	}
	n := 1
	for _, d := range m.OutputShape {
		n *= int(d)
	}
	return n
}
