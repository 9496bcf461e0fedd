// Package model describes the opaque classification model: how it is
// instantiated, what input tensor it expects and how it is released.
package model

import (
	"context"
	"fmt"
)

// Layout is the order of tensor dimensions.
type Layout string

const (
	NHWC Layout = "NHWC"
	NCHW Layout = "NCHW"
)

// DType is the element type of the input tensor.
type DType string

const (
	Uint8   DType = "uint8"
	Float32 DType = "float32"
)

// InputSpec is the fixed input contract of a model.
type InputSpec struct {
	Width    int
	Height   int
	Channels int
	Layout   Layout
	DType    DType
}

// DefaultInputSpec is the contract of the bundled quantized MobileNet v1:
// [1, 224, 224, 3], unsigned 8-bit per channel.
func DefaultInputSpec() InputSpec {
	return InputSpec{Width: 224, Height: 224, Channels: 3, Layout: NHWC, DType: Uint8}
}

// Shape returns the batch-of-one tensor shape for the spec.
func (s InputSpec) Shape() []int64 {
	if s.Layout == NCHW {
		return []int64{1, int64(s.Channels), int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Size is the number of elements in the input tensor.
func (s InputSpec) Size() int {
	return s.Width * s.Height * s.Channels
}

// Validate checks that the spec describes a usable image tensor.
func (s InputSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid input size %dx%d", s.Width, s.Height)
	}
	if s.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d, want 3", s.Channels)
	}
	if s.Layout != NHWC && s.Layout != NCHW {
		return fmt.Errorf("unsupported layout %q", s.Layout)
	}
	if s.DType != Uint8 && s.DType != Float32 {
		return fmt.Errorf("unsupported dtype %q", s.DType)
	}
	return nil
}

// Tensor is an encoded model input. Exactly one of Uint8 or Float32 is set,
// according to Spec.DType.
type Tensor struct {
	Spec    InputSpec
	Uint8   []uint8
	Float32 []float32
}

// Len returns the number of encoded elements.
func (t *Tensor) Len() int {
	if t.Spec.DType == Float32 {
		return len(t.Float32)
	}
	return len(t.Uint8)
}

// Loader instantiates model handles. A Loader lives for the whole process;
// handles are scoped to a single inference.
type Loader interface {
	Instantiate(ctx context.Context) (Handle, error)
	Spec() InputSpec
	Close() error
}

// Handle is one instantiated model. Process runs inference synchronously and
// returns one score per label. Close releases the handle's resources.
type Handle interface {
	Process(input *Tensor) ([]float32, error)
	Close() error
}
