// Package preprocess turns a decoded image into the input tensor a model
// expects.
package preprocess

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/snapclass/internal/model"
)

// Interpolation is fixed to bilinear. Changing it changes numeric agreement
// with the model's training-time preprocessing.
const Interpolation = resize.Bilinear

// Resize scales img to exactly width x height, ignoring aspect ratio.
func Resize(img image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), img, Interpolation)
}

// Thumbnail scales img so neither side exceeds maxSide, keeping aspect ratio.
func Thumbnail(img image.Image, maxSide int) image.Image {
	return resize.Thumbnail(uint(maxSide), uint(maxSide), img, Interpolation)
}

// Encode resizes img to the spec's dimensions and lays it out as a tensor.
// Uint8 tensors carry 8-bit RGB; Float32 tensors are normalized to [0,1].
// Alpha is dropped.
func Encode(img image.Image, spec model.InputSpec) (*model.Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	resized := Resize(img, spec.Width, spec.Height)
	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width != spec.Width || height != spec.Height {
		return nil, fmt.Errorf("resized to %dx%d, want %dx%d", width, height, spec.Width, spec.Height)
	}

	t := &model.Tensor{Spec: spec}
	plane := width * height
	if spec.DType == model.Uint8 {
		t.Uint8 = make([]uint8, spec.Size())
	} else {
		t.Float32 = make([]float32, spec.Size())
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [3]uint32{r, g, b}

			pixelIndex := y*width + x
			for c := 0; c < 3; c++ {
				var idx int
				if spec.Layout == model.NCHW {
					idx = c*plane + pixelIndex
				} else {
					idx = pixelIndex*3 + c
				}

				if spec.DType == model.Uint8 {
					t.Uint8[idx] = uint8(rgb[c] >> 8)
				} else {
					t.Float32[idx] = float32(rgb[c]) / 65535.0
				}
			}
		}
	}

	return t, nil
}
