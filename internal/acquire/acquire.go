// Package acquire obtains a decoded image from one of two sources: a user
// selection from the image chooser, or a fresh photo written by the camera
// into a temporary file.
package acquire

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/snapclass/internal/apperr"
)

// AcceptImages is the MIME filter handed to choosers.
const AcceptImages = "image/*"

// MaxImageBytes bounds how much content is read for a single image.
const MaxImageBytes = 32 << 20

// Source names where an image came from.
type Source string

const (
	SourceGallery Source = "gallery"
	SourceCamera  Source = "camera"
)

// Image is a decoded raster together with the handle it was read from.
type Image struct {
	Image  image.Image
	URI    string
	Path   string
	Format string
	Source Source
}

// Width and Height report the decoded pixel dimensions.
func (i *Image) Width() int  { return i.Image.Bounds().Dx() }
func (i *Image) Height() int { return i.Image.Bounds().Dy() }

// Status is the outcome of an acquisition attempt.
type Status string

const (
	StatusAcquired  Status = "acquired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusRefused   Status = "refused"
)

// Outcome carries the acquired image when Status is StatusAcquired. Every
// other status means the caller's state must be left untouched.
type Outcome struct {
	Status Status
	Image  *Image
}

// Acquired reports whether the outcome carries a new image.
func (o Outcome) Acquired() bool {
	return o.Status == StatusAcquired && o.Image != nil
}

// Decode reads up to MaxImageBytes from r, checks that the content sniffs as
// an image and decodes it.
func Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes: %w", MaxImageBytes, apperr.ErrUnsupportedImage)
	}

	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		return nil, "", fmt.Errorf("content type %q: %w", ct, apperr.ErrUnsupportedImage)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w: %w", apperr.ErrUnsupportedImage, err)
	}
	return img, format, nil
}
