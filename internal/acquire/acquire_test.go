package acquire

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/completion"
	"github.com/Brownie44l1/snapclass/internal/logging"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newCamera(t *testing.T) (*Camera, *FileProvider) {
	t.Helper()
	p, err := NewFileProvider("com.example.snapclass.fileprovider", filepath.Join(t.TempDir(), "captures"))
	require.NoError(t, err)
	return NewCamera(p, logging.Discard()), p
}

func TestDecodeRejectsNonImage(t *testing.T) {
	_, _, err := Decode(strings.NewReader("hello, this is plainly text"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedImage)
}

func TestGalleryUpload(t *testing.T) {
	g := NewGallery(logging.Discard())
	out, err := g.Acquire(context.Background(), UploadChooser{Name: "cat.png", Data: encodePNG(t, testImage(40, 30))})
	require.NoError(t, err)
	require.True(t, out.Acquired())
	assert.Equal(t, "upload://cat.png", out.Image.URI)
	assert.Equal(t, "png", out.Image.Format)
	assert.Equal(t, SourceGallery, out.Image.Source)
	assert.Equal(t, 40, out.Image.Width())
	assert.Equal(t, 30, out.Image.Height())
}

func TestGalleryCancelledIsNoop(t *testing.T) {
	g := NewGallery(logging.Discard())

	out, err := g.Acquire(context.Background(), UploadChooser{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Nil(t, out.Image)

	out, err = g.Acquire(context.Background(), FileChooser{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
}

func TestGalleryFileChooser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dog.jpg")
	require.NoError(t, os.WriteFile(path, encodeJPEG(t, testImage(64, 48)), 0o600))

	out, err := NewGallery(logging.Discard()).Acquire(context.Background(), FileChooser{Path: path})
	require.NoError(t, err)
	require.True(t, out.Acquired())
	assert.Equal(t, "jpeg", out.Image.Format)
	assert.True(t, strings.HasPrefix(out.Image.URI, "file://"))
	assert.Equal(t, 64, out.Image.Width())

	_, err = NewGallery(logging.Discard()).Acquire(context.Background(), FileChooser{Path: filepath.Join(t.TempDir(), "nope.jpg")})
	assert.Error(t, err)
}

func TestGalleryRejectsNonImageSelection(t *testing.T) {
	_, err := NewGallery(logging.Discard()).Acquire(context.Background(), UploadChooser{Name: "notes.txt", Data: []byte("just some text")})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedImage)
}

func TestFileProviderShare(t *testing.T) {
	p, err := NewFileProvider("auth", t.TempDir())
	require.NoError(t, err)

	h, err := p.Share(filepath.Join(p.Root(), "a.jpg"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h.URI, "content://auth/captures/"))
	assert.NotContains(t, h.URI, "a.jpg")

	path, ok := p.Resolve(h.URI)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(p.Root(), "a.jpg"), path)

	p.Revoke(h.URI)
	_, ok = p.Resolve(h.URI)
	assert.False(t, ok)

	_, ok = p.Resolve("content://auth/captures/forged")
	assert.False(t, ok)

	_, err = p.Share(filepath.Join(t.TempDir(), "elsewhere.jpg"))
	assert.Error(t, err)
}

func TestCameraRoundTrip(t *testing.T) {
	cam, p := newCamera(t)
	cam.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }

	original := testImage(120, 90)
	out, err := cam.Acquire(context.Background(), UploadCamera{Data: encodeJPEG(t, original)})
	require.NoError(t, err)
	require.True(t, out.Acquired())

	assert.Equal(t, original.Bounds().Dx(), out.Image.Width())
	assert.Equal(t, original.Bounds().Dy(), out.Image.Height())
	assert.Equal(t, SourceCamera, out.Image.Source)
	assert.True(t, strings.HasPrefix(filepath.Base(out.Image.Path), "JPEG_20240309_140507_"))
	assert.True(t, strings.HasSuffix(out.Image.Path, ".jpg"))

	resolved, ok := p.Resolve(out.Image.URI)
	require.True(t, ok)
	assert.Equal(t, out.Image.Path, resolved)
}

func TestCameraFileNamesAreUnique(t *testing.T) {
	cam, _ := newCamera(t)
	frozen := time.Now()
	cam.now = func() time.Time { return frozen }

	a, err := cam.Acquire(context.Background(), UploadCamera{Data: encodeJPEG(t, testImage(8, 8))})
	require.NoError(t, err)
	b, err := cam.Acquire(context.Background(), UploadCamera{Data: encodeJPEG(t, testImage(8, 8))})
	require.NoError(t, err)

	assert.NotEqual(t, a.Image.Path, b.Image.Path)
	assert.NotEqual(t, a.Image.URI, b.Image.URI)
}

type facilityFunc func(ctx context.Context, h Handle) *completion.Completion[bool]

func (f facilityFunc) Capture(ctx context.Context, h Handle) *completion.Completion[bool] {
	return f(ctx, h)
}

func TestCameraCancelAndFailure(t *testing.T) {
	cam, _ := newCamera(t)

	out, err := cam.Acquire(context.Background(), UploadCamera{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Nil(t, out.Image)

	out, err = cam.Acquire(context.Background(), facilityFunc(func(context.Context, Handle) *completion.Completion[bool] {
		return completion.Resolved(false)
	}))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)

	out, err = cam.Acquire(context.Background(), facilityFunc(func(context.Context, Handle) *completion.Completion[bool] {
		return completion.Failed[bool](errors.New("lens cap"))
	}))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Nil(t, out.Image)
}

func TestCameraContextCancelled(t *testing.T) {
	cam, _ := newCamera(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	pending := completion.New[bool]()
	_, err := cam.Acquire(ctx, facilityFunc(func(context.Context, Handle) *completion.Completion[bool] {
		return pending
	}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCameraCleanup(t *testing.T) {
	cam, p := newCamera(t)

	out, err := cam.Acquire(context.Background(), UploadCamera{Data: encodeJPEG(t, testImage(8, 8))})
	require.NoError(t, err)
	_, err = cam.Acquire(context.Background(), UploadCamera{})
	require.NoError(t, err)

	entries, err := os.ReadDir(p.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, cam.Cleanup())

	entries, err = os.ReadDir(p.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, ok := p.Resolve(out.Image.URI)
	assert.False(t, ok)
}

func TestCommandCamera(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	src := filepath.Join(t.TempDir(), "shot.jpg")
	require.NoError(t, os.WriteFile(src, encodeJPEG(t, testImage(32, 24)), 0o600))

	cam, _ := newCamera(t)
	out, err := cam.Acquire(context.Background(), CommandCamera{
		Command: []string{"cp", src, PathPlaceholder},
		Log:     logging.Discard(),
	})
	require.NoError(t, err)
	require.True(t, out.Acquired())
	assert.Equal(t, 32, out.Image.Width())
	assert.Equal(t, 24, out.Image.Height())
}

func TestCommandCameraOutcomes(t *testing.T) {
	for _, bin := range []string{"true", "false"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
	cam, _ := newCamera(t)

	// Exits cleanly without writing a photo.
	out, err := cam.Acquire(context.Background(), CommandCamera{Command: []string{"true"}, Log: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)

	out, err = cam.Acquire(context.Background(), CommandCamera{Command: []string{"false"}, Log: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)

	out, err = cam.Acquire(context.Background(), CommandCamera{Log: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
}
