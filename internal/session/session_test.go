package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Brownie44l1/snapclass/internal/acquire"
	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/classifier"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/model/modeltest"
	"github.com/Brownie44l1/snapclass/internal/permission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	ctrl     *Controller
	loader   *modeltest.Loader
	provider *acquire.FileProvider
}

func newFixture(t *testing.T, requester permission.Requester) *fixture {
	t.Helper()
	log := logging.Discard()
	provider, err := acquire.NewFileProvider("test.fileprovider", filepath.Join(t.TempDir(), "captures"))
	require.NoError(t, err)

	loader := modeltest.New(0.1, 0.9, 0.3)
	ctrl := NewController("s1", Deps{
		Classifier: classifier.New(loader, []string{"cat", "dog", "bird"}, classifier.WithLogger(log)),
		Gallery:    acquire.NewGallery(log),
		Camera:     acquire.NewCamera(provider, log),
		Requester:  requester,
		Logger:     log,
	})
	t.Cleanup(func() { ctrl.Close() })
	return &fixture{ctrl: ctrl, loader: loader, provider: provider}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestSelectingTwiceKeepsOnlySecond(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})
	ctx := context.Background()

	_, err := f.ctrl.SelectFromGallery(ctx, acquire.UploadChooser{Name: "first.png", Data: pngBytes(t, 10, 10)})
	require.NoError(t, err)
	_, err = f.ctrl.SelectFromGallery(ctx, acquire.UploadChooser{Name: "second.png", Data: pngBytes(t, 20, 12)})
	require.NoError(t, err)

	cur := f.ctrl.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "upload://second.png", cur.URI)
	assert.Equal(t, 20, cur.Width())
}

func TestCancelledSelectionKeepsPriorImage(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})
	ctx := context.Background()

	_, err := f.ctrl.SelectFromGallery(ctx, acquire.UploadChooser{Name: "kept.png", Data: pngBytes(t, 10, 10)})
	require.NoError(t, err)

	out, err := f.ctrl.SelectFromGallery(ctx, acquire.UploadChooser{})
	require.NoError(t, err)
	assert.Equal(t, acquire.StatusCancelled, out.Status)
	assert.Equal(t, "upload://kept.png", f.ctrl.Current().URI)

	out, err = f.ctrl.CapturePhoto(ctx, acquire.UploadCamera{})
	require.NoError(t, err)
	assert.Equal(t, acquire.StatusCancelled, out.Status)
	assert.Equal(t, "upload://kept.png", f.ctrl.Current().URI)
}

func TestDeniedCaptureLeavesImageUnchanged(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: false})
	ctx := context.Background()

	_, err := f.ctrl.SelectFromGallery(ctx, acquire.UploadChooser{Name: "kept.png", Data: pngBytes(t, 10, 10)})
	require.NoError(t, err)

	out, err := f.ctrl.CapturePhoto(ctx, acquire.UploadCamera{Data: jpegBytes(t, 30, 20)})
	require.NoError(t, err)
	assert.Equal(t, acquire.StatusRefused, out.Status)
	assert.Equal(t, permission.Denied, f.ctrl.Permission())
	assert.Equal(t, "upload://kept.png", f.ctrl.Current().URI)

	entries, err := os.ReadDir(f.provider.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "no capture file should be allocated")
}

func TestDeniedCaptureWithNoImage(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: false})

	out, err := f.ctrl.CapturePhoto(context.Background(), acquire.UploadCamera{Data: jpegBytes(t, 30, 20)})
	require.NoError(t, err)
	assert.Equal(t, acquire.StatusRefused, out.Status)
	assert.Nil(t, f.ctrl.Current())
}

func TestGrantedCapture(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})

	out, err := f.ctrl.CapturePhoto(context.Background(), acquire.UploadCamera{Data: jpegBytes(t, 64, 48)})
	require.NoError(t, err)
	require.True(t, out.Acquired())
	assert.Equal(t, permission.Granted, f.ctrl.Permission())

	cur := f.ctrl.Current()
	require.NotNil(t, cur)
	assert.Equal(t, acquire.SourceCamera, cur.Source)
	assert.Equal(t, 64, cur.Width())
	assert.Equal(t, 48, cur.Height())
}

func TestCaptureResumesAfterManualGrant(t *testing.T) {
	manual := permission.NewManual()
	f := newFixture(t, manual)

	type result struct {
		out acquire.Outcome
		err error
	}
	photo := jpegBytes(t, 16, 16)
	done := make(chan result, 1)
	go func() {
		out, err := f.ctrl.CapturePhoto(context.Background(), acquire.UploadCamera{Data: photo})
		done <- result{out, err}
	}()

	require.Eventually(t, f.ctrl.PermissionPending, time.Second, time.Millisecond)
	require.NoError(t, f.ctrl.AnswerPermission(true))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, r.out.Acquired())
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not resume")
	}
	assert.Equal(t, permission.Granted, f.ctrl.Permission())
	assert.NotNil(t, f.ctrl.Current())

	assert.ErrorIs(t, f.ctrl.AnswerPermission(true), ErrNoPendingRequest)
}

func TestResetPermissionAsksAgain(t *testing.T) {
	manual := permission.NewManual()
	f := newFixture(t, manual)
	ctx := context.Background()

	go func() {
		for !manual.Pending() {
			time.Sleep(time.Millisecond)
		}
		manual.Answer(false)
	}()
	out, err := f.ctrl.CapturePhoto(ctx, acquire.UploadCamera{Data: jpegBytes(t, 8, 8)})
	require.NoError(t, err)
	assert.Equal(t, acquire.StatusRefused, out.Status)

	f.ctrl.ResetPermission()
	assert.Equal(t, permission.Unknown, f.ctrl.Permission())

	go func() {
		for !manual.Pending() {
			time.Sleep(time.Millisecond)
		}
		manual.Answer(true)
	}()
	out, err = f.ctrl.CapturePhoto(ctx, acquire.UploadCamera{Data: jpegBytes(t, 8, 8)})
	require.NoError(t, err)
	assert.True(t, out.Acquired())
}

func TestAnswerPermissionNeedsManualRequester(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})
	assert.Error(t, f.ctrl.AnswerPermission(true))
	assert.False(t, f.ctrl.PermissionPending())
}

func TestClassifyRequiresImage(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})

	_, err := f.ctrl.Classify(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNoImageAcquired)
	assert.Zero(t, f.loader.Instances())

	_, err = f.ctrl.SelectFromGallery(context.Background(), acquire.UploadChooser{Name: "x.png", Data: pngBytes(t, 10, 10)})
	require.NoError(t, err)

	res, err := f.ctrl.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dog", res.Label)
	assert.Equal(t, 1, f.loader.Released())
}

func TestPreview(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})

	_, err := f.ctrl.Preview(100)
	assert.ErrorIs(t, err, apperr.ErrNoImageAcquired)

	_, err = f.ctrl.SelectFromGallery(context.Background(), acquire.UploadChooser{Name: "wide.png", Data: pngBytes(t, 400, 200)})
	require.NoError(t, err)

	data, err := f.ctrl.Preview(100)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestCloseRemovesCaptures(t *testing.T) {
	f := newFixture(t, permission.Static{Grant: true})

	_, err := f.ctrl.CapturePhoto(context.Background(), acquire.UploadCamera{Data: jpegBytes(t, 8, 8)})
	require.NoError(t, err)
	entries, err := os.ReadDir(f.provider.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, f.ctrl.Close())
	entries, err = os.ReadDir(f.provider.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Nil(t, f.ctrl.Current())

	_, err = f.ctrl.Classify(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUnknownSession)
	require.NoError(t, f.ctrl.Close())
}

func TestCloseDismissesPendingPermission(t *testing.T) {
	manual := permission.NewManual()
	f := newFixture(t, manual)

	photo := jpegBytes(t, 8, 8)
	done := make(chan acquire.Outcome, 1)
	go func() {
		out, _ := f.ctrl.CapturePhoto(context.Background(), acquire.UploadCamera{Data: photo})
		done <- out
	}()
	require.Eventually(t, manual.Pending, time.Second, time.Millisecond)

	require.NoError(t, f.ctrl.Close())
	select {
	case out := <-done:
		assert.Equal(t, acquire.StatusCancelled, out.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("pending capture never finished")
	}
}
