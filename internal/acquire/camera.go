package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Brownie44l1/snapclass/internal/completion"
	"github.com/Brownie44l1/snapclass/internal/logging"
)

// CameraFacility populates the file behind a handle with a JPEG photo and
// resolves true, or resolves false / cancelled when no photo was taken.
type CameraFacility interface {
	Capture(ctx context.Context, target Handle) *completion.Completion[bool]
}

// Camera acquires photos into uniquely named temporary files. It remembers
// the files it created so they can be removed later.
type Camera struct {
	provider *FileProvider
	now      func() time.Time
	log      *slog.Logger

	mu    sync.Mutex
	files []Handle
}

func NewCamera(provider *FileProvider, log *slog.Logger) *Camera {
	return &Camera{
		provider: provider,
		now:      time.Now,
		log:      logging.OrModule(log, "acquire"),
	}
}

// createImageFile makes an empty JPEG_<timestamp>_<random>.jpg in the
// provider root.
func (c *Camera) createImageFile() (string, error) {
	timeStamp := c.now().Format("20060102_150405")
	f, err := os.CreateTemp(c.provider.Root(), "JPEG_"+timeStamp+"_*.jpg")
	if err != nil {
		return "", fmt.Errorf("create capture file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return name, nil
}

// Acquire hands a fresh capture handle to facility and decodes the result.
// Failure and cancellation leave no image and return no error.
func (c *Camera) Acquire(ctx context.Context, facility CameraFacility) (Outcome, error) {
	path, err := c.createImageFile()
	if err != nil {
		return Outcome{}, err
	}
	handle, err := c.provider.Share(path)
	if err != nil {
		os.Remove(path)
		return Outcome{}, err
	}

	c.mu.Lock()
	c.files = append(c.files, handle)
	c.mu.Unlock()

	res, err := facility.Capture(ctx, handle).Wait(ctx)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case res.Err != nil:
		c.log.Warn("camera capture failed", "uri", handle.URI, "error", res.Err)
		return Outcome{Status: StatusFailed}, nil
	case res.Cancelled || !res.Value:
		c.log.Debug("camera capture cancelled", "uri", handle.URI)
		return Outcome{Status: StatusCancelled}, nil
	}

	resolved, ok := c.provider.Resolve(handle.URI)
	if !ok {
		return Outcome{}, fmt.Errorf("capture handle %s was revoked", handle.URI)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return Outcome{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	img, format, err := Decode(f)
	if err != nil {
		return Outcome{}, err
	}

	c.log.Info("photo captured",
		"uri", handle.URI,
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	return Outcome{
		Status: StatusAcquired,
		Image: &Image{
			Image:  img,
			URI:    handle.URI,
			Path:   resolved,
			Format: format,
			Source: SourceCamera,
		},
	}, nil
}

// Cleanup removes every capture file this camera created and revokes their
// handles.
func (c *Camera) Cleanup() error {
	c.mu.Lock()
	files := c.files
	c.files = nil
	c.mu.Unlock()

	var errs []error
	for _, h := range files {
		c.provider.Revoke(h.URI)
		if err := os.Remove(h.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PathPlaceholder is replaced with the capture file path in CommandCamera args.
const PathPlaceholder = "{path}"

// CommandCamera captures by running an external program, for example
// "libcamera-still -o {path}" or "fswebcam --no-banner {path}". A zero exit
// with a non-empty file is success; an empty file counts as cancelled.
type CommandCamera struct {
	Command []string
	Log     *slog.Logger
}

func (c CommandCamera) Capture(ctx context.Context, target Handle) *completion.Completion[bool] {
	done := completion.New[bool]()
	if len(c.Command) == 0 {
		done.Fail(errors.New("no camera command configured"))
		return done
	}

	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, target.Path())
	}
	log := logging.OrModule(c.Log, "camera")

	go func() {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		out, err := cmd.CombinedOutput()
		if ctx.Err() != nil {
			done.Cancel()
			return
		}
		if err != nil {
			log.Warn("camera command failed", "command", args[0], "output", string(out), "error", err)
			done.Fail(fmt.Errorf("camera command: %w", err))
			return
		}

		info, err := os.Stat(target.Path())
		if err != nil || info.Size() == 0 {
			done.Cancel()
			return
		}
		done.Resolve(true)
	}()
	return done
}

// UploadCamera stands in for a device camera whose photo arrives as uploaded
// bytes. Empty Data means the user backed out of the camera.
type UploadCamera struct {
	Data []byte
}

func (c UploadCamera) Capture(_ context.Context, target Handle) *completion.Completion[bool] {
	if len(c.Data) == 0 {
		return completion.Cancelled[bool]()
	}
	f, err := target.Create()
	if err != nil {
		return completion.Failed[bool](err)
	}
	if _, err := f.Write(c.Data); err != nil {
		f.Close()
		return completion.Failed[bool](err)
	}
	if err := f.Close(); err != nil {
		return completion.Failed[bool](err)
	}
	return completion.Resolved(true)
}
