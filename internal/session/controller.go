// Package session holds the state of one classification screen: the current
// image, the camera permission and the actions a user can trigger on them.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/Brownie44l1/snapclass/internal/acquire"
	"github.com/Brownie44l1/snapclass/internal/apperr"
	"github.com/Brownie44l1/snapclass/internal/classifier"
	"github.com/Brownie44l1/snapclass/internal/logging"
	"github.com/Brownie44l1/snapclass/internal/metrics"
	"github.com/Brownie44l1/snapclass/internal/permission"
	"github.com/Brownie44l1/snapclass/internal/preprocess"
)

// ErrNoPendingRequest is returned by AnswerPermission when nothing is waiting.
var ErrNoPendingRequest = errors.New("no pending permission request")

// Deps are the collaborators a Controller is built from.
type Deps struct {
	Classifier *classifier.Classifier
	Gallery    *acquire.Gallery
	Camera     *acquire.Camera
	Requester  permission.Requester
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Controller serializes user actions. Each action holds mu for its whole
// duration, including waits on system dialogs, so at most one action touches
// the current image at a time.
type Controller struct {
	id         string
	created    time.Time
	classifier *classifier.Classifier
	gallery    *acquire.Gallery
	camera     *acquire.Camera
	requester  permission.Requester
	gate       *permission.Gate
	metrics    *metrics.Metrics
	log        *slog.Logger

	mu      sync.Mutex
	current *acquire.Image
	closed  bool
}

func NewController(id string, d Deps) *Controller {
	log := logging.OrModule(d.Logger, "session").With("session", id)
	c := &Controller{
		id:         id,
		created:    time.Now(),
		classifier: d.Classifier,
		gallery:    d.Gallery,
		camera:     d.Camera,
		requester:  d.Requester,
		metrics:    d.Metrics,
		log:        log,
	}
	if c.gallery == nil {
		c.gallery = acquire.NewGallery(log)
	}
	c.gate = permission.NewGate(permission.Camera, d.Requester, func(_ permission.Capability, s permission.State) {
		c.metrics.ObservePermission(s.String())
	}, log)
	return c
}

func (c *Controller) ID() string { return c.id }

// Current returns the acquired image, or nil before the first acquisition.
func (c *Controller) Current() *acquire.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Permission returns the camera permission state.
func (c *Controller) Permission() permission.State {
	return c.gate.State()
}

// PermissionPending reports whether a manual permission request is open.
func (c *Controller) PermissionPending() bool {
	m, ok := c.requester.(*permission.Manual)
	return ok && m.Pending()
}

// ResetPermission forgets the camera decision so the next capture asks again.
func (c *Controller) ResetPermission() {
	c.gate.Reset()
}

// AnswerPermission delivers the user's decision to a pending manual request.
// It does not take mu: the capture waiting on the answer holds it.
func (c *Controller) AnswerPermission(granted bool) error {
	m, ok := c.requester.(*permission.Manual)
	if !ok {
		return fmt.Errorf("permission requests for this session are not answered manually")
	}
	if !m.Answer(granted) {
		return ErrNoPendingRequest
	}
	return nil
}

// SelectFromGallery replaces the current image with the chooser's selection.
// A cancelled chooser leaves it unchanged.
func (c *Controller) SelectFromGallery(ctx context.Context, chooser acquire.Chooser) (acquire.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return acquire.Outcome{}, apperr.ErrUnknownSession
	}

	out, err := c.gallery.Acquire(ctx, chooser)
	return c.apply(acquire.SourceGallery, out, err)
}

// CapturePhoto checks the camera permission, asking for it if undecided,
// and then captures. A denied permission yields StatusRefused and leaves the
// current image unchanged; a grant resumes the capture in the same call.
func (c *Controller) CapturePhoto(ctx context.Context, facility acquire.CameraFacility) (acquire.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return acquire.Outcome{}, apperr.ErrUnknownSession
	}
	if c.camera == nil {
		return acquire.Outcome{}, errors.New("camera capture is not configured")
	}

	state, err := c.gate.Ensure(ctx)
	if err != nil {
		return acquire.Outcome{}, err
	}
	switch state {
	case permission.Granted:
	case permission.Denied:
		c.log.Info("camera capture refused", "permission", state)
		return c.apply(acquire.SourceCamera, acquire.Outcome{Status: acquire.StatusRefused}, nil)
	default:
		// Prompt dismissed: back to source selection.
		return c.apply(acquire.SourceCamera, acquire.Outcome{Status: acquire.StatusCancelled}, nil)
	}

	out, err := c.camera.Acquire(ctx, facility)
	return c.apply(acquire.SourceCamera, out, err)
}

func (c *Controller) apply(source acquire.Source, out acquire.Outcome, err error) (acquire.Outcome, error) {
	if err != nil {
		c.metrics.ObserveAcquisition(string(source), "error")
		return out, err
	}
	c.metrics.ObserveAcquisition(string(source), string(out.Status))
	if out.Acquired() {
		c.current = out.Image
	}
	return out, nil
}

// Classify runs the current image through the classifier.
func (c *Controller) Classify(ctx context.Context) (*classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, apperr.ErrUnknownSession
	}
	if c.current == nil {
		return nil, apperr.ErrNoImageAcquired
	}
	return c.classifier.Classify(ctx, c.current.Image)
}

// Preview encodes the current image as a JPEG no larger than maxSide on
// either side.
func (c *Controller) Preview(maxSide int) ([]byte, error) {
	c.mu.Lock()
	img := c.current
	c.mu.Unlock()
	if img == nil {
		return nil, apperr.ErrNoImageAcquired
	}

	thumb := img.Image
	if maxSide > 0 {
		thumb = preprocess.Thumbnail(img.Image, maxSide)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Close drops the current image, dismisses open permission prompts and
// removes capture files.
func (c *Controller) Close() error {
	if m, ok := c.requester.(*permission.Manual); ok {
		m.Dismiss()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = nil

	if c.camera != nil {
		if err := c.camera.Cleanup(); err != nil {
			c.log.Warn("capture cleanup failed", "error", err)
			return err
		}
	}
	c.log.Debug("session closed", "age", time.Since(c.created))
	return nil
}
