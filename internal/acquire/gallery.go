package acquire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/snapclass/internal/completion"
	"github.com/Brownie44l1/snapclass/internal/logging"
)

// Selection is the content the user picked in the chooser.
type Selection struct {
	URI  string
	Open func() (io.ReadCloser, error)
}

// Chooser presents content matching accept and resolves with the user's
// selection, or as cancelled.
type Chooser interface {
	Choose(ctx context.Context, accept string) *completion.Completion[Selection]
}

// Gallery acquires images through a Chooser.
type Gallery struct {
	log *slog.Logger
}

func NewGallery(log *slog.Logger) *Gallery {
	return &Gallery{log: logging.OrModule(log, "acquire")}
}

// Acquire runs the chooser and decodes the selection. A cancelled chooser
// yields StatusCancelled and no error.
func (g *Gallery) Acquire(ctx context.Context, chooser Chooser) (Outcome, error) {
	res, err := chooser.Choose(ctx, AcceptImages).Wait(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if res.Err != nil {
		return Outcome{}, fmt.Errorf("image chooser: %w", res.Err)
	}
	if res.Cancelled {
		g.log.Debug("gallery selection cancelled")
		return Outcome{Status: StatusCancelled}, nil
	}

	sel := res.Value
	rc, err := sel.Open()
	if err != nil {
		return Outcome{}, fmt.Errorf("open %s: %w", sel.URI, err)
	}
	defer rc.Close()

	img, format, err := Decode(rc)
	if err != nil {
		return Outcome{}, err
	}

	g.log.Info("image selected",
		"uri", sel.URI,
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())

	return Outcome{
		Status: StatusAcquired,
		Image:  &Image{Image: img, URI: sel.URI, Format: format, Source: SourceGallery},
	}, nil
}

// FileChooser selects a file on disk. An empty Path means the user cancelled.
type FileChooser struct {
	Path string
}

func (c FileChooser) Choose(_ context.Context, _ string) *completion.Completion[Selection] {
	if c.Path == "" {
		return completion.Cancelled[Selection]()
	}
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return completion.Failed[Selection](err)
	}
	if _, err := os.Stat(abs); err != nil {
		return completion.Failed[Selection](err)
	}
	return completion.Resolved(Selection{
		URI: "file://" + filepath.ToSlash(abs),
		Open: func() (io.ReadCloser, error) {
			return os.Open(abs)
		},
	})
}

// UploadChooser selects content a client uploaded. Empty Data means the
// client cancelled.
type UploadChooser struct {
	Name string
	Data []byte
}

func (c UploadChooser) Choose(_ context.Context, _ string) *completion.Completion[Selection] {
	if len(c.Data) == 0 {
		return completion.Cancelled[Selection]()
	}
	return completion.Resolved(Selection{
		URI: "upload://" + c.Name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(c.Data)), nil
		},
	})
}
