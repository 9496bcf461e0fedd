package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handle is a shareable reference to a file owned by a FileProvider. The URI
// is what gets handed to collaborators; it reveals nothing about the path.
type Handle struct {
	URI  string
	path string
}

// Path returns the backing file. Only trusted collaborators (local capture
// commands) should use it.
func (h Handle) Path() string { return h.path }

// Create truncates the backing file and opens it for writing.
func (h Handle) Create() (*os.File, error) {
	return os.OpenFile(h.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
}

// FileProvider issues content handles for files under a single root
// directory. Only handles it issued can be resolved.
type FileProvider struct {
	authority string
	root      string

	mu     sync.Mutex
	issued map[string]string
}

// NewFileProvider creates root if needed.
func NewFileProvider(authority, root string) (*FileProvider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &FileProvider{authority: authority, root: abs, issued: make(map[string]string)}, nil
}

// Root is the directory handles point into.
func (p *FileProvider) Root() string { return p.root }

// Share issues a handle for path, which must live under Root.
func (p *FileProvider) Share(path string) (Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Handle{}, err
	}
	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return Handle{}, fmt.Errorf("%s is outside %s", path, p.root)
	}

	uri := fmt.Sprintf("content://%s/captures/%s", p.authority, uuid.NewString())
	p.mu.Lock()
	p.issued[uri] = abs
	p.mu.Unlock()
	return Handle{URI: uri, path: abs}, nil
}

// Resolve returns the file behind an issued handle.
func (p *FileProvider) Resolve(uri string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.issued[uri]
	return path, ok
}

// Revoke forgets a handle.
func (p *FileProvider) Revoke(uri string) {
	p.mu.Lock()
	delete(p.issued, uri)
	p.mu.Unlock()
}
