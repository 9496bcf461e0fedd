// Package labels loads the ordered class label set packaged with the model.
// Line order defines the label index and must stay aligned with the model
// output vector.
package labels

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/snapclass/internal/apperr"
)

// Parse splits text on newlines. Order is preserved and nothing is trimmed,
// skipped or deduplicated, so a trailing newline yields a trailing empty label.
func Parse(text string) []string {
	return strings.Split(text, "\n")
}

// Load reads the label resource name from fsys.
func Load(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open labels %q: %w: %w", name, apperr.ErrResourceMissing, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read labels %q: %w: %w", name, apperr.ErrResourceMissing, err)
	}
	return Parse(string(data)), nil
}

// LoadFile reads labels from a path on disk.
func LoadFile(path string) ([]string, error) {
	return Load(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}
