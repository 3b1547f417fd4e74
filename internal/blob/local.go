package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const localBackend = "local"

// Local writes images under a directory served at <baseURL>/uploads/.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the upload directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Backend: localBackend, Op: "mkdir", Err: err}
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory images are written to.
func (l *Local) Dir() string { return l.dir }

// Put writes data to a new file and returns its public URL.
func (l *Local) Put(ctx context.Context, data []byte, filenameHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StorageError{Backend: localBackend, Op: "put", Err: err}
	}
	name := objectName(filenameHint)
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil {
		return "", &StorageError{Backend: localBackend, Op: "write", Err: err}
	}
	return fmt.Sprintf("%s/uploads/%s", l.baseURL, name), nil
}
