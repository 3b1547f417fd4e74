// Package blob stores uploaded case images and returns the URL they can be
// read back from. Local disk and S3-compatible object storage are supported.
package blob

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const defaultExt = "jpg"

// Store persists image bytes and returns a retrievable URL.
type Store interface {
	Put(ctx context.Context, data []byte, filenameHint string) (string, error)
}

// StorageError is returned by every backend when a write fails.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("blob %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// objectName returns a fresh "<uuid>.<ext>" name, taking ext from hint.
func objectName(hint string) string {
	return uuid.NewString() + "." + extension(hint)
}

// rasterExts are the only extensions a stored object may carry.
var rasterExts = []string{"jpg", "jpeg", "png", "gif", "webp"}

func extension(hint string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filepath.Base(hint)), "."))
	if !slices.Contains(rasterExts, ext) {
		return defaultExt
	}
	return ext
}
