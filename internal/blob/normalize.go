package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/linnemanlabs/go-core/log"
)

const jpegQuality = 85

// ErrUnsupportedFormat is returned when an image cannot be re-encoded in its
// own format.
var ErrUnsupportedFormat = errors.New("blob: unsupported image format")

// Normalize shrinks data when it exceeds maxBytes by scaling both sides by
// sqrt(maxBytes/len(data)) and re-encoding in the original format. One pass,
// the result is not re-checked. On any error the original bytes are returned
// together with the error.
func Normalize(data []byte, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 || int64(len(data)) <= maxBytes {
		return data, nil
	}

	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, fmt.Errorf("detect format: %w", err)
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return data, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, fmt.Errorf("decode: %w", err)
	}

	factor := math.Sqrt(float64(maxBytes) / float64(len(data)))
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*factor))
	h := max(1, int(float64(b.Dy())*factor))
	resized := imaging.Resize(img, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return data, fmt.Errorf("encode %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Normalizing wraps a Store and applies Normalize before every write.
type Normalizing struct {
	next     Store
	maxBytes int64
	logger   log.Logger
}

// NewNormalizing returns a Store that shrinks images above maxBytes.
func NewNormalizing(next Store, maxBytes int64, logger log.Logger) *Normalizing {
	if logger == nil {
		logger = log.Nop()
	}
	return &Normalizing{next: next, maxBytes: maxBytes, logger: logger}
}

// Put normalizes data and delegates to the wrapped store.
func (n *Normalizing) Put(ctx context.Context, data []byte, filenameHint string) (string, error) {
	out, err := Normalize(data, n.maxBytes)
	if err != nil {
		n.logger.Warn(ctx, "image resize failed, storing original", "error", err, "bytes", len(data))
	} else if len(out) != len(data) {
		n.logger.Info(ctx, "image resized", "from_bytes", len(data), "to_bytes", len(out))
	}
	return n.next.Put(ctx, out, filenameHint)
}
