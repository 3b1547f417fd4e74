package cases

import "net/http"

// imageFormats maps the sniffed content type of an accepted upload to the
// extension it is stored under.
var imageFormats = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// sniffImage reports the storage extension for data. ok is false unless the
// bytes themselves are a JPEG, PNG, GIF or WebP image; the client's filename
// and declared content type are not consulted.
func sniffImage(data []byte) (ext string, ok bool) {
	ext, ok = imageFormats[http.DetectContentType(data)]
	return ext, ok
}
