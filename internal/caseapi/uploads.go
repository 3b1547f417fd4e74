package caseapi

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// MountUploads serves files under dir read-only at /uploads/. Directory
// listings are disabled.
func MountUploads(r chi.Router, dir string) {
	fs := http.FileServer(noListFS{http.Dir(dir)})
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", fs))
}

type noListFS struct {
	fs http.FileSystem
}

func (n noListFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
