// Package static serves the front end from a directory on disk.
package static

import (
	"fmt"
	"net/http"
	"os"
)

// Handler serves files under dir. A missing dir disables it without failing startup.
type Handler struct {
	dir string
	fs  http.Handler
}

func New(dir string) (*Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Handler{dir: dir}, nil
		}
		return nil, fmt.Errorf("static dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %s is not a directory", dir)
	}
	return &Handler{dir: dir, fs: http.FileServer(http.Dir(dir))}, nil
}

// Enabled reports whether dir existed at startup.
func (h *Handler) Enabled() bool {
	return h.fs != nil
}

// Register mounts the file server on "GET /", which loses to every more specific route.
func (h *Handler) Register(mux *http.ServeMux) {
	if h.fs == nil {
		return
	}
	mux.Handle("GET /", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.fs.ServeHTTP(w, r)
}
