// Package server wires the relay's HTTP surface into a ServeMux.
package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// Routes configures and returns the ServeMux for this server: the channel
// upgrade path, health check, metrics, and (when a static directory is
// configured) the web application with an SPA fallback.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/", s.handleChat)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	if s.cfg.StaticDir != "" {
		mux.Handle("/", spaHandler(s.cfg.StaticDir))
	} else {
		mux.HandleFunc("/", s.handleHealth)
	}
	return mux
}

// spaHandler serves files from dir, falling back to index.html for any path
// that does not resolve to a file so client-side routes load the application.
func spaHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}
