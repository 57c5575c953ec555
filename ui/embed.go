// Package ui provides the embedded fleet dashboard.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

// dist holds the static dashboard assets.
//
//go:embed dist/*
var dist embed.FS

// Handler returns an http.Handler that serves the embedded dashboard.
// Unknown non-asset paths fall back to index.html.
func Handler() http.Handler {
	fsys, err := fs.Sub(dist, "dist")
	if err != nil {
		panic("failed to get dist subdirectory: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filePath := strings.TrimPrefix(r.URL.Path, "/")
		if filePath == "" {
			filePath = "index.html"
		}

		if _, err := fs.Stat(fsys, filePath); err == nil {
			fileServer.ServeHTTP(w, r)
			return
		}

		if !isAssetPath(r.URL.Path) {
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}

		http.NotFound(w, r)
	})
}

// isAssetPath returns true if the path appears to be a static asset.
func isAssetPath(path string) bool {
	for _, ext := range []string{".js", ".css", ".json", ".map", ".png", ".svg", ".ico"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Available returns true if the embedded UI is available (has files).
func Available() bool {
	entries, err := dist.ReadDir("dist")
	if err != nil {
		return false
	}
	return len(entries) > 0
}
