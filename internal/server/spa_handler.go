package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// SPAMiddleware serves the dashboard build from staticDir for every path the
// control API does not own. Unknown paths fall back to index.html so client
// side routes resolve.
func SPAMiddleware(next http.Handler, staticDir string) http.Handler {
	indexPath := filepath.Join(staticDir, "index.html")
	files := http.FileServer(http.Dir(staticDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Path == "/" {
			http.ServeFile(w, r, indexPath)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			http.ServeFile(w, r, indexPath)
			return
		}

		files.ServeHTTP(w, r)
	})
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") ||
		path == "/healthz" ||
		path == "/metrics"
}
