package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 200"><rect width="200" height="200" fill="#f5f5f5"/><path d="M40 90h120v10H40zm10 15h10v50H50zm30 0h10v50H80zm30 0h10v50h-10zm30 0h10v50h-10zM40 160h120v10H40zM100 40l60 45H40z" fill="#888"/></svg>`

// StaticFileServer serves bank logo assets from root. Missing files and
// directory requests get a generic placeholder instead of a 404 so logo
// URLs in the bank catalog always render.
func StaticFileServer(root string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Clean against "/" first so "../" cannot escape root.
		name := filepath.Join(root, filepath.Clean("/"+r.URL.Path))

		info, err := os.Stat(name)
		if err != nil || info.IsDir() {
			servePlaceholder(w)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=2592000")
		http.ServeFile(w, r, name)
	})
}

func servePlaceholder(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write([]byte(placeholderSVG))
}
