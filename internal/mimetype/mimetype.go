// Package mimetype is the thin, out-of-core-scope collaborator spec.md
// §1 calls "MIME-type mapping from extensions": a static extension table
// with a safe fallback.
package mimetype

import (
	"path/filepath"
	"strings"
)

var byExt = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".txt":  "text/plain",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

const fallback = "application/octet-stream"

// ForPath returns the Content-Type for path's extension, or the
// application/octet-stream fallback if the extension is unknown.
func ForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := byExt[ext]; ok {
		return ct
	}
	return fallback
}
