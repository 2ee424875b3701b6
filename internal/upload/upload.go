// Package upload implements the upload and delete handlers of spec.md
// §4.6: storing an uploaded file under uploads/, and removing one.
package upload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/badu/evserver/internal/hdr"
	"github.com/badu/evserver/internal/mime"
)

const dirName = "uploads"

// ErrBodyTooLarge is returned when the body exceeds the configured
// client body size limit.
var ErrBodyTooLarge = errors.New("upload: body exceeds client_body_size_limit")

// Result describes the outcome of a successful upload.
type Result struct {
	Filename string
}

// Handle stores body under the uploads directory, deriving the filename
// either from a multipart/form-data part or from the X-Filename header
// (falling back to a timestamped name). now is injected so callers
// control the fallback filename's clock source.
func Handle(headers hdr.Header, body []byte, limit int64, now time.Time) (*Result, error) {
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}

	if err := os.MkdirAll(dirName, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create uploads dir: %w", err)
	}

	contentType := headers.Get("Content-Type")
	var filename string
	var data []byte

	if mime.IsMultipart(contentType) {
		boundary, ok := mime.BoundaryFromContentType(contentType)
		if !ok {
			return nil, mime.ErrNoBoundary
		}
		part, err := mime.ParseFirstFilePart(body, boundary)
		if err != nil {
			return nil, err
		}
		filename = sanitizeFilename(part.Filename)
		data = part.Data
	} else {
		filename = headers.Get("X-Filename")
		if filename == "" {
			filename = fmt.Sprintf("upload-%d.bin", now.UnixMilli())
		}
		filename = sanitizeFilename(filename)
		data = body
	}

	if filename == "" {
		filename = fmt.Sprintf("upload-%d.bin", now.UnixMilli())
	}

	dest := filepath.Join(dirName, filename)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("upload: write %s: %w", dest, err)
	}
	return &Result{Filename: filename}, nil
}

// ErrUnsafePath is returned when a delete target escapes the uploads
// directory or otherwise contains a non-normal path component.
var ErrUnsafePath = errors.New("upload: unsafe delete path")

// Delete removes the file a request path names, after stripping a
// leading "/upload" and confirming the remainder resolves to a path
// inside the uploads directory. The target's type is not checked:
// os.Remove also removes an empty directory.
func Delete(requestPath string) error {
	rel := strings.TrimPrefix(requestPath, "/upload")
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return ErrUnsafePath
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrUnsafePath
		}
	}

	target := filepath.Join(dirName, rel)
	base, err := filepath.Abs(dirName)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(abs, base+string(filepath.Separator)) && abs != base {
		return ErrUnsafePath
	}

	if err := os.Remove(target); err != nil {
		return err
	}
	return nil
}

// sanitizeFilename keeps only [A-Za-z0-9._-], per spec.md §4.6.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
