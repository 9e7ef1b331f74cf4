// Package extract turns supported document files into plain text.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// Extractor reads a file and returns its text content.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	// Extensions lists the lower-case extensions handled, with leading dot.
	Extensions() []string
}

// Registry dispatches extraction by file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry creates a registry holding the given extractors. Later
// extractors win when extensions overlap.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Default returns a registry for every built-in format.
func Default() *Registry {
	return NewRegistry(Text{}, Markdown{}, HTML{}, DOCX{}, PDF{})
}

// Register adds e for each of its extensions.
func (r *Registry) Register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads path with the extractor registered for its extension.
// Unsupported, unreadable and corrupt files are extraction errors.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return "", rag.ExtractionErr(path, fmt.Errorf("%w: %q", rag.ErrUnsupportedFormat, ext))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.Extract(ctx, path)
	if err != nil {
		if rag.IsKind(err, rag.KindExtraction) {
			return "", err
		}
		return "", rag.ExtractionErr(path, err)
	}
	return text, nil
}

// readUTF8 reads a whole file, dropping a byte order mark. Files that are
// not valid UTF-8 are rejected.
func readUTF8(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = trimBOM(data)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8")
	}
	return string(data), nil
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
