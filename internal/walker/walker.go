// Package walker discovers ingestible documents under a directory and
// watches it for changes.
package walker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaxFileSize is the maximum file size to ingest (50 MiB).
const DefaultMaxFileSize int64 = 50 << 20

// FileInfo holds metadata about a single document discovered during traversal.
type FileInfo struct {
	Path        string    // Absolute path on disk.
	RelPath     string    // Slash-separated path relative to the root directory.
	Size        int64     // File size in bytes.
	ModTime     time.Time // Last modification time.
	ContentHash string    // SHA-256 hex digest of the file content.
}

// Skipped records a file that matched the filters but was not returned.
type Skipped struct {
	RelPath string
	Reason  string
}

// Config controls the behaviour of Walk.
type Config struct {
	RootDir     string   // Root directory to walk.
	Include     []string // Glob patterns; only matching files are included.
	Exclude     []string // Glob patterns; matching files are excluded.
	MaxFileSize int64    // Files larger than this are skipped (0 = use default).

	// Supports filters by document format. Nil accepts every file.
	Supports func(path string) bool
}

// Result is the outcome of a traversal.
type Result struct {
	Files   []FileInfo
	Skipped []Skipped
}

// Walk traverses the directory tree rooted at cfg.RootDir and returns every
// supported document that passes filtering. It respects include/exclude
// patterns and honours the root .gitignore file. Files are returned in
// lexical order.
func Walk(cfg Config) (*Result, error) {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("walker: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("walker: %s is not a directory", root)
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	f, err := newFilter(cfg, root)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Skip entries we cannot read instead of aborting.
			return nil
		}

		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if !f.accepts(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{RelPath: relPath, Reason: err.Error()})
			return nil
		}
		if info.Size() > maxSize {
			res.Skipped = append(res.Skipped, Skipped{
				RelPath: relPath,
				Reason:  fmt.Sprintf("file size %d exceeds limit %d", info.Size(), maxSize),
			})
			return nil
		}

		hash, err := HashFile(path)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{RelPath: relPath, Reason: err.Error()})
			return nil
		}

		res.Files = append(res.Files, FileInfo{
			Path:        path,
			RelPath:     relPath,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentHash: hash,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walker: traversal: %w", err)
	}

	return res, nil
}

// HashFile computes the SHA-256 digest of the given file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
