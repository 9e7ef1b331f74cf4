// Package chunker splits cleaned document text into overlapping,
// fixed-size windows.
package chunker

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of characters shared by
// consecutive chunks.
const DefaultChunkOverlap = 200

// Chunker holds a validated window configuration. It is safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// Piece is one chunk together with its rune offsets in the cleaned text.
type Piece struct {
	Index int
	Start int
	End   int
	Text  string
}

// New validates the window configuration. An overlap that is not smaller than
// the size would never advance the window, so it is rejected up front.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, rag.ConfigError("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, rag.ConfigError("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, rag.ConfigError("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window length in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cleans text and cuts it into windows of at most Size characters,
// each starting Size-Overlap characters after the previous one. Windows that
// are empty after trimming are dropped without consuming an index.
func (c *Chunker) Split(text string) []Piece {
	runes := []rune(Clean(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := c.size - c.overlap
	pieces := make([]Piece, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := min(start+c.size, n)

		piece := Clean(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, Piece{
				Index: len(pieces),
				Start: start,
				End:   end,
				Text:  piece,
			})
		}

		if end >= n {
			break
		}
	}
	return pieces
}

// Chunk is Split without offsets.
func (c *Chunker) Chunk(text string) []string {
	pieces := c.Split(text)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.Text
	}
	return out
}

// Clean normalises text to NFC, drops control and other non-printable
// characters, collapses whitespace runs into a single space and trims the
// result. Punctuation and symbols are kept.
func Clean(text string) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case !unicode.IsPrint(r):
			continue
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
