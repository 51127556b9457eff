// Package ingest turns source files into documents: it reads text, PDF,
// HTML and spreadsheet files, cuts their text into overlapping chunks and
// adds each chunk to a namespace.
package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/stevemurr/knowledge-vault/store"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// CheckChunking reports whether size and overlap describe a usable window.
func CheckChunking(size, overlap int) error {
	if size < 1 {
		return fmt.Errorf("%w: chunk size must be at least 1, got %d", store.ErrInvalidArgument, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", store.ErrInvalidArgument, size, overlap)
	}
	return nil
}

// Split cuts text into windows of at most size runes, each starting
// size-overlap runes after the previous one. The last window ends at the end
// of text. Windows are trimmed of surrounding whitespace and dropped when
// nothing is left, so the result never holds an empty string.
func Split(text string, size, overlap int) ([]string, error) {
	if err := CheckChunking(size, overlap); err != nil {
		return nil, err
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", store.ErrInvalidArgument)
	}
	runes := []rune(text)
	step := size - overlap
	chunks := []string{}
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
