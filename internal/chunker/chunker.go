// Package chunker splits extracted document text into overlapping,
// bounded-size segments with positional metadata. Chunks are the unit of
// embedding and retrieval: each carries its ordinal, character range, and
// the page span it was cut from so answers can cite page numbers.
package chunker

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/docqa-go/internal/loader"
)

// ErrInvalidConfig is returned (wrapped) when chunk_overlap >= chunk_size
// or chunk_size is not positive. This is a configuration fault and is fatal
// at startup when the values are static.
var ErrInvalidConfig = errors.New("invalid chunk config")

// pageSeparator joins consecutive page texts in the concatenated document
// text. A single newline keeps offsets stable and reconstruction exact.
const pageSeparator = "\n"

// Chunk is an immutable segment of document text.
type Chunk struct {
	// ID is a deterministic identifier derived from the document name and
	// ordinal, so re-ingesting an unchanged document upserts the same IDs.
	ID string

	// DocumentID identifies the source document (its file name).
	DocumentID string

	// Ordinal is the 0-based position of this chunk within its document.
	// Strictly increasing per document.
	Ordinal int

	// Text is the raw chunk content.
	Text string

	// PageStart and PageEnd are the 1-based page numbers this chunk spans
	// (inclusive). A chunk spans multiple pages when a page is shorter
	// than the window.
	PageStart int
	PageEnd   int

	// CharStart and CharEnd delimit the chunk within the concatenated
	// document text (half-open range). Strictly increasing per document.
	CharStart int
	CharEnd   int
}

// Config holds the chunking parameters.
type Config struct {
	// Size is the chunk window length in characters.
	Size int

	// Overlap is the number of characters repeated between consecutive
	// chunks. Must satisfy 0 <= Overlap < Size.
	Overlap int
}

// Validate checks the window parameters. Returns an error wrapping
// [ErrInvalidConfig] on violation.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunker: size %d must be positive: %w", c.Size, ErrInvalidConfig)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("chunker: overlap %d must satisfy 0 <= overlap < size (%d): %w",
			c.Overlap, c.Size, ErrInvalidConfig)
	}
	return nil
}

// pageBound records where one page's text sits inside the concatenated
// document text.
type pageBound struct {
	number     int
	start, end int
}

// Split concatenates the document's page texts (preserving page boundaries
// as metadata) and slides a window of cfg.Size advancing by
// cfg.Size−cfg.Overlap, emitting one final shorter chunk for the remainder.
// Ordinals and character offsets are monotonically increasing; consecutive
// chunks share exactly cfg.Overlap characters except possibly the last.
func Split(doc *loader.Document, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	text, bounds := concatenate(doc.Pages)
	if len(text) == 0 {
		return nil, nil
	}

	step := cfg.Size - cfg.Overlap
	var chunks []Chunk
	for start := 0; start < len(text); start += step {
		end := start + cfg.Size
		if end > len(text) {
			end = len(text)
		}

		ordinal := len(chunks)
		pageStart, pageEnd := pageSpan(bounds, start, end)
		chunks = append(chunks, Chunk{
			ID:         chunkID(doc.Name, ordinal),
			DocumentID: doc.Name,
			Ordinal:    ordinal,
			Text:       text[start:end],
			PageStart:  pageStart,
			PageEnd:    pageEnd,
			CharStart:  start,
			CharEnd:    end,
		})
		if end == len(text) {
			break
		}
	}

	return chunks, nil
}

// concatenate joins page texts with pageSeparator and returns the combined
// text plus each page's character range within it.
func concatenate(pages []loader.Page) (string, []pageBound) {
	var b strings.Builder
	bounds := make([]pageBound, 0, len(pages))

	for i, p := range pages {
		if i > 0 {
			b.WriteString(pageSeparator)
		}
		start := b.Len()
		b.WriteString(p.Text)
		bounds = append(bounds, pageBound{number: p.Number, start: start, end: b.Len()})
	}

	return b.String(), bounds
}

// pageSpan returns the first and last page numbers whose text overlaps the
// half-open character range [start, end).
func pageSpan(bounds []pageBound, start, end int) (int, int) {
	first, last := 0, 0
	for _, pb := range bounds {
		if pb.end <= start || pb.start >= end {
			continue
		}
		if first == 0 {
			first = pb.number
		}
		last = pb.number
	}
	if first == 0 && len(bounds) > 0 {
		// Range fell entirely on separators; attribute it to the last page.
		first = bounds[len(bounds)-1].number
		last = first
	}
	return first, last
}

// chunkID generates a deterministic ID for a chunk based on its document
// name and ordinal.
func chunkID(documentID string, ordinal int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", documentID, ordinal)))
	return fmt.Sprintf("%x", h[:16])
}
