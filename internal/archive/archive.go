// Package archive writes ingested chunks to disk as JSON files, one per
// chunk, so operators can inspect exactly what was indexed and re-ingest
// without re-parsing the source documents.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/docqa-go/internal/chunker"
)

// Writer persists chunks under a root directory. A zero-value Writer with an
// empty Dir is a no-op, so callers can leave archiving unconfigured.
type Writer struct {
	// Dir is the archive root. Empty disables archiving.
	Dir string
}

// chunkFile is the on-disk JSON shape for one chunk.
type chunkFile struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
}

// WriteChunks writes each chunk as chunk_<document>_<ordinal>.json under Dir,
// overwriting files from a prior ingest of the same document.
func (w *Writer) WriteChunks(chunks []chunker.Chunk) error {
	if w.Dir == "" || len(chunks) == 0 {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", w.Dir, err)
	}
	for _, c := range chunks {
		name := fmt.Sprintf("chunk_%s_%d.json", sanitize(c.DocumentID), c.Ordinal)
		data, err := json.MarshalIndent(chunkFile{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			PageStart:  c.PageStart,
			PageEnd:    c.PageEnd,
			CharStart:  c.CharStart,
			CharEnd:    c.CharEnd,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("archive: marshal chunk %s: %w", c.ID, err)
		}
		path := filepath.Join(w.Dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("archive: write %s: %w", path, err)
		}
	}
	return nil
}

// sanitize makes a document ID safe to embed in a file name.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
