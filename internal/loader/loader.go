// Package loader extracts plain text from PDF files, one entry per page.
// It is the first stage of the ingestion pipeline: everything downstream
// (chunking, embedding, storage) operates on the page texts produced here.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnreadable is returned (wrapped) when a PDF cannot be read: the file is
// corrupt, encrypted without a known password, or contains no extractable
// text. Callers use errors.Is to distinguish this class from I/O errors on
// the surrounding directory scan.
var ErrUnreadable = errors.New("unreadable pdf")

// Page is the extracted text of a single PDF page.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Text is the plain text extracted from the page. May be empty for
	// pages that carry only images.
	Text string
}

// Document is the result of loading one PDF file.
type Document struct {
	// Name is the base file name (e.g. "handbook.pdf"), used as the source
	// label on every chunk derived from this document.
	Name string

	// Path is the absolute or caller-relative path the file was read from.
	Path string

	// Pages holds the per-page texts in page order.
	Pages []Page
}

// Load reads the PDF at path and returns its per-page text.
// Returns an error wrapping [ErrUnreadable] when the file cannot be parsed
// or yields no text at all.
func Load(path string) (doc *Document, err error) {
	// The pdf package panics on some malformed files rather than returning
	// an error; convert those into ErrUnreadable so one bad file cannot
	// take down a batch ingest.
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("loader: %s: parse panic: %v: %w", path, r, ErrUnreadable)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %v: %w", path, err, ErrUnreadable)
	}
	defer f.Close()

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("loader: %s: no pages: %w", path, ErrUnreadable)
	}

	pages := make([]Page, 0, total)
	hasText := false
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document; pages
			// with only images commonly error here.
			pages = append(pages, Page{Number: i})
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			hasText = true
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	if !hasText {
		return nil, fmt.Errorf("loader: %s: no extractable text: %w", path, ErrUnreadable)
	}

	return &Document{
		Name:  filepath.Base(path),
		Path:  path,
		Pages: pages,
	}, nil
}
