package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/loader"
)

// doc builds a loader.Document from page texts.
func doc(pages ...string) *loader.Document {
	d := &loader.Document{Name: "test.pdf"}
	for i, text := range pages {
		d.Pages = append(d.Pages, loader.Page{Number: i + 1, Text: text})
	}
	return d
}

func Test_Config_Validate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Size: 512, Overlap: 50}, false},
		{"zero overlap", Config{Size: 100, Overlap: 0}, false},
		{"overlap equals size", Config{Size: 100, Overlap: 100}, true},
		{"overlap exceeds size", Config{Size: 100, Overlap: 150}, true},
		{"negative overlap", Config{Size: 100, Overlap: -1}, true},
		{"zero size", Config{Size: 0, Overlap: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("want ErrInvalidConfig, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// Test_Split_ThreePages1500Chars covers the canonical window walk: a 3-page
// document totalling 1500 characters with size=512, overlap=50 yields four
// chunks with ordinals 0–3, the first three exactly 512 characters, 50
// shared characters between each adjacent pair, and the last chunk covering
// the remainder.
func Test_Split_ThreePages1500Chars(t *testing.T) {
	t.Parallel()

	// Page texts join with a single "\n": 500 + 1 + 499 + 1 + 499 = 1500.
	d := doc(
		strings.Repeat("a", 500),
		strings.Repeat("b", 499),
		strings.Repeat("c", 499),
	)
	chunks, err := Split(d, Config{Size: 512, Overlap: 50})
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 4 {
		t.Fatalf("want 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("chunk %d: ordinal = %d", i, c.Ordinal)
		}
	}
	for i := 0; i < 3; i++ {
		if len(chunks[i].Text) != 512 {
			t.Errorf("chunk %d: len = %d, want 512", i, len(chunks[i].Text))
		}
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if prev.Text[len(prev.Text)-50:] != cur.Text[:50] {
			t.Errorf("chunks %d/%d do not share a 50-char overlap", i-1, i)
		}
	}
	last := chunks[3]
	if last.CharEnd != 1500 {
		t.Errorf("last chunk CharEnd = %d, want 1500", last.CharEnd)
	}
	if len(last.Text) != 1500-last.CharStart {
		t.Errorf("last chunk does not cover the remainder")
	}
}

// Test_Split_Reconstruction verifies that removing the known overlap from
// consecutive chunks reconstructs the original text exactly.
func Test_Split_Reconstruction(t *testing.T) {
	t.Parallel()

	original := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	d := doc(original)

	for _, cfg := range []Config{
		{Size: 100, Overlap: 0},
		{Size: 100, Overlap: 25},
		{Size: 512, Overlap: 50},
		{Size: 7, Overlap: 3},
	} {
		chunks, err := Split(d, cfg)
		if err != nil {
			t.Fatal(err)
		}

		var b strings.Builder
		for i, c := range chunks {
			if i == 0 {
				b.WriteString(c.Text)
				continue
			}
			b.WriteString(c.Text[cfg.Overlap:])
		}
		if b.String() != original {
			t.Errorf("cfg %+v: reconstruction mismatch", cfg)
		}
	}
}

func Test_Split_MonotonicOffsets(t *testing.T) {
	t.Parallel()

	d := doc(strings.Repeat("x", 300), strings.Repeat("y", 300))
	chunks, err := Split(d, Config{Size: 128, Overlap: 16})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].CharStart <= chunks[i-1].CharStart {
			t.Errorf("CharStart not increasing at chunk %d", i)
		}
		if chunks[i].CharEnd <= chunks[i-1].CharEnd {
			t.Errorf("CharEnd not increasing at chunk %d", i)
		}
	}
}

func Test_Split_PageSpans(t *testing.T) {
	t.Parallel()

	// Two short pages, window larger than the first page: the first chunk
	// must span both pages.
	d := doc(strings.Repeat("a", 40), strings.Repeat("b", 40))
	chunks, err := Split(d, Config{Size: 60, Overlap: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	if chunks[0].PageStart != 1 || chunks[0].PageEnd != 2 {
		t.Errorf("first chunk pages = %d–%d, want 1–2", chunks[0].PageStart, chunks[0].PageEnd)
	}
	last := chunks[len(chunks)-1]
	if last.PageEnd != 2 {
		t.Errorf("last chunk PageEnd = %d, want 2", last.PageEnd)
	}
}

func Test_Split_ShortDocumentSingleChunk(t *testing.T) {
	t.Parallel()

	d := doc("tiny")
	chunks, err := Split(d, Config{Size: 512, Overlap: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "tiny" || chunks[0].Ordinal != 0 {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
}

func Test_Split_DeterministicIDs(t *testing.T) {
	t.Parallel()

	d := doc(strings.Repeat("z", 1000))
	a, _ := Split(d, Config{Size: 256, Overlap: 32})
	b, _ := Split(d, Config{Size: 256, Overlap: 32})
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d: IDs differ across runs", i)
		}
	}
}
