package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

// openTestCatalog opens an in-memory SQLiteCatalog for use in tests.
func openTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory catalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func Test_Catalog_PutAndGet(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	at := time.Unix(1700000000, 0)
	if err := c.Put(ctx, Record{Name: "guide.pdf", Pages: 12, Chunks: 40, IngestedAt: at}); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, err := c.Get(ctx, "guide.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Pages != 12 || rec.Chunks != 40 || !rec.IngestedAt.Equal(at) {
		t.Errorf("got %+v", rec)
	}
}

func Test_Catalog_ReingestReplacesRecord(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	if err := c.Put(ctx, Record{Name: "guide.pdf", Pages: 12, Chunks: 40}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, Record{Name: "guide.pdf", Pages: 14, Chunks: 47}); err != nil {
		t.Fatalf("put again: %v", err)
	}

	recs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 record after re-ingest, got %d", len(recs))
	}
	if recs[0].Pages != 14 || recs[0].Chunks != 47 {
		t.Errorf("record not replaced: %+v", recs[0])
	}
}

func Test_Catalog_ListOrderedByName(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	for _, name := range []string{"zebra.pdf", "alpha.pdf", "mid.pdf"} {
		if err := c.Put(ctx, Record{Name: name, Pages: 1, Chunks: 1}); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}

	recs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"alpha.pdf", "mid.pdf", "zebra.pdf"}
	for i, name := range want {
		if recs[i].Name != name {
			t.Errorf("recs[%d] = %q, want %q", i, recs[i].Name, name)
		}
	}
}

func Test_Catalog_GetMissing(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)

	_, err := c.Get(context.Background(), "nope.pdf")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func Test_Catalog_Delete(t *testing.T) {
	t.Parallel()
	c := openTestCatalog(t)
	ctx := context.Background()

	if err := c.Put(ctx, Record{Name: "guide.pdf", Pages: 1, Chunks: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Delete(ctx, "guide.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.Delete(ctx, "guide.pdf"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if _, err := c.Get(ctx, "guide.pdf"); err == nil {
		t.Fatal("record survived delete")
	}
}
