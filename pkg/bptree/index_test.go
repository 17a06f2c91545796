package bptree

import (
	"testing"

	"github.com/treecore/treecore/pkg/buffer"
	"github.com/treecore/treecore/pkg/page"
)

func newTestIndex(t *testing.T, order int, unique bool) *Index {
	t.Helper()
	store, err := page.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pool := buffer.NewPool(store, 16, buffer.LRU, nil, nil)
	idx, err := NewIndex("pages_idx", "books", []string{"pages"}, order, unique, pool, nil, nil)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestInsertAndSearch(t *testing.T) {
	idx := newTestIndex(t, 4, false)
	if err := idx.Insert(float64(100), "1:0"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert(float64(200), "1:1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	refs, err := idx.Search(float64(100))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 1 || refs[0] != "1:0" {
		t.Fatalf("Search(100) = %v, want [1:0]", refs)
	}
}

func TestInsertForcesSplit(t *testing.T) {
	idx := newTestIndex(t, 4, false)
	for i := 0; i < 20; i++ {
		if err := idx.Insert(float64(i), recordRefFor(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if idx.RootPageID() == page.NoID {
		t.Fatalf("root page id unset after inserts")
	}

	for i := 0; i < 20; i++ {
		refs, err := idx.Search(float64(i))
		if err != nil {
			t.Fatalf("Search(%d): %v", i, err)
		}
		if len(refs) != 1 || refs[0] != recordRefFor(i) {
			t.Fatalf("Search(%d) = %v, want [%s]", i, refs, recordRefFor(i))
		}
	}
}

func recordRefFor(i int) RecordRef {
	return RecordRef(string(rune('a' + (i % 26))))
}

func TestRangeSearch(t *testing.T) {
	idx := newTestIndex(t, 4, false)
	for i := 0; i < 30; i++ {
		idx.Insert(float64(i), recordRefFor(i))
	}

	refs, err := idx.RangeSearch(float64(10), float64(15))
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	if len(refs) != 6 {
		t.Fatalf("RangeSearch(10,15) returned %d refs, want 6", len(refs))
	}
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	idx := newTestIndex(t, 4, true)
	if err := idx.Insert(float64(1), "a"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert(float64(1), "b"); err == nil {
		t.Fatalf("expected conflict on duplicate unique key")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	idx := newTestIndex(t, 4, false)
	idx.Insert(float64(5), "x")
	idx.Insert(float64(5), "y")

	ok, err := idx.Delete(float64(5), "x")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatalf("Delete returned false, want true")
	}

	refs, _ := idx.Search(float64(5))
	if len(refs) != 1 || refs[0] != "y" {
		t.Fatalf("Search(5) after delete = %v, want [y]", refs)
	}
}

func TestUpdateMovesKey(t *testing.T) {
	idx := newTestIndex(t, 4, false)
	idx.Insert(float64(1), "a")
	if err := idx.Update(float64(1), float64(2), "a"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if refs, _ := idx.Search(float64(1)); len(refs) != 0 {
		t.Fatalf("old key still present: %v", refs)
	}
	if refs, _ := idx.Search(float64(2)); len(refs) != 1 || refs[0] != "a" {
		t.Fatalf("new key missing: %v", refs)
	}
}

func TestCatalogPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, _ := page.NewStore(dir, nil)
	pool := buffer.NewPool(store, 16, buffer.LRU, nil, nil)
	cat, err := NewCatalog(dir, pool, nil, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	idx, err := cat.CreateIndex("pages_idx", "books", []string{"pages"}, 4, false)
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	idx.Insert(float64(42), "7:0")
	pool.FlushAll()

	store2, _ := page.NewStore(dir, nil)
	pool2 := buffer.NewPool(store2, 16, buffer.LRU, nil, nil)
	cat2, err := NewCatalog(dir, pool2, nil, nil)
	if err != nil {
		t.Fatalf("reopen NewCatalog: %v", err)
	}
	idx2, ok := cat2.Get("pages_idx")
	if !ok {
		t.Fatalf("index not found after reopen")
	}
	refs, err := idx2.Search(float64(42))
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(refs) != 1 || refs[0] != "7:0" {
		t.Fatalf("Search(42) after reopen = %v, want [7:0]", refs)
	}
}
