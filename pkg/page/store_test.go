package page

import (
	"path/filepath"
	"testing"
)

func TestStoreCreateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	p, err := store.CreatePage(KindData)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if p.Header.PageID != 1 {
		t.Fatalf("first page id = %d, want 1", p.Header.PageID)
	}
	if _, err := p.AddRecord(Record{"id": float64(1), "name": "alice"}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}

	if err := store.SavePage(p); err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	if p.IsDirty() {
		t.Fatalf("page still dirty after SavePage")
	}

	p2, err := store.CreatePage(KindData)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if p2.Header.PageID != 2 {
		t.Fatalf("second page id = %d, want 2 (never reused)", p2.Header.PageID)
	}

	reopened, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore (reopen): %v", err)
	}
	loaded, err := reopened.LoadPage(1)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	if loaded == nil {
		t.Fatalf("LoadPage(1) = nil, want page")
	}
	records, err := loaded.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0]["name"] != "alice" {
		t.Fatalf("reloaded records = %+v", records)
	}

	// next_page_id must have survived the reopen too.
	p3, err := reopened.CreatePage(KindData)
	if err != nil {
		t.Fatalf("CreatePage (after reopen): %v", err)
	}
	if p3.Header.PageID != 3 {
		t.Fatalf("page id after reopen = %d, want 3", p3.Header.PageID)
	}
}

func TestLoadPageMissingReturnsNilNotError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p, err := store.LoadPage(999)
	if err != nil {
		t.Fatalf("LoadPage: unexpected error %v", err)
	}
	if p != nil {
		t.Fatalf("LoadPage(999) = %+v, want nil", p)
	}
}

func TestSaveAllDirtyWritesOnlyDirtyPages(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	p1, _ := store.CreatePage(KindData)
	p2, _ := store.CreatePage(KindData)
	if _, err := p1.AddRecord(Record{"n": float64(1)}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	_ = p2

	n, err := store.SaveAllDirty()
	if err != nil {
		t.Fatalf("SaveAllDirty: %v", err)
	}
	if n != 2 {
		t.Fatalf("SaveAllDirty wrote %d pages, want 2 (both pages start dirty)", n)
	}

	n2, err := store.SaveAllDirty()
	if err != nil {
		t.Fatalf("SaveAllDirty (2nd): %v", err)
	}
	if n2 != 0 {
		t.Fatalf("SaveAllDirty (2nd) wrote %d pages, want 0", n2)
	}

	if _, err := NewStore(filepath.Join(dir, "nested"), nil); err != nil {
		t.Fatalf("NewStore should create missing nested directories: %v", err)
	}
}
