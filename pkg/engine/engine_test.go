package engine

import (
	"testing"

	"github.com/treecore/treecore/pkg/page"
	"github.com/treecore/treecore/pkg/table"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDirectory = t.TempDir()
	cfg.BufferFrames = 16
	e, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func usersColumns() []table.Column {
	return []table.Column{
		{Name: "id", Type: table.Integer, Nullable: false},
		{Name: "name", Type: table.String, MaxLength: 64, Nullable: false},
	}
}

// TestInsertSelectRoundTrip mirrors spec.md's scenario A.
func TestInsertSelectRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	if err := e.CreateTable("users", usersColumns()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := e.Insert("users", page.Record{"id": float64(1), "name": "Ada"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rows, err := e.Select("users", nil, table.Predicate{"id": float64(1)}, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Ada" {
		t.Fatalf("Select = %+v, want one row named Ada", rows)
	}
}

// TestRangeScanWithIndex mirrors spec.md's scenario B: an index over
// "books.pages" serving a range query.
func TestRangeScanWithIndex(t *testing.T) {
	e := newTestEngine(t)
	e.CreateTable("books", []table.Column{
		{Name: "title", Type: table.String, MaxLength: 128, Nullable: false},
		{Name: "pages", Type: table.Integer, Nullable: false},
	})
	titles := []string{"A", "B", "C", "D", "E"}
	pageCounts := []float64{100, 300, 500, 700, 900}
	for i, title := range titles {
		if _, err := e.Insert("books", page.Record{"title": title, "pages": pageCounts[i]}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := e.CreateIndex("pages_idx", "books", []string{"pages"}, false); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	rows, err := e.Select("books", nil, table.Predicate{"pages": map[string]interface{}{">": float64(500)}}, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (D, E)", len(rows))
	}
	for _, r := range rows {
		if r["pages"].(float64) <= 500 {
			t.Fatalf("row %+v should not satisfy pages > 500", r)
		}
	}
}

// TestRollbackRestoresState mirrors spec.md's scenario C.
func TestRollbackRestoresState(t *testing.T) {
	e := newTestEngine(t)
	e.CreateTable("users", usersColumns())
	e.Insert("users", page.Record{"id": float64(1), "name": "Ada"})

	e.BeginTransaction()
	if _, err := e.Insert("users", page.Record{"id": float64(2), "name": "Grace"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := e.Update("users", page.Record{"name": "AdaUpdated"}, table.Predicate{"id": float64(1)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := e.Delete("users", table.Predicate{"id": float64(1)}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := e.RollbackTransaction(); err != nil {
		t.Fatalf("RollbackTransaction: %v", err)
	}

	rows, err := e.Select("users", nil, nil, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows after rollback, want 1 (only Ada, restored)", len(rows))
	}
	if rows[0]["name"] != "Ada" {
		t.Fatalf("row after rollback = %+v, want name Ada (pre-update value)", rows[0])
	}
}

func TestCommitDiscardsUndoLog(t *testing.T) {
	e := newTestEngine(t)
	e.CreateTable("users", usersColumns())

	e.BeginTransaction()
	e.Insert("users", page.Record{"id": float64(1), "name": "Ada"})
	e.CommitTransaction()

	if err := e.RollbackTransaction(); err != nil {
		t.Fatalf("RollbackTransaction after commit: %v", err)
	}

	rows, _ := e.Select("users", nil, nil, 0)
	if len(rows) != 1 {
		t.Fatalf("commit should have kept the row; got %d rows", len(rows))
	}
}

func TestIndexMaintainedOnUpdateAndDelete(t *testing.T) {
	e := newTestEngine(t)
	e.CreateTable("books", []table.Column{
		{Name: "title", Type: table.String, MaxLength: 128, Nullable: false},
		{Name: "pages", Type: table.Integer, Nullable: false},
	})
	e.Insert("books", page.Record{"title": "A", "pages": float64(100)})
	if err := e.CreateIndex("pages_idx", "books", []string{"pages"}, false); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	if _, err := e.Update("books", page.Record{"pages": float64(200)}, table.Predicate{"title": "A"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rows, err := e.Select("books", nil, table.Predicate{"pages": float64(200)}, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("index did not reflect updated key: got %d rows", len(rows))
	}

	if _, err := e.Delete("books", table.Predicate{"title": "A"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rows, err = e.Select("books", nil, table.Predicate{"pages": float64(200)}, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("index still references deleted row: %+v", rows)
	}
}

func TestUniqueIndexRejectsDuplicateInsert(t *testing.T) {
	e := newTestEngine(t)
	e.CreateTable("users", usersColumns())
	if err := e.CreateIndex("id_idx", "users", []string{"id"}, true); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if _, err := e.Insert("users", page.Record{"id": float64(1), "name": "Ada"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := e.Insert("users", page.Record{"id": float64(1), "name": "Dup"}); err == nil {
		t.Fatalf("expected unique index to reject duplicate key")
	}
}

func TestStatsTrackOperations(t *testing.T) {
	e := newTestEngine(t)
	e.CreateTable("users", usersColumns())
	e.Insert("users", page.Record{"id": float64(1), "name": "Ada"})
	e.Select("users", nil, nil, 0)
	e.Update("users", page.Record{"name": "Ada2"}, table.Predicate{"id": float64(1)})
	e.Delete("users", table.Predicate{"id": float64(1)})

	stats := e.Stats()
	if stats.RecordsInserted != 1 || stats.QueriesExecuted != 1 || stats.RecordsUpdated != 1 || stats.RecordsDeleted != 1 {
		t.Fatalf("Stats = %+v, want one of each", stats)
	}
}
