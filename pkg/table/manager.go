// Package table implements the table/record manager: schemas, record
// validation, and scan/filter/project/update/delete layered on top of
// the buffer pool.
package table

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/treecore/treecore/internal/logger"
	"github.com/treecore/treecore/internal/metrics"
	"github.com/treecore/treecore/pkg/buffer"
	"github.com/treecore/treecore/pkg/errs"
	"github.com/treecore/treecore/pkg/page"
)

const schemaFileName = "table_schemas.json"

// RecordID identifies a record's physical location: the page holding
// it and its position within that page's decode order. It is only
// stable until a delete removes an earlier record in the same page,
// which shifts the slot of every record after it (an update or a
// column change repacks the page in the same order and keeps slots) —
// a known simplification carried from the
// teaching-grade reference this module is built from; see DESIGN.md.
type RecordID struct {
	PageID page.ID `json:"page_id"`
	Slot   int     `json:"slot"`
}

func (r RecordID) String() string { return fmt.Sprintf("%d:%d", r.PageID, r.Slot) }

// Row pairs a decoded record with its current location.
type Row struct {
	ID     RecordID
	Record page.Record
}

type onDiskCatalog struct {
	Tables     []*Schema           `json:"tables"`
	TablePages map[string][]uint32 `json:"table_pages"`
}

// Manager owns table schemas and drives record placement, scanning,
// and mutation through the buffer pool exclusively.
type Manager struct {
	mu      sync.Mutex
	dataDir string
	pool    *buffer.Pool
	log     *logger.Logger
	mtr     *metrics.Metrics

	schemas    map[string]*Schema
	tablePages map[string][]page.ID
}

// NewManager opens (or initializes) a table manager rooted at dataDir,
// loading any existing table_schemas.json catalog.
func NewManager(dataDir string, pool *buffer.Pool, log *logger.Logger, mtr *metrics.Metrics) (*Manager, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	m := &Manager{
		dataDir:    dataDir,
		pool:       pool,
		log:        log,
		mtr:        mtr,
		schemas:    make(map[string]*Schema),
		tablePages: make(map[string][]page.ID),
	}
	if err := m.loadCatalog(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) catalogPath() string {
	return filepath.Join(m.dataDir, schemaFileName)
}

func (m *Manager) loadCatalog() error {
	data, err := os.ReadFile(m.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.IOFailure, "load_catalog", err)
	}
	var cat onDiskCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return errs.New(errs.Corruption, "load_catalog", err)
	}
	for _, s := range cat.Tables {
		m.schemas[s.Name] = s
	}
	for name, ids := range cat.TablePages {
		pages := make([]page.ID, len(ids))
		for i, id := range ids {
			pages[i] = page.ID(id)
		}
		m.tablePages[name] = pages
	}
	return nil
}

func (m *Manager) saveCatalogLocked() error {
	cat := onDiskCatalog{TablePages: make(map[string][]uint32)}
	for _, s := range m.schemas {
		cat.Tables = append(cat.Tables, s)
	}
	for name, pages := range m.tablePages {
		ids := make([]uint32, len(pages))
		for i, id := range pages {
			ids[i] = uint32(id)
		}
		cat.TablePages[name] = ids
	}
	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return errs.New(errs.IOFailure, "save_catalog", err)
	}
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return errs.New(errs.IOFailure, "save_catalog", err)
	}
	if err := os.WriteFile(m.catalogPath(), data, 0o644); err != nil {
		return errs.New(errs.IOFailure, "save_catalog", err)
	}
	return nil
}

// CreateTable registers a new schema and eagerly creates its first
// data page.
func (m *Manager) CreateTable(name string, columns []Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schemas[name]; exists {
		return errs.New(errs.Conflict, "create_table", fmt.Errorf("table %q already exists", name))
	}
	schema := &Schema{Name: name, Columns: columns}
	firstPage, err := m.pool.CreatePage(page.KindData)
	if err != nil {
		return errs.New(errs.IOFailure, "create_table", err)
	}
	if err := m.pool.UnpinPage(firstPage.Header.PageID, true); err != nil {
		return errs.New(errs.IOFailure, "create_table", err)
	}

	m.schemas[name] = schema
	m.tablePages[name] = []page.ID{firstPage.Header.PageID}
	if err := m.saveCatalogLocked(); err != nil {
		return err
	}
	m.log.TableLogger("create_table").Info("table created").Str("table", name).Send()
	return nil
}

// DropTable removes a table's schema and page-list entry. The
// underlying pages are not reclaimed (PageIds are never reused).
func (m *Manager) DropTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schemas[name]; !exists {
		return errs.New(errs.NotFound, "drop_table", fmt.Errorf("table %q not found", name))
	}
	delete(m.schemas, name)
	delete(m.tablePages, name)
	return m.saveCatalogLocked()
}

// ListTables returns every known table name.
func (m *Manager) ListTables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		out = append(out, name)
	}
	return out
}

// Schema returns the schema for a table, or (nil, false) if unknown.
func (m *Manager) Schema(name string) (*Schema, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[name]
	return s, ok
}

// TableInfo reports a table's schema and current page count.
func (m *Manager) TableInfo(name string) (*Schema, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schemas[name]
	if !ok {
		return nil, 0, errs.New(errs.NotFound, "get_table_info", fmt.Errorf("table %q not found", name))
	}
	return s, len(m.tablePages[name]), nil
}

// Insert validates and default-fills rec, places it into the first
// page with enough free space (creating a new page if none qualify),
// and returns its RecordID.
func (m *Manager) Insert(table string, rec page.Record) (RecordID, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	schema, ok := m.schemas[table]
	if !ok {
		return RecordID{}, errs.New(errs.NotFound, "insert", fmt.Errorf("table %q not found", table))
	}

	filled := schema.ApplyDefaults(rec)
	if err := schema.Validate(filled); err != nil {
		return RecordID{}, err
	}

	for _, pid := range m.tablePages[table] {
		pg, err := m.pool.GetPage(pid)
		if err != nil {
			return RecordID{}, errs.New(errs.IOFailure, "insert", err)
		}
		if pg == nil {
			continue
		}
		ok, err := pg.AddRecord(filled)
		if err != nil {
			m.pool.UnpinPage(pid, false)
			return RecordID{}, errs.New(errs.IOFailure, "insert", err)
		}
		if ok {
			slot := int(pg.Header.RecordCount) - 1
			m.pool.UnpinPage(pid, true)
			m.recordOp(table, "insert", start, 1, nil)
			return RecordID{PageID: pid, Slot: slot}, nil
		}
		m.pool.UnpinPage(pid, false)
	}

	newPage, err := m.pool.CreatePage(page.KindData)
	if err != nil {
		return RecordID{}, errs.New(errs.Capacity, "insert", err)
	}
	ok, err := newPage.AddRecord(filled)
	if err != nil || !ok {
		m.pool.UnpinPage(newPage.Header.PageID, false)
		return RecordID{}, errs.New(errs.Capacity, "insert", fmt.Errorf("record does not fit even in a fresh page"))
	}
	m.pool.UnpinPage(newPage.Header.PageID, true)
	m.tablePages[table] = append(m.tablePages[table], newPage.Header.PageID)
	if err := m.saveCatalogLocked(); err != nil {
		return RecordID{}, err
	}
	m.recordOp(table, "insert", start, 1, nil)
	return RecordID{PageID: newPage.Header.PageID, Slot: 0}, nil
}

// Select scans a table's page list in creation order, collecting
// every record matching pred (nil matches everything), optionally
// projected to columns (nil/empty means all columns), stopping once
// limit rows have been collected (limit <= 0 means unlimited).
func (m *Manager) Select(table string, columns []string, pred Predicate, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schemas[table]; !ok {
		return nil, errs.New(errs.NotFound, "select", fmt.Errorf("table %q not found", table))
	}

	var out []Row
	for _, pid := range m.tablePages[table] {
		pg, err := m.pool.GetPage(pid)
		if err != nil {
			return nil, errs.New(errs.IOFailure, "select", err)
		}
		if pg == nil {
			continue
		}
		records, err := pg.Records()
		if err != nil {
			m.pool.UnpinPage(pid, false)
			return nil, errs.New(errs.Corruption, "select", err)
		}
		for slot, rec := range records {
			if pred != nil && !Matches(rec, pred) {
				continue
			}
			out = append(out, Row{ID: RecordID{PageID: pid, Slot: slot}, Record: project(rec, columns)})
			if limit > 0 && len(out) >= limit {
				m.pool.UnpinPage(pid, false)
				return out, nil
			}
		}
		m.pool.UnpinPage(pid, false)
	}
	return out, nil
}

// GetByID fetches the single record at id's position, or ok=false if
// the page is missing or the slot is out of range (for example
// because an intervening repack shifted it — see RecordID's doc
// comment).
func (m *Manager) GetByID(id RecordID) (page.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pg, err := m.pool.GetPage(id.PageID)
	if err != nil {
		return nil, false, errs.New(errs.IOFailure, "get_by_id", err)
	}
	if pg == nil {
		return nil, false, nil
	}
	defer m.pool.UnpinPage(id.PageID, false)

	records, err := pg.Records()
	if err != nil {
		return nil, false, errs.New(errs.Corruption, "get_by_id", err)
	}
	if id.Slot < 0 || id.Slot >= len(records) {
		return nil, false, nil
	}
	return records[id.Slot], true, nil
}

func project(rec page.Record, columns []string) page.Record {
	if len(columns) == 0 {
		out := make(page.Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	out := make(page.Record, len(columns))
	for _, c := range columns {
		if v, ok := rec[c]; ok {
			out[c] = v
		}
	}
	return out
}

// Update applies values to every record matching pred, revalidating
// the merged record against the schema and skipping (not counting)
// invalid merges. Returns the number of rows actually changed.
func (m *Manager) Update(table string, values page.Record, pred Predicate) (int, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	schema, ok := m.schemas[table]
	if !ok {
		return 0, errs.New(errs.NotFound, "update", fmt.Errorf("table %q not found", table))
	}

	updated := 0
	for _, pid := range m.tablePages[table] {
		pg, err := m.pool.GetPage(pid)
		if err != nil {
			return updated, errs.New(errs.IOFailure, "update", err)
		}
		if pg == nil {
			continue
		}
		records, err := pg.Records()
		if err != nil {
			m.pool.UnpinPage(pid, false)
			return updated, errs.New(errs.Corruption, "update", err)
		}
		changed := false
		for i, rec := range records {
			if pred != nil && !Matches(rec, pred) {
				continue
			}
			merged := make(page.Record, len(rec)+len(values))
			for k, v := range rec {
				merged[k] = v
			}
			for k, v := range values {
				merged[k] = v
			}
			if err := schema.Validate(merged); err != nil {
				continue
			}
			records[i] = merged
			updated++
			changed = true
		}
		if changed {
			if err := pg.Repack(records); err != nil {
				m.pool.UnpinPage(pid, false)
				return updated, errs.New(errs.IOFailure, "update", err)
			}
			m.pool.UnpinPage(pid, true)
		} else {
			m.pool.UnpinPage(pid, false)
		}
	}
	m.recordOp(table, "update", start, updated, nil)
	return updated, nil
}

// Delete removes every record matching pred, repacking any page whose
// survivor count changed. Returns the number of rows removed.
func (m *Manager) Delete(table string, pred Predicate) (int, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schemas[table]; !ok {
		return 0, errs.New(errs.NotFound, "delete", fmt.Errorf("table %q not found", table))
	}

	deleted := 0
	for _, pid := range m.tablePages[table] {
		pg, err := m.pool.GetPage(pid)
		if err != nil {
			return deleted, errs.New(errs.IOFailure, "delete", err)
		}
		if pg == nil {
			continue
		}
		records, err := pg.Records()
		if err != nil {
			m.pool.UnpinPage(pid, false)
			return deleted, errs.New(errs.Corruption, "delete", err)
		}
		survivors := make([]page.Record, 0, len(records))
		for _, rec := range records {
			if pred != nil && Matches(rec, pred) {
				deleted++
				continue
			}
			survivors = append(survivors, rec)
		}
		if len(survivors) != len(records) {
			if err := pg.Repack(survivors); err != nil {
				m.pool.UnpinPage(pid, false)
				return deleted, errs.New(errs.IOFailure, "delete", err)
			}
			m.pool.UnpinPage(pid, true)
		} else {
			m.pool.UnpinPage(pid, false)
		}
	}
	m.recordOp(table, "delete", start, deleted, nil)
	return deleted, nil
}

// AddColumn appends a column to the schema and backfills every
// existing record with its default (or type zero-value if
// non-nullable without one), then persists the updated schema.
func (m *Manager) AddColumn(table string, col Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	schema, ok := m.schemas[table]
	if !ok {
		return errs.New(errs.NotFound, "add_column", fmt.Errorf("table %q not found", table))
	}
	schema.Columns = append(schema.Columns, col)

	for _, pid := range m.tablePages[table] {
		pg, err := m.pool.GetPage(pid)
		if err != nil {
			return errs.New(errs.IOFailure, "add_column", err)
		}
		if pg == nil {
			continue
		}
		records, err := pg.Records()
		if err != nil {
			m.pool.UnpinPage(pid, false)
			return errs.New(errs.Corruption, "add_column", err)
		}
		for i, rec := range records {
			records[i] = backfillColumn(rec, col)
		}
		if err := pg.Repack(records); err != nil {
			m.pool.UnpinPage(pid, false)
			return errs.New(errs.IOFailure, "add_column", err)
		}
		m.pool.UnpinPage(pid, true)
	}
	return m.saveCatalogLocked()
}

// DropColumn removes a column from the schema and from every existing
// record, symmetric to AddColumn.
func (m *Manager) DropColumn(table string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	schema, ok := m.schemas[table]
	if !ok {
		return errs.New(errs.NotFound, "drop_column", fmt.Errorf("table %q not found", table))
	}
	kept := schema.Columns[:0]
	for _, c := range schema.Columns {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	schema.Columns = kept

	for _, pid := range m.tablePages[table] {
		pg, err := m.pool.GetPage(pid)
		if err != nil {
			return errs.New(errs.IOFailure, "drop_column", err)
		}
		if pg == nil {
			continue
		}
		records, err := pg.Records()
		if err != nil {
			m.pool.UnpinPage(pid, false)
			return errs.New(errs.Corruption, "drop_column", err)
		}
		for i, rec := range records {
			delete(rec, name)
			records[i] = rec
		}
		if err := pg.Repack(records); err != nil {
			m.pool.UnpinPage(pid, false)
			return errs.New(errs.IOFailure, "drop_column", err)
		}
		m.pool.UnpinPage(pid, true)
	}
	return m.saveCatalogLocked()
}

func (m *Manager) recordOp(table, op string, start time.Time, count int, err error) {
	duration := time.Since(start)
	m.log.LogTableOperation(table, op, duration, count, err)
	if m.mtr != nil {
		m.mtr.RecordTableOperation(table, op, duration)
	}
}
