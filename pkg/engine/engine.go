package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treecore/treecore/internal/logger"
	"github.com/treecore/treecore/internal/metrics"
	"github.com/treecore/treecore/pkg/buffer"
	"github.com/treecore/treecore/pkg/bptree"
	"github.com/treecore/treecore/pkg/errs"
	"github.com/treecore/treecore/pkg/page"
	"github.com/treecore/treecore/pkg/table"
)

// Stats mirrors the reference engine's running counters.
type Stats struct {
	QueriesExecuted int64
	RecordsInserted int64
	RecordsUpdated  int64
	RecordsDeleted  int64
	StartTime       time.Time
}

type undoOp int

const (
	undoDelete undoOp = iota
	undoInsert
	undoRestore
)

type undoEntry struct {
	op       undoOp
	table    string
	record   page.Record   // for undoInsert: the record to reinsert
	pred     table.Predicate // for undoDelete / undoRestore: the matching condition
	original page.Record   // for undoRestore: the pre-update row to put back
}

// Engine is the storage engine facade used by every client of this
// module: it owns the page store, buffer pool, table manager, and
// B+tree index catalog, and drives a single active transaction's undo
// log.
type Engine struct {
	mu sync.Mutex

	dataDir string
	store   *page.Store
	pool    *buffer.Pool
	tables  *table.Manager
	indexes *bptree.Catalog

	log *logger.Logger
	mtr *metrics.Metrics

	stats Stats

	txActive bool
	txID     string
	undoLog  []undoEntry
}

// New builds an Engine rooted at cfg.DataDirectory.
func New(cfg Config, log *logger.Logger, mtr *metrics.Metrics) (*Engine, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	policy, err := cfg.parsePolicy()
	if err != nil {
		return nil, errs.New(errs.IOFailure, "new_engine", err)
	}

	store, err := page.NewStore(cfg.DataDirectory, log)
	if err != nil {
		return nil, errs.New(errs.IOFailure, "new_engine", err)
	}
	pool := buffer.NewPool(store, cfg.BufferFrames, policy, log, mtr)

	tables, err := table.NewManager(cfg.DataDirectory, pool, log, mtr)
	if err != nil {
		return nil, err
	}
	indexes, err := bptree.NewCatalog(cfg.DataDirectory, pool, log, mtr)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dataDir: cfg.DataDirectory,
		store:   store,
		pool:    pool,
		tables:  tables,
		indexes: indexes,
		log:     log.EngineLogger("facade"),
		mtr:     mtr,
		stats:   Stats{StartTime: time.Now()},
	}
	e.log.LogEngineStart(cfg.DataDirectory, cfg.BufferFrames, cfg.EvictionPolicy)
	return e, nil
}

// CreateTable defines a new table.
func (e *Engine) CreateTable(name string, columns []table.Column) error {
	return e.tables.CreateTable(name, columns)
}

// DropTable removes a table's schema and page-list entry.
func (e *Engine) DropTable(name string) error {
	return e.tables.DropTable(name)
}

// ListTables lists every known table.
func (e *Engine) ListTables() []string { return e.tables.ListTables() }

// GetTableInfo reports a table's schema and page count.
func (e *Engine) GetTableInfo(name string) (*table.Schema, int, error) {
	return e.tables.TableInfo(name)
}

// AddColumn evolves a table's schema, backfilling existing rows.
func (e *Engine) AddColumn(tableName string, col table.Column) error {
	return e.tables.AddColumn(tableName, col)
}

// DropColumn evolves a table's schema, removing the column from
// existing rows too.
func (e *Engine) DropColumn(tableName, column string) error {
	return e.tables.DropColumn(tableName, column)
}

// Insert adds rec to tableName, appends an undo entry if a
// transaction is active, updates every index defined on the table,
// and flushes dirty pages — matching the reference engine's choice to
// durably persist on every write rather than batch flushes.
func (e *Engine) Insert(tableName string, rec page.Record) (table.RecordID, error) {
	id, err := e.tables.Insert(tableName, rec)
	if err != nil {
		return table.RecordID{}, err
	}

	e.mu.Lock()
	e.stats.RecordsInserted++
	if e.txActive {
		e.undoLog = append(e.undoLog, undoEntry{op: undoDelete, table: tableName, pred: exactMatch(rec)})
	}
	e.mu.Unlock()

	if err := e.updateIndexesOnInsert(tableName, id, rec); err != nil {
		return id, err
	}
	if _, err := e.pool.FlushAll(); err != nil {
		return id, errs.New(errs.IOFailure, "insert", err)
	}
	return id, nil
}

// updateIndexesOnInsert maintains every index defined over tableName.
// Unlike the reference implementation (whose equivalent hook is an
// intentionally empty stub), this is fully wired: every index column
// present in rec is inserted with a RecordRef encoding id.
func (e *Engine) updateIndexesOnInsert(tableName string, id table.RecordID, rec page.Record) error {
	for _, idx := range e.indexes.ForTable(tableName) {
		key, ok := indexKey(idx, rec)
		if !ok {
			continue
		}
		if err := idx.Insert(key, encodeRef(id)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) updateIndexesOnDelete(tableName string, id table.RecordID, rec page.Record) error {
	for _, idx := range e.indexes.ForTable(tableName) {
		key, ok := indexKey(idx, rec)
		if !ok {
			continue
		}
		if _, err := idx.Delete(key, encodeRef(id)); err != nil {
			return err
		}
	}
	return nil
}

func indexKey(idx *bptree.Index, rec page.Record) (bptree.Key, bool) {
	if len(idx.Columns) == 1 {
		v, ok := rec[idx.Columns[0]]
		return v, ok
	}
	key := make([]interface{}, len(idx.Columns))
	for i, c := range idx.Columns {
		v, ok := rec[c]
		if !ok {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

func encodeRef(id table.RecordID) bptree.RecordRef {
	return bptree.RecordRef(id.String())
}

func decodeRef(ref bptree.RecordRef) (table.RecordID, error) {
	parts := strings.SplitN(string(ref), ":", 2)
	if len(parts) != 2 {
		return table.RecordID{}, fmt.Errorf("malformed record ref %q", ref)
	}
	pid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return table.RecordID{}, fmt.Errorf("malformed record ref %q: %w", ref, err)
	}
	slot, err := strconv.Atoi(parts[1])
	if err != nil {
		return table.RecordID{}, fmt.Errorf("malformed record ref %q: %w", ref, err)
	}
	return table.RecordID{PageID: page.ID(pid), Slot: slot}, nil
}

func exactMatch(rec page.Record) table.Predicate {
	pred := make(table.Predicate, len(rec))
	for k, v := range rec {
		pred[k] = v
	}
	return pred
}

// Select resolves an optional single-column equality or comparison
// predicate to an index when one exists on that column (mirroring the
// reference's _can_use_index), falling back to a full scan-and-filter
// otherwise. Both paths produce identical results; the index path
// exists to exercise pkg/bptree on the read side, not because the
// scan-and-filter path is wrong — the reference engine keeps the
// latter as its baseline even when an index is available.
func (e *Engine) Select(tableName string, columns []string, where table.Predicate, limit int) ([]page.Record, error) {
	e.mu.Lock()
	e.stats.QueriesExecuted++
	e.mu.Unlock()

	if idx, field, op, value, ok := e.canUseIndex(tableName, where); ok {
		rows, err := e.selectWithIndex(tableName, columns, where, idx, field, op, value)
		if err == nil {
			if limit > 0 && len(rows) > limit {
				rows = rows[:limit]
			}
			return rows, nil
		}
		e.log.Warn("index lookup failed, falling back to full scan").Str("index", idx.Name).Err(err).Send()
	}

	rows, err := e.tables.Select(tableName, columns, where, limit)
	if err != nil {
		return nil, err
	}
	out := make([]page.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out, nil
}

// canUseIndex looks for a single-column index matching one of where's
// conditions, returning enough information to drive an index lookup.
func (e *Engine) canUseIndex(tableName string, where table.Predicate) (idx *bptree.Index, field, op string, value interface{}, ok bool) {
	if len(where) == 0 {
		return nil, "", "", nil, false
	}
	candidates := e.indexes.ForTable(tableName)
	for field, cond := range where {
		for _, cand := range candidates {
			if len(cand.Columns) != 1 || cand.Columns[0] != field {
				continue
			}
			if opMap, isOp := cond.(map[string]interface{}); isOp {
				for o, v := range opMap {
					if o == ">" || o == ">=" || o == "<" || o == "<=" || o == "=" || o == "!=" {
						return cand, field, o, v, true
					}
				}
				continue
			}
			return cand, field, "=", cond, true
		}
	}
	return nil, "", "", nil, false
}

func (e *Engine) selectWithIndex(tableName string, columns []string, where table.Predicate, idx *bptree.Index, field, op string, value interface{}) ([]page.Record, error) {
	var refs []bptree.RecordRef
	var err error
	switch op {
	case "=":
		refs, err = idx.Search(value)
	case ">", ">=":
		if _, numeric := value.(float64); !numeric {
			return nil, fmt.Errorf("index range lower bound %v is not numeric", value)
		}
		refs, err = idx.RangeSearch(value, maxKey())
	case "<", "<=":
		refs, err = idx.RangeSearch(minKey(), value)
	default:
		return nil, fmt.Errorf("unsupported index operator %q", op)
	}
	if err != nil {
		return nil, err
	}
	// RangeSearch is always inclusive on both ends; a strict operator
	// (">" / "<") is re-enforced below by matchesRemaining, which
	// re-checks the full where predicate (including this field's exact
	// operator) against the fetched row.

	seen := make(map[table.RecordID]bool, len(refs))
	var out []page.Record
	for _, ref := range refs {
		id, err := decodeRef(ref)
		if err != nil {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, ok, err := e.tables.GetByID(id)
		if err != nil || !ok {
			continue
		}
		if !matchesRemaining(rec, where) {
			continue
		}
		out = append(out, projectColumns(rec, columns))
	}
	return out, nil
}

func maxKey() interface{} { return float64(1<<63 - 1) }
func minKey() interface{} { return float64(-(1 << 62)) }

func matchesRemaining(rec page.Record, where table.Predicate) bool {
	return table.Matches(rec, where)
}

func projectColumns(rec page.Record, columns []string) page.Record {
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

// Update applies values to every matching row, recording a RESTORE
// undo entry per affected row when a transaction is active, and keeps
// every index in sync by deleting each matched row's old key and
// inserting its new one, whether or not the indexed column changed.
func (e *Engine) Update(tableName string, values page.Record, where table.Predicate) (int, error) {
	matched, err := e.tables.Select(tableName, nil, where, 0)
	if err != nil {
		return 0, err
	}

	updated, err := e.tables.Update(tableName, values, where)
	if err != nil {
		return updated, err
	}

	e.mu.Lock()
	e.stats.RecordsUpdated += int64(updated)
	if e.txActive {
		for _, r := range matched {
			e.undoLog = append(e.undoLog, undoEntry{op: undoRestore, table: tableName, original: r.Record, pred: exactMatch(mergeRecord(r.Record, values))})
		}
	}
	e.mu.Unlock()

	for _, r := range matched {
		merged := mergeRecord(r.Record, values)
		for _, idx := range e.indexes.ForTable(tableName) {
			oldKey, oldOk := indexKey(idx, r.Record)
			newKey, newOk := indexKey(idx, merged)
			if !oldOk && !newOk {
				continue
			}
			ref := encodeRef(r.ID)
			if oldOk {
				idx.Delete(oldKey, ref)
			}
			if newOk {
				idx.Insert(newKey, ref)
			}
		}
	}

	if _, err := e.pool.FlushAll(); err != nil {
		return updated, errs.New(errs.IOFailure, "update", err)
	}
	return updated, nil
}

func mergeRecord(rec, values page.Record) page.Record {
	out := make(page.Record, len(rec)+len(values))
	for k, v := range rec {
		out[k] = v
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Delete removes every matching row, recording an INSERT undo entry
// per removed row when a transaction is active, and removes each
// row's entries from every index defined on the table.
func (e *Engine) Delete(tableName string, where table.Predicate) (int, error) {
	rows, err := e.tables.Select(tableName, nil, where, 0)
	if err != nil {
		return 0, err
	}

	deleted, err := e.tables.Delete(tableName, where)
	if err != nil {
		return deleted, err
	}

	e.mu.Lock()
	e.stats.RecordsDeleted += int64(deleted)
	if e.txActive {
		for _, r := range rows {
			e.undoLog = append(e.undoLog, undoEntry{op: undoInsert, table: tableName, record: r.Record})
		}
	}
	e.mu.Unlock()

	for _, r := range rows {
		if err := e.updateIndexesOnDelete(tableName, r.ID, r.Record); err != nil {
			return deleted, err
		}
	}

	if _, err := e.pool.FlushAll(); err != nil {
		return deleted, errs.New(errs.IOFailure, "delete", err)
	}
	return deleted, nil
}

// CreateIndex defines a new B+tree index over one or more columns of
// a table and backfills it from every existing row.
func (e *Engine) CreateIndex(name, tableName string, columns []string, unique bool) error {
	idx, err := e.indexes.CreateIndex(name, tableName, columns, bptree.DefaultOrder, unique)
	if err != nil {
		return err
	}
	rows, err := e.tables.Select(tableName, nil, nil, 0)
	if err != nil {
		return err
	}
	for _, r := range rows {
		key, ok := indexKey(idx, r.Record)
		if !ok {
			continue
		}
		if err := idx.Insert(key, encodeRef(r.ID)); err != nil {
			return err
		}
	}
	return nil
}

// DropIndex removes an index definition.
func (e *Engine) DropIndex(name string) error { return e.indexes.DropIndex(name) }

// ListIndexes lists every defined index.
func (e *Engine) ListIndexes() []string { return e.indexes.List() }

// BeginTransaction starts a new transaction, clearing any prior undo
// log and minting a fresh transaction id.
func (e *Engine) BeginTransaction() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txActive = true
	e.txID = uuid.NewString()
	e.undoLog = e.undoLog[:0]
	if e.mtr != nil {
		e.mtr.RecordTransaction("begin")
	}
	return e.txID
}

// CommitTransaction ends the active transaction, discarding its undo
// log.
func (e *Engine) CommitTransaction() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txActive = false
	e.undoLog = e.undoLog[:0]
	if e.mtr != nil {
		e.mtr.RecordTransaction("commit")
	}
}

// RollbackTransaction undoes every entry in the active transaction's
// undo log in LIFO order, then ends the transaction.
func (e *Engine) RollbackTransaction() error {
	e.mu.Lock()
	if !e.txActive {
		e.mu.Unlock()
		return nil
	}
	log := e.undoLog
	e.undoLog = nil
	e.txActive = false
	e.mu.Unlock()

	for i := len(log) - 1; i >= 0; i-- {
		entry := log[i]
		switch entry.op {
		case undoDelete:
			rows, err := e.tables.Select(entry.table, nil, entry.pred, 0)
			if err != nil {
				return err
			}
			if _, err := e.tables.Delete(entry.table, entry.pred); err != nil {
				return err
			}
			for _, r := range rows {
				e.updateIndexesOnDelete(entry.table, r.ID, r.Record)
			}
		case undoInsert:
			id, err := e.tables.Insert(entry.table, entry.record)
			if err != nil {
				return err
			}
			e.updateIndexesOnInsert(entry.table, id, entry.record)
		case undoRestore:
			rows, err := e.tables.Select(entry.table, nil, entry.pred, 0)
			if err == nil {
				for _, r := range rows {
					e.updateIndexesOnDelete(entry.table, r.ID, r.Record)
				}
			}
			if _, err := e.tables.Delete(entry.table, entry.pred); err != nil {
				return err
			}
			id, err := e.tables.Insert(entry.table, entry.original)
			if err != nil {
				return err
			}
			e.updateIndexesOnInsert(entry.table, id, entry.original)
		}
	}
	if e.mtr != nil {
		e.mtr.RecordTransaction("rollback")
	}
	_, err := e.pool.FlushAll()
	return err
}

// Stats returns a snapshot of the engine's running counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Shutdown flushes every dirty page before the engine stops serving
// requests.
func (e *Engine) Shutdown() error {
	e.log.LogEngineShutdown()
	_, err := e.pool.FlushAll()
	return err
}
