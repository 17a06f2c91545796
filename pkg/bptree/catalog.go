package bptree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/treecore/treecore/internal/logger"
	"github.com/treecore/treecore/internal/metrics"
	"github.com/treecore/treecore/pkg/buffer"
	"github.com/treecore/treecore/pkg/errs"
	"github.com/treecore/treecore/pkg/page"
)

const catalogFileName = "indexes.json"

// indexDef is the on-disk description of one index: just enough to
// reattach to its existing root/leaf-head pages. The reference
// BPTreeIndexManager never persists this (`_load_indexes` is a
// documented no-op stub); this catalog is a supplement so an index
// survives process restart, the same way table_schemas.json does for
// tables.
type indexDef struct {
	Name           string   `json:"name"`
	Table          string   `json:"table"`
	Columns        []string `json:"columns"`
	Order          int      `json:"order"`
	Unique         bool     `json:"is_unique"`
	RootPageID     uint32   `json:"root_page_id"`
	LeafHeadPageID uint32   `json:"leaf_head_page_id"`
}

// Catalog owns every index defined over the engine's tables and
// persists their definitions to indexes.json.
type Catalog struct {
	mu      sync.Mutex
	dataDir string
	pool    *buffer.Pool
	log     *logger.Logger
	mtr     *metrics.Metrics

	indexes map[string]*Index
}

// NewCatalog opens (or initializes) an index catalog, reattaching any
// indexes already recorded in indexes.json.
func NewCatalog(dataDir string, pool *buffer.Pool, log *logger.Logger, mtr *metrics.Metrics) (*Catalog, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	c := &Catalog{
		dataDir: dataDir,
		pool:    pool,
		log:     log.IndexLogger("catalog"),
		mtr:     mtr,
		indexes: make(map[string]*Index),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) path() string {
	return filepath.Join(c.dataDir, catalogFileName)
}

func (c *Catalog) load() error {
	data, err := os.ReadFile(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.IOFailure, "load_index_catalog", err)
	}
	var defs []indexDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return errs.New(errs.Corruption, "load_index_catalog", err)
	}
	for _, d := range defs {
		c.indexes[d.Name] = Attach(d.Name, d.Table, d.Columns, d.Order, d.Unique,
			page.ID(d.RootPageID), page.ID(d.LeafHeadPageID), c.pool, c.log, c.mtr)
	}
	return nil
}

func (c *Catalog) saveLocked() error {
	defs := make([]indexDef, 0, len(c.indexes))
	for _, idx := range c.indexes {
		defs = append(defs, indexDef{
			Name: idx.Name, Table: idx.Table, Columns: idx.Columns,
			Order: idx.Order, Unique: idx.Unique,
			RootPageID: uint32(idx.RootPageID()), LeafHeadPageID: uint32(idx.LeafHeadPageID()),
		})
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return errs.New(errs.IOFailure, "save_index_catalog", err)
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return errs.New(errs.IOFailure, "save_index_catalog", err)
	}
	return os.WriteFile(c.path(), data, 0o644)
}

// CreateIndex defines and persists a new index.
func (c *Catalog) CreateIndex(name, table string, columns []string, order int, unique bool) (*Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.indexes[name]; exists {
		return nil, errs.New(errs.Conflict, "create_index", fmt.Errorf("index %q already exists", name))
	}
	idx, err := NewIndex(name, table, columns, order, unique, c.pool, c.log, c.mtr)
	if err != nil {
		return nil, err
	}
	c.indexes[name] = idx
	if err := c.saveLocked(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Get returns a named index, if it exists.
func (c *Catalog) Get(name string) (*Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[name]
	return idx, ok
}

// ForTable returns every index defined over a given table, in no
// particular order.
func (c *Catalog) ForTable(table string) []*Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Index
	for _, idx := range c.indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

// DropIndex removes an index's catalog entry. Its pages are not
// reclaimed, matching the page store's never-reuse-PageId contract.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[name]; !exists {
		return errs.New(errs.NotFound, "drop_index", fmt.Errorf("index %q not found", name))
	}
	delete(c.indexes, name)
	return c.saveLocked()
}

// List returns every index name known to the catalog.
func (c *Catalog) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		out = append(out, name)
	}
	return out
}
