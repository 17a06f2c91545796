package bptree

import (
	"fmt"
	"math"
	"time"

	"github.com/treecore/treecore/internal/logger"
	"github.com/treecore/treecore/internal/metrics"
	"github.com/treecore/treecore/pkg/buffer"
	"github.com/treecore/treecore/pkg/errs"
	"github.com/treecore/treecore/pkg/page"
)

// DefaultOrder is the B+tree order used when a definition does not
// specify one explicitly.
const DefaultOrder = 4

// Index is a single B+tree secondary index over one or more columns
// of a table, backed by INDEX-kind pages addressed through the
// buffer pool.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Order   int
	Unique  bool

	rootPageID page.ID
	leafHead   page.ID

	pool *buffer.Pool
	log  *logger.Logger
	mtr  *metrics.Metrics
}

// NewIndex creates a fresh index with a single empty leaf as its root.
func NewIndex(name, table string, columns []string, order int, unique bool, pool *buffer.Pool, log *logger.Logger, mtr *metrics.Metrics) (*Index, error) {
	if order <= 1 {
		order = DefaultOrder
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	idx := &Index{
		Name:    name,
		Table:   table,
		Columns: columns,
		Order:   order,
		Unique:  unique,
		pool:    pool,
		log:     log,
		mtr:     mtr,
	}
	if err := idx.createRoot(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Attach reconstructs an Index handle around an index whose root page
// already exists (used when reloading from the index catalog).
func Attach(name, table string, columns []string, order int, unique bool, root, leafHead page.ID, pool *buffer.Pool, log *logger.Logger, mtr *metrics.Metrics) *Index {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Index{
		Name: name, Table: table, Columns: columns, Order: order, Unique: unique,
		rootPageID: root, leafHead: leafHead,
		pool: pool, log: log, mtr: mtr,
	}
}

// RootPageID and LeafHeadPageID expose the index's persisted roots,
// for catalog serialization.
func (idx *Index) RootPageID() page.ID     { return idx.rootPageID }
func (idx *Index) LeafHeadPageID() page.ID { return idx.leafHead }

func (idx *Index) createRoot() error {
	pg, err := idx.pool.CreatePage(page.KindIndex)
	if err != nil {
		return errs.New(errs.IOFailure, "create_root", err)
	}
	n := &node{pageID: pg.Header.PageID, isLeaf: true, children: []interface{}{}}
	if err := encodeInto(pg, n); err != nil {
		idx.pool.UnpinPage(pg.Header.PageID, false)
		return errs.New(errs.IOFailure, "create_root", err)
	}
	idx.pool.UnpinPage(pg.Header.PageID, true)
	idx.rootPageID = pg.Header.PageID
	idx.leafHead = pg.Header.PageID
	return nil
}

func (idx *Index) loadNode(id page.ID) (*node, error) {
	pg, err := idx.pool.GetPage(id)
	if err != nil {
		return nil, err
	}
	if pg == nil {
		return nil, nil
	}
	n, err := decodeNode(pg)
	idx.pool.UnpinPage(id, false)
	return n, err
}

func (idx *Index) saveNode(n *node) error {
	pg, err := idx.pool.GetPage(n.pageID)
	if err != nil {
		return err
	}
	if pg == nil {
		return fmt.Errorf("save node: page %d not found", n.pageID)
	}
	if err := encodeInto(pg, n); err != nil {
		idx.pool.UnpinPage(n.pageID, false)
		return err
	}
	return idx.pool.UnpinPage(n.pageID, true)
}

func (idx *Index) findChildIndex(n *node, key Key) int {
	for i, k := range n.keys {
		if compareKeys(key, k) < 0 {
			return i
		}
	}
	return len(n.keys)
}

func (idx *Index) findLeafNode(id page.ID, key Key) (*node, error) {
	n, err := idx.loadNode(id)
	if err != nil || n == nil {
		return n, err
	}
	if n.isLeaf {
		return n, nil
	}
	ci := idx.findChildIndex(n, key)
	if ci >= len(n.children) {
		return nil, nil
	}
	return idx.findLeafNode(n.childPage(ci), key)
}

// Insert adds key -> ref to the index, splitting nodes as needed and
// growing a new root when the existing root splits. For unique
// indexes, a pre-existing key is rejected as errs.Conflict.
func (idx *Index) Insert(key Key, ref RecordRef) error {
	start := time.Now()
	if idx.Unique {
		existing, err := idx.Search(key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errs.New(errs.Conflict, "insert",
				fmt.Errorf("unique index %q: key %v already exists", idx.Name, key))
		}
	}

	root, err := idx.loadNode(idx.rootPageID)
	if err != nil {
		return errs.New(errs.IOFailure, "insert", err)
	}
	if root == nil {
		return errs.New(errs.Corruption, "insert", fmt.Errorf("index %q: root page missing", idx.Name))
	}

	newSiblingID, separator, err := idx.insertRecursive(root, key, ref)
	if err != nil {
		return err
	}
	if newSiblingID != page.NoID {
		if err := idx.growRoot(newSiblingID, separator); err != nil {
			return err
		}
	}
	idx.recordOp("insert", start)
	return nil
}

func (idx *Index) growRoot(newSiblingID page.ID, separator Key) error {
	pg, err := idx.pool.CreatePage(page.KindIndex)
	if err != nil {
		return errs.New(errs.IOFailure, "insert", err)
	}
	newRoot := &node{
		pageID: pg.Header.PageID,
		isLeaf: false,
		children: []interface{}{
			float64(uint32(idx.rootPageID)),
			float64(uint32(newSiblingID)),
		},
	}
	if separator != nil {
		newRoot.keys = []Key{separator}
	}
	if err := encodeInto(pg, newRoot); err != nil {
		idx.pool.UnpinPage(pg.Header.PageID, false)
		return errs.New(errs.IOFailure, "insert", err)
	}
	idx.pool.UnpinPage(pg.Header.PageID, true)
	idx.rootPageID = pg.Header.PageID
	return nil
}

// insertRecursive mirrors the reference's _insert_recursive: it
// returns the page id of a newly split sibling node and the separator
// key to promote to the parent, or (page.NoID, nil) if no split
// occurred. The separator is computed at the split site (splitLeaf
// duplicates its median, splitInternal promotes and removes its
// median) and threaded back up rather than re-derived from the
// sibling's first key, since for an internal split the sibling's
// first key is NOT the separator — the true median was already
// removed from it.
func (idx *Index) insertRecursive(n *node, key Key, ref RecordRef) (page.ID, Key, error) {
	if n.isLeaf {
		return idx.insertIntoLeaf(n, key, ref)
	}
	ci := idx.findChildIndex(n, key)
	child, err := idx.loadNode(n.childPage(ci))
	if err != nil || child == nil {
		return page.NoID, nil, errs.New(errs.IOFailure, "insert", fmt.Errorf("load child: %w", err))
	}
	newChildID, separator, err := idx.insertRecursive(child, key, ref)
	if err != nil {
		return page.NoID, nil, err
	}
	if newChildID == page.NoID {
		return page.NoID, nil, nil
	}
	current, err := idx.loadNode(n.pageID)
	if err != nil || current == nil {
		return page.NoID, nil, errs.New(errs.IOFailure, "insert", fmt.Errorf("reload node: %w", err))
	}
	return idx.insertIntoNode(current, newChildID, separator)
}

func (idx *Index) insertIntoLeaf(n *node, key Key, ref RecordRef) (page.ID, Key, error) {
	pos := 0
	for pos < len(n.keys) && compareKeys(n.keys[pos], key) < 0 {
		pos++
	}
	n.keys = insertKeyAt(n.keys, pos, key)
	n.children = insertChildAt(n.children, pos, ref)

	if len(n.keys) > idx.Order {
		return idx.splitLeaf(n)
	}
	if err := idx.saveNode(n); err != nil {
		return page.NoID, nil, errs.New(errs.IOFailure, "insert", err)
	}
	return page.NoID, nil, nil
}

func (idx *Index) insertIntoNode(n *node, newChildID page.ID, separator Key) (page.ID, Key, error) {
	pos := 0
	for pos < len(n.keys) && compareKeys(n.keys[pos], separator) < 0 {
		pos++
	}
	n.keys = insertKeyAt(n.keys, pos, separator)
	n.children = insertChildAt(n.children, pos+1, float64(uint32(newChildID)))

	if len(n.keys) > idx.Order {
		return idx.splitInternal(n)
	}
	if err := idx.saveNode(n); err != nil {
		return page.NoID, nil, errs.New(errs.IOFailure, "insert", err)
	}
	return page.NoID, nil, nil
}

// splitLeaf mirrors _split_leaf_node: the median and everything after
// it move to a new right sibling, which is linked in via next_leaf.
// Unlike an internal split, the median key is NOT removed — it is
// duplicated as the new sibling's first key, because leaf keys must
// remain searchable.
func (idx *Index) splitLeaf(n *node) (page.ID, Key, error) {
	splitIndex := int(math.Ceil(float64(idx.Order) / 2))

	pg, err := idx.pool.CreatePage(page.KindIndex)
	if err != nil {
		return page.NoID, nil, errs.New(errs.IOFailure, "split_leaf", err)
	}
	sibling := &node{
		pageID:   pg.Header.PageID,
		isLeaf:   true,
		keys:     append([]Key{}, n.keys[splitIndex:]...),
		children: append([]interface{}{}, n.children[splitIndex:]...),
		nextLeaf: n.nextLeaf,
	}
	n.keys = n.keys[:splitIndex]
	n.children = n.children[:splitIndex]
	n.nextLeaf = pg.Header.PageID

	if err := idx.saveNode(n); err != nil {
		idx.pool.UnpinPage(pg.Header.PageID, false)
		return page.NoID, nil, errs.New(errs.IOFailure, "split_leaf", err)
	}
	if err := encodeInto(pg, sibling); err != nil {
		idx.pool.UnpinPage(pg.Header.PageID, false)
		return page.NoID, nil, errs.New(errs.IOFailure, "split_leaf", err)
	}
	idx.pool.UnpinPage(pg.Header.PageID, true)
	return pg.Header.PageID, sibling.keys[0], nil
}

// splitInternal mirrors _split_internal_node: the median key is
// promoted to the parent and REMOVED from both halves (internal keys
// are pure separators, not data); the new right sibling keeps the
// children after the median. The promoted median is returned
// explicitly — it must not be re-derived from the sibling's first
// key, since that key is the one immediately after the median, not
// the median itself.
func (idx *Index) splitInternal(n *node) (page.ID, Key, error) {
	splitIndex := int(math.Ceil(float64(idx.Order) / 2))
	median := n.keys[splitIndex]

	pg, err := idx.pool.CreatePage(page.KindIndex)
	if err != nil {
		return page.NoID, nil, errs.New(errs.IOFailure, "split_internal", err)
	}
	sibling := &node{
		pageID:   pg.Header.PageID,
		isLeaf:   false,
		keys:     append([]Key{}, n.keys[splitIndex+1:]...),
		children: append([]interface{}{}, n.children[splitIndex+1:]...),
	}
	n.keys = n.keys[:splitIndex]
	n.children = n.children[:splitIndex+1]

	if err := idx.saveNode(n); err != nil {
		idx.pool.UnpinPage(pg.Header.PageID, false)
		return page.NoID, nil, errs.New(errs.IOFailure, "split_internal", err)
	}
	if err := encodeInto(pg, sibling); err != nil {
		idx.pool.UnpinPage(pg.Header.PageID, false)
		return page.NoID, nil, errs.New(errs.IOFailure, "split_internal", err)
	}
	idx.pool.UnpinPage(pg.Header.PageID, true)
	return pg.Header.PageID, median, nil
}

func insertKeyAt(keys []Key, pos int, key Key) []Key {
	keys = append(keys, nil)
	copy(keys[pos+1:], keys[pos:])
	keys[pos] = key
	return keys
}

func insertChildAt(children []interface{}, pos int, child interface{}) []interface{} {
	children = append(children, nil)
	copy(children[pos+1:], children[pos:])
	children[pos] = child
	return children
}

// Search returns every RecordRef stored under key.
func (idx *Index) Search(key Key) ([]RecordRef, error) {
	n, err := idx.findLeafNode(idx.rootPageID, key)
	if err != nil {
		return nil, errs.New(errs.IOFailure, "search", err)
	}
	if n == nil {
		return nil, nil
	}
	var out []RecordRef
	for i, k := range n.keys {
		c := compareKeys(k, key)
		if c == 0 {
			out = append(out, n.childRef(i))
		} else if c > 0 {
			break
		}
	}
	return out, nil
}

// RangeSearch returns every RecordRef whose key lies in [start, end],
// walking the leaf chain from the first qualifying leaf forward.
func (idx *Index) RangeSearch(start, end Key) ([]RecordRef, error) {
	n, err := idx.findLeafNode(idx.rootPageID, start)
	if err != nil {
		return nil, errs.New(errs.IOFailure, "range_search", err)
	}
	var out []RecordRef
	for n != nil {
		for i, k := range n.keys {
			if compareKeys(k, start) >= 0 && compareKeys(k, end) <= 0 {
				out = append(out, n.childRef(i))
			} else if compareKeys(k, end) > 0 {
				return out, nil
			}
		}
		if n.nextLeaf == page.NoID {
			break
		}
		n, err = idx.loadNode(n.nextLeaf)
		if err != nil {
			return out, errs.New(errs.IOFailure, "range_search", err)
		}
	}
	return out, nil
}

// Delete removes every entry for key. If ref is non-empty, only the
// entry matching both key and ref is removed; otherwise every entry
// for key is removed. Matches the reference's explicit choice to
// never rebalance or merge underflowed nodes after a delete.
func (idx *Index) Delete(key Key, ref RecordRef) (bool, error) {
	start := time.Now()
	n, err := idx.findLeafNode(idx.rootPageID, key)
	if err != nil {
		return false, errs.New(errs.IOFailure, "delete", err)
	}
	if n == nil {
		return false, nil
	}

	var toRemove []int
	for i, k := range n.keys {
		if compareKeys(k, key) == 0 && (ref == "" || n.childRef(i) == ref) {
			toRemove = append(toRemove, i)
		}
	}
	if len(toRemove) == 0 {
		return false, nil
	}
	for i := len(toRemove) - 1; i >= 0; i-- {
		pos := toRemove[i]
		n.keys = append(n.keys[:pos], n.keys[pos+1:]...)
		n.children = append(n.children[:pos], n.children[pos+1:]...)
	}
	if err := idx.saveNode(n); err != nil {
		return false, errs.New(errs.IOFailure, "delete", err)
	}
	idx.recordOp("delete", start)
	return true, nil
}

// Update removes (oldKey, ref) and inserts (newKey, ref).
func (idx *Index) Update(oldKey, newKey Key, ref RecordRef) error {
	if _, err := idx.Delete(oldKey, ref); err != nil {
		return err
	}
	return idx.Insert(newKey, ref)
}

func (idx *Index) recordOp(op string, start time.Time) {
	duration := time.Since(start)
	idx.log.LogIndexOperation(idx.Name, op, duration, nil)
	if idx.mtr != nil {
		idx.mtr.RecordBptreeOperation(idx.Name, op)
	}
}
