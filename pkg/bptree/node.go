// Package bptree implements an order-m B+tree secondary index whose
// nodes are persisted one-per-page through the buffer pool, mirroring
// the reference index's split/search/delete semantics.
package bptree

import (
	"encoding/json"
	"fmt"

	"github.com/treecore/treecore/pkg/page"
)

// Key is any JSON-comparable scalar: float64, string, or bool. Tuple
// (composite) keys are represented as []interface{} and compared
// lexicographically, matching the reference implementation's
// tuple-key handling.
type Key = interface{}

// RecordRef is an opaque, string-encoded pointer to a row, handed in
// by the caller (the engine) and returned unexamined from searches.
type RecordRef = string

// node is the decoded form of one INDEX page: a B+tree node.
type node struct {
	pageID   page.ID
	isLeaf   bool
	keys     []Key
	children []interface{} // page IDs held as float64 for internal nodes, RecordRef for leaves
	nextLeaf page.ID
}

type nodeWire struct {
	IsLeaf   bool          `json:"is_leaf"`
	Keys     []interface{} `json:"keys"`
	Children []interface{} `json:"children"`
	NextLeaf uint32        `json:"next_leaf"`
}

func (n *node) childPage(i int) page.ID {
	return page.ID(uint32(n.children[i].(float64)))
}

func (n *node) childRef(i int) RecordRef {
	return n.children[i].(string)
}

func decodeNode(pg *page.Page) (*node, error) {
	records, err := pg.Records()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("page %d holds no node record", pg.Header.PageID)
	}
	raw, ok := records[0]["node_data"].(string)
	if !ok {
		return nil, fmt.Errorf("page %d: malformed node_data", pg.Header.PageID)
	}
	var w nodeWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode node %d: %w", pg.Header.PageID, err)
	}
	n := &node{
		pageID:   pg.Header.PageID,
		isLeaf:   w.IsLeaf,
		keys:     w.Keys,
		children: w.Children,
		nextLeaf: page.NoID,
	}
	if w.NextLeaf != 0 {
		n.nextLeaf = page.ID(w.NextLeaf)
	}
	return n, nil
}

// encodeInto rewrites pg's data area (wholesale, like the reference's
// _save_node) to hold n's encoded form as a single record.
func encodeInto(pg *page.Page, n *node) error {
	w := nodeWire{
		IsLeaf:   n.isLeaf,
		Keys:     n.keys,
		Children: n.children,
	}
	if n.nextLeaf != page.NoID {
		w.NextLeaf = uint32(n.nextLeaf)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	if err := pg.Repack(nil); err != nil {
		return err
	}
	ok, err := pg.AddRecord(page.Record{"node_type": "BPTREE_NODE", "node_data": string(data)})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("node %d does not fit in one page", n.pageID)
	}
	return nil
}

// compareKeys orders two keys: tuple/composite keys ([]interface{})
// compare lexicographically; scalars compare by JSON-decoded type
// (float64, string, bool). Mismatched types are ordered by a stable
// type rank so a traversal never panics on heterogeneous input.
func compareKeys(a, b Key) int {
	at, aok := a.([]interface{})
	bt, bok := b.([]interface{})
	if aok && bok {
		return compareTuples(at, bt)
	}
	return compareScalars(a, b)
}

func compareTuples(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareScalars(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func typeRank(v interface{}) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}

func compareScalars(a, b Key) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av && bv {
			return -1
		}
		return 1
	default:
		return 0
	}
}
