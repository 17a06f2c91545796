package table

import (
	"fmt"

	"github.com/treecore/treecore/pkg/errs"
	"github.com/treecore/treecore/pkg/page"
)

// ColumnType enumerates the scalar types a column may declare.
type ColumnType string

const (
	Integer   ColumnType = "INTEGER"
	Float     ColumnType = "FLOAT"
	String    ColumnType = "STRING"
	Boolean   ColumnType = "BOOLEAN"
	Date      ColumnType = "DATE"
	Timestamp ColumnType = "TIMESTAMP"
)

// Column describes one column of a table schema.
type Column struct {
	Name       string      `json:"name"`
	Type       ColumnType  `json:"type"`
	MaxLength  int         `json:"max_length,omitempty"`
	Nullable   bool        `json:"nullable"`
	Default    interface{} `json:"default_value,omitempty"`
	PrimaryKey bool        `json:"is_primary_key,omitempty"`
	Unique     bool        `json:"is_unique,omitempty"`
}

// zeroValue returns the type-appropriate zero value used to backfill
// a non-nullable column with no declared default during add_column.
func (c Column) zeroValue() interface{} {
	switch c.Type {
	case Integer:
		return float64(0)
	case Float:
		return float64(0)
	case String, Date, Timestamp:
		return ""
	case Boolean:
		return false
	default:
		return nil
	}
}

func (c Column) matchesType(v interface{}) bool {
	switch c.Type {
	case Integer:
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case Float:
		_, ok := v.(float64)
		return ok
	case String, Date, Timestamp:
		s, ok := v.(string)
		if !ok {
			return false
		}
		if c.Type == String && c.MaxLength > 0 && len(s) > c.MaxLength {
			return false
		}
		return true
	case Boolean:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// Schema is the ordered column list of a table.
type Schema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column looks up a column definition by name.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ApplyDefaults returns a copy of rec with default values filled in
// for every missing column that declares one.
func (s *Schema) ApplyDefaults(rec page.Record) page.Record {
	out := make(page.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, c := range s.Columns {
		if _, present := out[c.Name]; !present && c.Default != nil {
			out[c.Name] = c.Default
		}
	}
	return out
}

// Validate checks rec against the schema: every non-nullable column
// without a default must be present, and every present column's value
// must match its declared type.
func (s *Schema) Validate(rec page.Record) error {
	for _, c := range s.Columns {
		v, present := rec[c.Name]
		if !present {
			if !c.Nullable && c.Default == nil {
				return errs.New(errs.SchemaViolation, "validate",
					fmt.Errorf("column %q is required", c.Name))
			}
			continue
		}
		if v == nil {
			if !c.Nullable {
				return errs.New(errs.SchemaViolation, "validate",
					fmt.Errorf("column %q may not be null", c.Name))
			}
			continue
		}
		if !c.matchesType(v) {
			return errs.New(errs.SchemaViolation, "validate",
				fmt.Errorf("column %q has wrong type or exceeds max_length", c.Name))
		}
	}
	return nil
}

// backfillColumn returns rec with column c added if absent, using its
// default (or its type's zero value if non-nullable with no default).
func backfillColumn(rec page.Record, c Column) page.Record {
	if _, present := rec[c.Name]; present {
		return rec
	}
	out := make(page.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if c.Default != nil {
		out[c.Name] = c.Default
	} else if !c.Nullable {
		out[c.Name] = c.zeroValue()
	}
	return out
}
