// Copyright 2025 Certen Protocol

package model

import (
	"fmt"
	"sort"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// Row is a single row of a table, owned exclusively by the TableState that
// holds it. Its ID is a stable string derived from the projection of its
// primary-key columns, so the same logical row always maps to the same
// Merkle leaf slot regardless of column insertion order.
type Row struct {
	ID      string
	Columns map[string]Value
}

// RowID derives the stable row identifier from the primary-key column
// projection of columns, in schema-declared primary key order.
func RowID(primaryKey []string, columns map[string]Value) (string, error) {
	if len(primaryKey) == 0 {
		return "", fmt.Errorf("model: schema has no primary key columns")
	}
	id := ""
	for i, col := range primaryKey {
		v, ok := columns[col]
		if !ok {
			return "", fmt.Errorf("model: primary key column %q missing from row", col)
		}
		if i > 0 {
			id += "\x1f" // unit separator; not expected in column textual forms
		}
		id += fmt.Sprintf("%x", v.Bytes())
	}
	return id, nil
}

// NewRow builds a Row from its primary key and columns, deriving ID via
// RowID.
func NewRow(primaryKey []string, columns map[string]Value) (Row, error) {
	id, err := RowID(primaryKey, columns)
	if err != nil {
		return Row{}, err
	}
	return Row{ID: id, Columns: columns}, nil
}

// Bytes serializes the row into canonical leaf-input bytes: the row ID, then
// each column's name and value, in ascending name order so the serialization
// is independent of map iteration order.
func (r Row) Bytes() []byte {
	names := make([]string, 0, len(r.Columns))
	for name := range r.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cryptohash.BE32(uint32(len(r.ID)))
	out = append(out, []byte(r.ID)...)
	out = append(out, cryptohash.BE32(uint32(len(names)))...)
	for _, name := range names {
		out = append(out, cryptohash.BE32(uint32(len(name)))...)
		out = append(out, []byte(name)...)
		out = append(out, r.Columns[name].Bytes()...)
	}
	return out
}

// Clone returns a copy of r whose Columns map is independent of r's.
func (r Row) Clone() Row {
	cols := make(map[string]Value, len(r.Columns))
	for k, v := range r.Columns {
		cols[k] = v
	}
	return Row{ID: r.ID, Columns: cols}
}
