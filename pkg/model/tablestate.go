// Copyright 2025 Certen Protocol

package model

import (
	"sort"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/merkle"
)

// TableState is the committed state of one table: its schema, its live rows
// keyed by row ID, and the Merkle tree built over those rows sorted by ID.
// Rebuilding a TableState from the same (schema, rows) pair always yields
// the same root, regardless of the order operations were applied in.
type TableState struct {
	Schema *TableSchema
	Rows   map[string]Row
	algo   cryptohash.Algorithm
	tree   *merkle.Tree
	Hash   cryptohash.Hash
}

// NewTableState builds an empty TableState for schema.
func NewTableState(algo cryptohash.Algorithm, schema *TableSchema) *TableState {
	ts := &TableState{
		Schema: schema,
		Rows:   make(map[string]Row),
		algo:   algo,
	}
	ts.rebuild()
	return ts
}

// sortedRowIDs returns the row IDs in ascending lexical order, the canonical
// leaf ordering for the table's Merkle tree.
func (ts *TableState) sortedRowIDs() []string {
	ids := make([]string, 0, len(ts.Rows))
	for id := range ts.Rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// rebuild reconstructs the Merkle tree and stored hash from the current row
// set, sorted by row ID. This is the only path that ever produces a new
// root: Insert/Update/Delete all funnel through it.
func (ts *TableState) rebuild() {
	ids := ts.sortedRowIDs()
	leaves := make([][]byte, len(ids))
	for i, id := range ids {
		leaves[i] = ts.Rows[id].Bytes()
	}
	if len(leaves) == 0 {
		ts.tree = merkle.NewTree(ts.algo, 1)
	} else {
		tree, err := merkle.BuildTree(ts.algo, leaves)
		if err != nil {
			panic(err) // unreachable: leaves is never empty here
		}
		ts.tree = tree
	}
	ts.Hash = ts.ComputeHash()
}

// ComputeHash derives the table-state stored hash from the schema hash and
// the row-tree root, in that fixed order.
func (ts *TableState) ComputeHash() cryptohash.Hash {
	return cryptohash.Digest(ts.algo, cryptohash.TagTableState, ts.Schema.Hash.Bytes(), ts.Root().Bytes())
}

// VerifyHash reports whether ts.Hash equals ComputeHash().
func (ts *TableState) VerifyHash() bool {
	return ts.Hash == ts.ComputeHash()
}

// Root returns the current row-tree root.
func (ts *TableState) Root() cryptohash.Hash {
	if ts.tree == nil {
		return cryptohash.Zero
	}
	return ts.tree.Root()
}

// Insert adds or overwrites row and rebuilds the tree/hash.
func (ts *TableState) Insert(row Row) {
	ts.Rows[row.ID] = row
	ts.rebuild()
}

// Update overwrites an existing row's columns. Returns false if no row with
// that ID exists.
func (ts *TableState) Update(row Row) bool {
	if _, ok := ts.Rows[row.ID]; !ok {
		return false
	}
	ts.Rows[row.ID] = row
	ts.rebuild()
	return true
}

// Delete removes the row with the given ID. Returns false if it did not
// exist.
func (ts *TableState) Delete(rowID string) bool {
	if _, ok := ts.Rows[rowID]; !ok {
		return false
	}
	delete(ts.Rows, rowID)
	ts.rebuild()
	return true
}

// RowProof returns an inclusion proof for the row at rowID against the
// current root, or false if the row does not exist.
func (ts *TableState) RowProof(rowID string) (*merkle.Proof, bool) {
	ids := ts.sortedRowIDs()
	for i, id := range ids {
		if id == rowID {
			proof, err := ts.tree.GenerateProof(uint64(i))
			if err != nil {
				return nil, false
			}
			return proof, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of ts, including an independently mutable row
// map and schema.
func (ts *TableState) Clone() *TableState {
	clone := &TableState{
		Schema: ts.Schema.Clone(),
		Rows:   make(map[string]Row, len(ts.Rows)),
		algo:   ts.algo,
	}
	for id, row := range ts.Rows {
		clone.Rows[id] = row.Clone()
	}
	clone.rebuild()
	return clone
}
