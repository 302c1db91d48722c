// Copyright 2025 Certen Protocol

package model

import (
	"testing"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func usersTableSchema() *TableSchema {
	s := &TableSchema{
		Name: "users",
		Columns: []ColumnDef{
			{Name: "id", Type: ColumnType{Kind: ColumnInteger}, PrimaryKey: true},
			{Name: "name", Type: ColumnType{Kind: ColumnVarChar, Length: 100}},
		},
		PrimaryKey: []string{"id"},
	}
	s.Hash = s.ComputeHash(cryptohash.DefaultAlgorithm)
	return s
}

func mustRow(t *testing.T, id int64, name string) Row {
	t.Helper()
	r, err := NewRow([]string{"id"}, map[string]Value{"id": NewInteger(id), "name": NewText(name)})
	require.NoError(t, err)
	return r
}

func TestTableState_EmptyRootMatchesEmptyTree(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	require.Equal(t, merkle.NewTree(cryptohash.DefaultAlgorithm, 1).Root(), ts.Root())
}

func TestTableState_RebuildIsOrderIndependent(t *testing.T) {
	schema := usersTableSchema()
	ts1 := NewTableState(cryptohash.DefaultAlgorithm, schema)
	ts1.Insert(mustRow(t, 1, "Alice"))
	ts1.Insert(mustRow(t, 2, "Bob"))

	ts2 := NewTableState(cryptohash.DefaultAlgorithm, schema)
	ts2.Insert(mustRow(t, 2, "Bob"))
	ts2.Insert(mustRow(t, 1, "Alice"))

	require.Equal(t, ts1.Root(), ts2.Root())
}

func TestTableState_InsertChangesRoot(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	empty := ts.Root()
	ts.Insert(mustRow(t, 1, "Alice"))
	require.NotEqual(t, empty, ts.Root())
}

func TestTableState_DeleteBackToEmptyRoot(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	empty := ts.Root()
	row := mustRow(t, 1, "Alice")
	ts.Insert(row)
	require.True(t, ts.Delete(row.ID))
	require.Equal(t, empty, ts.Root())
}

func TestTableState_UpdateUnknownRowFails(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	require.False(t, ts.Update(mustRow(t, 1, "Alice")))
}

func TestTableState_DeleteUnknownRowFails(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	require.False(t, ts.Delete("does-not-exist"))
}

func TestTableState_VerifyHash(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	ts.Insert(mustRow(t, 1, "Alice"))
	require.True(t, ts.VerifyHash())

	ts.Hash[0] ^= 0xFF
	require.False(t, ts.VerifyHash())
}

func TestTableState_RowProof(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	row := mustRow(t, 1, "Alice")
	ts.Insert(row)
	ts.Insert(mustRow(t, 2, "Bob"))

	proof, ok := ts.RowProof(row.ID)
	require.True(t, ok)
	require.True(t, merkle.VerifyProof(cryptohash.DefaultAlgorithm, proof, ts.Root()))

	_, ok = ts.RowProof("missing")
	require.False(t, ok)
}

func TestTableState_CloneIndependence(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	ts.Insert(mustRow(t, 1, "Alice"))

	clone := ts.Clone()
	clone.Insert(mustRow(t, 2, "Bob"))

	require.Len(t, ts.Rows, 1)
	require.Len(t, clone.Rows, 2)
	require.NotEqual(t, ts.Root(), clone.Root())
}

func TestTableState_RebuildDeterministicNoChanges(t *testing.T) {
	ts := NewTableState(cryptohash.DefaultAlgorithm, usersTableSchema())
	ts.Insert(mustRow(t, 1, "Alice"))
	root1 := ts.Root()
	ts.Update(mustRow(t, 1, "Alice")) // same contents
	require.Equal(t, root1, ts.Root())
}
