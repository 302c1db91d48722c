// Copyright 2025 Certen Protocol

package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowID_SingleColumn(t *testing.T) {
	id, err := RowID([]string{"id"}, map[string]Value{"id": NewInteger(1)})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestRowID_StableAcrossColumnOrder(t *testing.T) {
	cols1 := map[string]Value{"a": NewInteger(1), "b": NewInteger(2)}
	cols2 := map[string]Value{"b": NewInteger(2), "a": NewInteger(1)}
	id1, err := RowID([]string{"a", "b"}, cols1)
	require.NoError(t, err)
	id2, err := RowID([]string{"a", "b"}, cols2)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestRowID_DiffersByValue(t *testing.T) {
	id1, err := RowID([]string{"id"}, map[string]Value{"id": NewInteger(1)})
	require.NoError(t, err)
	id2, err := RowID([]string{"id"}, map[string]Value{"id": NewInteger(2)})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestRowID_NoPrimaryKey(t *testing.T) {
	_, err := RowID(nil, map[string]Value{"id": NewInteger(1)})
	require.Error(t, err)
}

func TestRowID_MissingColumn(t *testing.T) {
	_, err := RowID([]string{"id"}, map[string]Value{"other": NewInteger(1)})
	require.Error(t, err)
}

func TestRow_BytesIndependentOfColumnOrder(t *testing.T) {
	r, err := NewRow([]string{"id"}, map[string]Value{"id": NewInteger(1), "name": NewText("Alice")})
	require.NoError(t, err)

	clone := r.Clone()
	clone.Columns["name"] = NewText("Alice") // same value, different map instance
	require.Equal(t, r.Bytes(), clone.Bytes())
}

func TestRow_BytesDiffersByColumnValue(t *testing.T) {
	r1, err := NewRow([]string{"id"}, map[string]Value{"id": NewInteger(1), "name": NewText("Alice")})
	require.NoError(t, err)
	r2, err := NewRow([]string{"id"}, map[string]Value{"id": NewInteger(1), "name": NewText("Bob")})
	require.NoError(t, err)
	require.NotEqual(t, r1.Bytes(), r2.Bytes())
}

func TestRow_CloneIsIndependent(t *testing.T) {
	r, err := NewRow([]string{"id"}, map[string]Value{"id": NewInteger(1)})
	require.NoError(t, err)
	clone := r.Clone()
	clone.Columns["id"] = NewInteger(2)
	require.Equal(t, NewInteger(1), r.Columns["id"])
}
