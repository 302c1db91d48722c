// Copyright 2025 Certen Protocol

package model

import (
	"testing"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/stretchr/testify/require"
)

func sampleSchema() *TableSchema {
	return &TableSchema{
		Name: "users",
		Columns: []ColumnDef{
			{Name: "id", Type: ColumnType{Kind: ColumnInteger}, PrimaryKey: true},
			{Name: "name", Type: ColumnType{Kind: ColumnVarChar, Length: 100}, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestTableSchema_VerifyHash(t *testing.T) {
	s := sampleSchema()
	s.Hash = s.ComputeHash(cryptohash.DefaultAlgorithm)
	require.True(t, s.VerifyHash(cryptohash.DefaultAlgorithm))

	s.Hash[0] ^= 0xFF
	require.False(t, s.VerifyHash(cryptohash.DefaultAlgorithm))
}

func TestTableSchema_ComputeHashDiffersByField(t *testing.T) {
	s1 := sampleSchema()
	s2 := sampleSchema()
	s2.Name = "accounts"
	require.NotEqual(t, s1.ComputeHash(cryptohash.DefaultAlgorithm), s2.ComputeHash(cryptohash.DefaultAlgorithm))
}

func TestTableSchema_Clone_IndependentSlices(t *testing.T) {
	s := sampleSchema()
	s.ForeignKeys = []ForeignKey{{Columns: []string{"id"}, ReferencedTable: "other", ReferencedColumns: []string{"id"}}}
	clone := s.Clone()

	clone.Columns[0].Name = "changed"
	clone.PrimaryKey[0] = "changed"
	clone.ForeignKeys[0].Columns[0] = "changed"

	require.Equal(t, "id", s.Columns[0].Name)
	require.Equal(t, "id", s.PrimaryKey[0])
	require.Equal(t, "id", s.ForeignKeys[0].Columns[0])
}

func TestColumnType_CompatibleWith(t *testing.T) {
	require.True(t, (ColumnType{Kind: ColumnInteger}).CompatibleWith(ColumnType{Kind: ColumnBigInt}))
	require.False(t, (ColumnType{Kind: ColumnBigInt}).CompatibleWith(ColumnType{Kind: ColumnInteger}))

	require.True(t, (ColumnType{Kind: ColumnVarChar, Length: 10}).CompatibleWith(ColumnType{Kind: ColumnVarChar, Length: 20}))
	require.False(t, (ColumnType{Kind: ColumnVarChar, Length: 20}).CompatibleWith(ColumnType{Kind: ColumnVarChar, Length: 10}))

	require.True(t, (ColumnType{Kind: ColumnChar, Length: 5}).CompatibleWith(ColumnType{Kind: ColumnText}))
	require.True(t, (ColumnType{Kind: ColumnVarChar, Length: 5}).CompatibleWith(ColumnType{Kind: ColumnText}))

	require.False(t, (ColumnType{Kind: ColumnFloat}).CompatibleWith(ColumnType{Kind: ColumnText}))
	require.True(t, (ColumnType{Kind: ColumnInteger}).CompatibleWith(ColumnType{Kind: ColumnInteger}))
}

func TestTableSchema_ColumnLookup(t *testing.T) {
	s := sampleSchema()
	c, ok := s.Column("name")
	require.True(t, ok)
	require.Equal(t, ColumnVarChar, c.Type.Kind)

	_, ok = s.Column("missing")
	require.False(t, ok)
}
