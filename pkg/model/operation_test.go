// Copyright 2025 Certen Protocol

package model

import (
	"testing"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/stretchr/testify/require"
)

func TestOperation_VerifyHash(t *testing.T) {
	op := &Operation{Kind: OpInsert, SQL: "INSERT INTO users VALUES (1)", Tables: []string{"users"}}
	op.Hash = op.ComputeHash(cryptohash.DefaultAlgorithm)
	require.True(t, op.VerifyHash(cryptohash.DefaultAlgorithm))

	op.SQL = "tampered"
	require.False(t, op.VerifyHash(cryptohash.DefaultAlgorithm))
}

func TestOperation_HashDiffersByRowsBeforeAfter(t *testing.T) {
	op1 := &Operation{Kind: OpUpdate, RowsBefore: cryptohash.Zero, RowsAfter: cryptohash.Zero}
	before := cryptohash.Digest(cryptohash.DefaultAlgorithm, cryptohash.TagLeaf, []byte("x"))
	op2 := &Operation{Kind: OpUpdate, RowsBefore: before, RowsAfter: cryptohash.Zero}
	require.NotEqual(t,
		op1.ComputeHash(cryptohash.DefaultAlgorithm),
		op2.ComputeHash(cryptohash.DefaultAlgorithm),
	)
}

func TestOperationKind_Classification(t *testing.T) {
	require.True(t, OpInsert.IsDataModifying())
	require.True(t, OpUpdate.IsDataModifying())
	require.True(t, OpDelete.IsDataModifying())
	require.False(t, OpQuery.IsDataModifying())

	require.True(t, OpCreateAlterDropTable.IsSchemaChanging())
	require.True(t, OpCreateDropIndex.IsSchemaChanging())
	require.False(t, OpInsert.IsSchemaChanging())
}

func TestOperationKind_String(t *testing.T) {
	require.Equal(t, "insert", OpInsert.String())
	require.Contains(t, OperationKind(200).String(), "operationkind")
}
