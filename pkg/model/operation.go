// Copyright 2025 Certen Protocol

package model

import (
	"fmt"
	"time"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// OperationKind tags the kind of a single statement executed within a
// transaction.
type OperationKind uint8

const (
	OpQuery OperationKind = iota
	OpInsert
	OpUpdate
	OpDelete
	OpCreateAlterDropTable
	OpCreateDropIndex
	OpBegin
	OpCommit
	OpRollback
	OpSavepoint
	OpOther
)

func (k OperationKind) String() string {
	names := [...]string{
		"query", "insert", "update", "delete",
		"create_alter_drop_table", "create_drop_index",
		"begin", "commit", "rollback", "savepoint", "other",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("operationkind(%d)", uint8(k))
}

// IsDataModifying reports whether the operation kind can change row
// contents of a table (insert/update/delete).
func (k OperationKind) IsDataModifying() bool {
	return k == OpInsert || k == OpUpdate || k == OpDelete
}

// IsSchemaChanging reports whether the operation kind can change table or
// index structure.
func (k OperationKind) IsSchemaChanging() bool {
	return k == OpCreateAlterDropTable || k == OpCreateDropIndex
}

// Operation is a single statement executed within a transaction, with a
// stored hash derived from its fields.
type Operation struct {
	Kind          OperationKind
	SQL           string
	Params        []byte   // encoded parameter blob, nil when the statement carried none
	Tables        []string // affected tables, in statement order
	AffectedRows  []string // row IDs touched, in row-tree order
	RowsBefore    cryptohash.Hash
	RowsAfter     cryptohash.Hash
	Duration      time.Duration
	SequenceIndex uint64 // position within the owning transaction
	Hash          cryptohash.Hash
}

// ComputeHash derives the operation's stored hash from its fields in fixed
// order, domain-separating the before/after row-hash components so they can
// never be confused with a generic internal hash.
func (op *Operation) ComputeHash(algo cryptohash.Algorithm) cryptohash.Hash {
	before := cryptohash.Digest(algo, cryptohash.TagRowsBefore, op.RowsBefore.Bytes())
	after := cryptohash.Digest(algo, cryptohash.TagRowsAfter, op.RowsAfter.Bytes())
	parts := [][]byte{
		{byte(op.Kind)},
		[]byte(op.SQL),
		op.Params,
		cryptohash.BE64(op.SequenceIndex),
		cryptohash.BE64(uint64(op.Duration.Milliseconds())),
		before.Bytes(),
		after.Bytes(),
	}
	for _, t := range op.Tables {
		parts = append(parts, []byte(t))
	}
	for _, id := range op.AffectedRows {
		parts = append(parts, []byte(id))
	}
	return cryptohash.Digest(algo, cryptohash.TagOperation, parts...)
}

// VerifyHash reports whether op.Hash equals ComputeHash(algo).
func (op *Operation) VerifyHash(algo cryptohash.Algorithm) bool {
	return op.Hash == op.ComputeHash(algo)
}
