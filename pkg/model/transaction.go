// Copyright 2025 Certen Protocol

package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// TransactionKind classifies a transaction by the broadest effect any of
// its operations had.
type TransactionKind uint8

const (
	TxReadOnly TransactionKind = iota
	TxReadWrite
	TxSchemaChange
	TxSystem
)

func (k TransactionKind) String() string {
	names := [...]string{"read_only", "read_write", "schema_change", "system"}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("transactionkind(%d)", uint8(k))
}

// ClassifyTransaction derives a TransactionKind from the operations that
// made up a transaction: any schema-changing operation dominates, else any
// data-modifying operation makes it read-write, else it is read-only.
func ClassifyTransaction(ops []Operation) TransactionKind {
	readWrite := false
	for _, op := range ops {
		if op.Kind.IsSchemaChanging() {
			return TxSchemaChange
		}
		if op.Kind.IsDataModifying() {
			readWrite = true
		}
	}
	if readWrite {
		return TxReadWrite
	}
	return TxReadOnly
}

// VerificationStatus tracks a TransactionRecord's position in the
// orchestrator's begin/complete lifecycle (spec section 4.5). It is
// deliberately not folded into the record's stored hash: the hash binds the
// transaction's identity, not the orchestrator's in-flight bookkeeping about
// it.
type VerificationStatus uint8

const (
	VerificationNotVerified VerificationStatus = iota
	VerificationInProgress
	VerificationVerified
	VerificationFailed
	VerificationSkipped
)

func (s VerificationStatus) String() string {
	names := [...]string{"not_verified", "in_progress", "verified", "failed", "skipped"}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("verificationstatus(%d)", uint8(s))
}

// TransactionRecord is the committed record of one source-database
// transaction: its ordered operations, pre/post state roots, and external
// correlation metadata.
type TransactionRecord struct {
	ID           uuid.UUID
	BlockNumber  uint64
	Kind         TransactionKind
	StartTime    time.Time
	EndTime      time.Time
	Operations   []Operation
	PreRoot      cryptohash.Hash
	PostRoot     cryptohash.Hash
	Savepoints   map[string]int // savepoint name -> index into Operations at time of SAVEPOINT
	ExternalPID  int64
	ExternalTxID uint64
	ClientInfo   string
	Metadata     []byte // json.RawMessage-backed opaque metadata blob
	Hash         cryptohash.Hash

	// Status and Error are the orchestrator's live verification bookkeeping;
	// see VerificationStatus.
	Status VerificationStatus
	Error  string
}

// Duration returns EndTime - StartTime. Per spec invariant, this must never
// be negative.
func (tx *TransactionRecord) Duration() time.Duration {
	return tx.EndTime.Sub(tx.StartTime)
}

// Validate checks the duration invariant: end must not precede start.
func (tx *TransactionRecord) Validate() error {
	if tx.EndTime.Before(tx.StartTime) {
		return fmt.Errorf("model: transaction %s ends before it starts", tx.ID)
	}
	return nil
}

// ComputeHash derives the transaction's stored hash from its fields in
// fixed order.
func (tx *TransactionRecord) ComputeHash(algo cryptohash.Algorithm) cryptohash.Hash {
	parts := [][]byte{
		tx.ID[:],
		cryptohash.BE64(tx.BlockNumber),
		{byte(tx.Kind)},
		cryptohash.MillisBE(tx.StartTime.UnixMilli()),
		cryptohash.MillisBE(tx.EndTime.UnixMilli()),
	}
	for i := range tx.Operations {
		parts = append(parts, tx.Operations[i].Hash.Bytes())
	}
	parts = append(parts, tx.PreRoot.Bytes(), tx.PostRoot.Bytes())

	names := make([]string, 0, len(tx.Savepoints))
	for name := range tx.Savepoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, []byte(name), cryptohash.BE64(uint64(tx.Savepoints[name])))
	}

	parts = append(parts,
		cryptohash.BE64(uint64(tx.ExternalPID)),
		cryptohash.BE64(tx.ExternalTxID),
		[]byte(tx.ClientInfo),
		tx.Metadata,
	)
	return cryptohash.Digest(algo, cryptohash.TagTransaction, parts...)
}

// VerifyHash reports whether tx.Hash equals ComputeHash(algo).
func (tx *TransactionRecord) VerifyHash(algo cryptohash.Algorithm) bool {
	return tx.Hash == tx.ComputeHash(algo)
}
