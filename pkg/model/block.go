// Copyright 2025 Certen Protocol

package model

import (
	"sort"
	"time"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/merkle"
)

// GenesisBlockNumber is the number of the first block a table-capture
// manager ever produces. It has no predecessor and no transactions.
const GenesisBlockNumber = 0

// BlockMetadata is the header's operator-supplied provenance: which backend
// and protocol versions produced the block, who operated the proxy, an
// optional signature over the header by the operator's key, and an opaque
// additional-data map (WAL-driven commits record the commit LSN here).
type BlockMetadata struct {
	BackendVersion    string
	ProtocolVersion   string
	OperatorID        string
	OperatorSignature []byte
	PublicKey         []byte
	AdditionalData    map[string]string
}

func (m *BlockMetadata) bytes() []byte {
	out := joinedBytes([]string{m.BackendVersion, m.ProtocolVersion, m.OperatorID})
	out = append(out, cryptohash.BE32(uint32(len(m.OperatorSignature)))...)
	out = append(out, m.OperatorSignature...)
	out = append(out, cryptohash.BE32(uint32(len(m.PublicKey)))...)
	out = append(out, m.PublicKey...)

	keys := make([]string, 0, len(m.AdditionalData))
	for k := range m.AdditionalData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, joinedBytes([]string{k, m.AdditionalData[k]})...)
	}
	return out
}

// BlockHeader is the committed, hash-chained header of one block: its
// number, the previous block's hash, the aggregate transactions root, the
// aggregate table-state root, and the operator metadata, all bound by the
// stored hash.
type BlockHeader struct {
	Number           uint64
	PreviousHash     cryptohash.Hash
	TransactionsRoot cryptohash.Hash
	StateRoot        cryptohash.Hash
	Timestamp        time.Time
	Metadata         BlockMetadata
	Hash             cryptohash.Hash
}

// IsGenesis reports whether h is the genesis header: number zero, a zero
// previous hash, and a transactions root equal to the state root (the
// genesis exception — there are no transactions to aggregate, so the state
// root stands in).
func (h *BlockHeader) IsGenesis() bool {
	return h.Number == GenesisBlockNumber && h.PreviousHash.IsZero() && h.TransactionsRoot == h.StateRoot
}

// ComputeHash derives the block header's stored hash, hash-chaining it to
// the previous block's hash.
func (h *BlockHeader) ComputeHash(algo cryptohash.Algorithm) cryptohash.Hash {
	return cryptohash.Digest(algo, cryptohash.TagBlock,
		cryptohash.BE64(h.Number),
		h.PreviousHash.Bytes(),
		h.TransactionsRoot.Bytes(),
		h.StateRoot.Bytes(),
		cryptohash.MillisBE(h.Timestamp.UnixMilli()),
		h.Metadata.bytes(),
	)
}

// VerifyHash reports whether h.Hash equals ComputeHash(algo).
func (h *BlockHeader) VerifyHash(algo cryptohash.Algorithm) bool {
	return h.Hash == h.ComputeHash(algo)
}

// BlockState is the full state associated with a block: its header, the
// transactions it committed keyed by ID, the per-table root that was live
// as of this block, and the transaction count (always equal to the size of
// the transaction map).
type BlockState struct {
	Header           BlockHeader
	Transactions     map[string]TransactionRecord // keyed by TransactionRecord.ID.String()
	TableRoots       map[string]cryptohash.Hash   // keyed by table name
	TransactionCount int
	TouchedTables    []string
}

// NewGenesisBlock builds the genesis BlockState over tableRoots: block
// number zero, all-zero previous hash, and a transactions root equal to the
// state root.
func NewGenesisBlock(algo cryptohash.Algorithm, tableRoots map[string]cryptohash.Hash, meta BlockMetadata, timestamp time.Time) *BlockState {
	root := StateRoot(algo, tableRoots)
	header := BlockHeader{
		Number:           GenesisBlockNumber,
		TransactionsRoot: root,
		StateRoot:        root,
		Timestamp:        timestamp,
		Metadata:         meta,
	}
	header.Hash = header.ComputeHash(algo)

	roots := make(map[string]cryptohash.Hash, len(tableRoots))
	for name, r := range tableRoots {
		roots[name] = r
	}
	return &BlockState{
		Header:       header,
		Transactions: make(map[string]TransactionRecord),
		TableRoots:   roots,
	}
}

// TransactionsRoot computes the aggregate root over the block's
// transactions, in ascending transaction-ID order. A block with no
// transactions has a zero transactions root rather than the hash of an
// empty set. The genesis exception (transactions root equal to the state
// root) is not applied here; NewGenesisBlock sets it.
func TransactionsRoot(algo cryptohash.Algorithm, txs map[string]TransactionRecord) cryptohash.Hash {
	if len(txs) == 0 {
		return cryptohash.Zero
	}
	ids := make([]string, 0, len(txs))
	for id := range txs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	hashes := make([]cryptohash.Hash, len(ids))
	for i, id := range ids {
		hashes[i] = txs[id].Hash
	}
	return cryptohash.AggregateHashes(algo, cryptohash.TagTransaction, hashes)
}

// StateRoot computes the aggregate root over the block's table roots: one
// leaf per table, ordered by table name ascending, placed into a fresh
// Merkle tree whose root is the state root (spec section 4.2). An empty
// table map yields the empty single-leaf tree's root, not the zero hash,
// so the state root remains a genuine tree root in every case.
func StateRoot(algo cryptohash.Algorithm, tableRoots map[string]cryptohash.Hash) cryptohash.Hash {
	names := make([]string, 0, len(tableRoots))
	for name := range tableRoots {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return merkle.NewTree(algo, 1).Root()
	}

	leaves := make([][]byte, len(names))
	for i, name := range names {
		leaves[i] = tableRoots[name].Bytes()
	}
	tree, err := merkle.BuildTree(algo, leaves)
	if err != nil {
		// Unreachable: leaves is never empty on this path.
		panic(err)
	}
	return tree.Root()
}
