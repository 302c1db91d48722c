// Copyright 2025 Certen Protocol
//
// Package cryptohash provides the domain-separated hash primitive shared by
// the Merkle tree and the data model. Every hash in the system is a 32-byte
// value produced by prepending a short ASCII domain tag to its input before
// hashing, so that two structurally different inputs never collide even when
// their payloads coincide.

package cryptohash

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2s"
)

// Size is the fixed width, in bytes, of every hash produced by this package.
const Size = 32

// Hash is a fixed 32-byte authenticator output.
type Hash [Size]byte

// Zero is the all-zero hash, used for genesis previous-block hashes and for
// empty aggregates (empty transaction sets, empty challenge evidence, etc).
var Zero Hash

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Bytes returns h as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// HashFromBytes copies b into a Hash, failing if b is not exactly Size bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("cryptohash: expected %d bytes, got %d", Size, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Algorithm identifies the underlying digest function. The persisted Merkle
// configuration (spec section 6) selects one of these for a given tree.
type Algorithm string

const (
	AlgorithmSHA256    Algorithm = "sha-256"
	AlgorithmBLAKE2s   Algorithm = "blake2s"
	AlgorithmKeccak256 Algorithm = "keccak-256"
)

// DefaultAlgorithm is used when configuration omits the field.
const DefaultAlgorithm = AlgorithmSHA256

// Domain tags. Each is a short ASCII label prepended to every hash input of
// that class, so that e.g. a leaf and an internal node with byte-identical
// payloads never produce the same hash.
const (
	TagLeaf        = "leaf"
	TagInternal    = "internal"
	TagEmpty       = "empty"
	TagRoot        = "root"
	TagTableState  = "table-state"
	TagBlock       = "block"
	TagTransaction = "transaction"
	TagOperation   = "operation"
	TagChallenge   = "challenge"
	TagRowsBefore  = "rows-before"
	TagRowsAfter   = "rows-after"
)

// Digest computes the domain-tagged hash of parts, using algo. The domain tag
// is always the first component of the hashed input: H(tag, part1, part2, ...).
func Digest(algo Algorithm, tag string, parts ...[]byte) Hash {
	switch algo {
	case AlgorithmBLAKE2s:
		return digestBlake2s(tag, parts)
	case AlgorithmKeccak256:
		return digestKeccak256(tag, parts)
	case "", AlgorithmSHA256:
		return digestSHA256(tag, parts)
	default:
		// Unknown algorithms silently fall back to the SHA-256 default and
		// report no error; callers validate Algorithm values
		// at configuration load time (pkg/config), so this path is only hit
		// for programmer error.
		return digestSHA256(tag, parts)
	}
}

func concat(tag string, parts [][]byte) []byte {
	n := len(tag)
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, tag...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func digestSHA256(tag string, parts [][]byte) Hash {
	return sha256.Sum256(concat(tag, parts))
}

func digestBlake2s(tag string, parts [][]byte) Hash {
	h, err := blake2s.New256(nil)
	if err != nil {
		// blake2s.New256 only errors on an oversized key, and we never pass
		// one; a failure here indicates a broken build of x/crypto.
		panic(fmt.Sprintf("cryptohash: blake2s.New256: %v", err))
	}
	h.Write(concat(tag, parts))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func digestKeccak256(tag string, parts [][]byte) Hash {
	var out Hash
	copy(out[:], crypto.Keccak256(concat(tag, parts)))
	return out
}

// BE64 big-endian encodes v, used for fixed-width integer fields in hashed
// payloads (heights, indices, timestamps) so that hash inputs are
// unambiguous regardless of host endianness.
func BE64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// BE32 big-endian encodes v.
func BE32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// MillisBE big-endian encodes a Unix-millisecond timestamp.
func MillisBE(unixMillis int64) []byte {
	return BE64(uint64(unixMillis))
}

// AggregateHashes combines a set of member hashes into a single
// domain-tagged digest, with a fixed zero result for the empty set. This is
// used for the rows-before/rows-after digests and the transactions root.
func AggregateHashes(algo Algorithm, tag string, members []Hash) Hash {
	if len(members) == 0 {
		return Zero
	}
	parts := make([][]byte, len(members))
	for i, m := range members {
		parts[i] = m.Bytes()
	}
	return Digest(algo, tag, parts...)
}
