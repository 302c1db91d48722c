// Copyright 2025 Certen Protocol
//
// SparseTree is the keyed variant of the secure Merkle tree: an address
// space of 2^height leaves where empty subtrees never require explicit
// storage. Default hashes per level are precomputed once at construction
// from a caller-supplied salt, so two otherwise-identical sparse trees built
// with different salts never collide, and the defaults array is immutable
// (and therefore safe for concurrent read) for the lifetime of the tree.

package merkle

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// SparseTree is a height-h sparse Merkle tree over a 2^h keyed address
// space, salted to differentiate otherwise-identical trees.
type SparseTree struct {
	algo     cryptohash.Algorithm
	height   uint64
	salt     []byte
	defaults []cryptohash.Hash // defaults[0] = empty leaf, defaults[height] = empty root's child hash
	nodes    map[string]cryptohash.Hash
}

// NewSparseTree builds a height-h sparse tree salted with salt. Per spec:
// default hash at level 0 is H(salt, "empty_leaf"); at level l > 0 it is
// H(node-tag, salt, l, default[l-1], default[l-1]).
func NewSparseTree(algo cryptohash.Algorithm, height uint64, salt []byte) *SparseTree {
	defaults := make([]cryptohash.Hash, height+1)
	defaults[0] = cryptohash.Digest(algo, "", salt, []byte("empty_leaf"))
	for l := uint64(1); l <= height; l++ {
		prev := defaults[l-1]
		defaults[l] = cryptohash.Digest(algo, cryptohash.TagInternal, salt, cryptohash.BE64(l), prev.Bytes(), prev.Bytes())
	}
	return &SparseTree{
		algo:     algo,
		height:   height,
		salt:     append([]byte(nil), salt...),
		defaults: defaults,
		nodes:    make(map[string]cryptohash.Hash),
	}
}

// Height returns h.
func (s *SparseTree) Height() uint64 {
	return s.height
}

// Salt returns the salt the tree was constructed with. Verification must
// use the same salt.
func (s *SparseTree) Salt() []byte {
	return append([]byte(nil), s.salt...)
}

func nodeKey(level uint64, path uint64) string {
	return fmt.Sprintf("%d:%d", level, path)
}

func (s *SparseTree) get(level uint64, path uint64) cryptohash.Hash {
	if h, ok := s.nodes[nodeKey(level, path)]; ok {
		return h
	}
	// defaults is indexed by height-above-leaves: level 0 (leaves) -> defaults[0]
	return s.defaults[level]
}

// Update writes leafData at the given key (0 <= key < 2^height), recomputing
// the path to the root.
func (s *SparseTree) Update(key uint64, leafData []byte) error {
	if s.height < 64 && key >= (uint64(1)<<s.height) {
		return fmt.Errorf("%w: key %d out of range for height %d", ErrOutOfRange, key, s.height)
	}

	leafHash := cryptohash.Digest(s.algo, cryptohash.TagLeaf, leafData)
	s.nodes[nodeKey(0, key)] = leafHash

	path := key
	current := leafHash
	for level := uint64(1); level <= s.height; level++ {
		siblingPath := path ^ 1
		sibling := s.get(level-1, siblingPath)

		var left, right cryptohash.Hash
		if path%2 == 0 {
			left, right = current, sibling
		} else {
			left, right = sibling, current
		}
		parentPath := path / 2
		current = cryptohash.Digest(s.algo, cryptohash.TagInternal, s.salt, cryptohash.BE64(level), left.Bytes(), right.Bytes())
		s.nodes[nodeKey(level, parentPath)] = current
		path = parentPath
	}
	return nil
}

// Root returns the domain-separated root of the tree.
func (s *SparseTree) Root() cryptohash.Hash {
	return cryptohash.Digest(s.algo, cryptohash.TagRoot, s.get(s.height, 0).Bytes())
}

// SparseProof is an inclusion proof for one key of a SparseTree. Items run
// from the leaf level upward and always have exactly height entries: empty
// siblings are materialized from the precomputed defaults, never omitted.
type SparseProof struct {
	Key   uint64
	Items []ProofItem
}

// GenerateProof emits the sibling hashes along key's path to the root.
// Fails if key is outside the tree's address space.
func (s *SparseTree) GenerateProof(key uint64) (*SparseProof, error) {
	if s.height < 64 && key >= (uint64(1)<<s.height) {
		return nil, fmt.Errorf("%w: key %d out of range for height %d", ErrOutOfRange, key, s.height)
	}

	proof := &SparseProof{Key: key, Items: make([]ProofItem, 0, s.height)}
	path := key
	for level := uint64(0); level < s.height; level++ {
		pos := Right
		if path%2 != 0 {
			pos = Left
		}
		proof.Items = append(proof.Items, ProofItem{Hash: s.get(level, path^1), Position: pos})
		path /= 2
	}
	return proof, nil
}

// VerifySparseProof recomputes the root implied by (key, leafData, proof)
// for a tree of the given height and salt, and compares it against
// expectedRoot. Verification must use the same salt the tree was
// constructed with; a different salt, a tampered sibling, or a wrong leaf
// all yield false. The proof must carry exactly height items.
func VerifySparseProof(algo cryptohash.Algorithm, height uint64, salt []byte, expectedRoot cryptohash.Hash, leafData []byte, proof *SparseProof) bool {
	if proof == nil || uint64(len(proof.Items)) != height {
		return false
	}

	current := cryptohash.Digest(algo, cryptohash.TagLeaf, leafData)
	for i, item := range proof.Items {
		level := uint64(i) + 1
		var left, right cryptohash.Hash
		if item.Position == Left {
			left, right = item.Hash, current
		} else {
			left, right = current, item.Hash
		}
		current = cryptohash.Digest(algo, cryptohash.TagInternal, salt, cryptohash.BE64(level), left.Bytes(), right.Bytes())
	}
	root := cryptohash.Digest(algo, cryptohash.TagRoot, current.Bytes())
	return constantTimeEqual(root, expectedRoot)
}

// VerifyProof verifies proof against the tree's own salt and current root.
func (s *SparseTree) VerifyProof(leafData []byte, proof *SparseProof) bool {
	return VerifySparseProof(s.algo, s.height, s.salt, s.Root(), leafData, proof)
}
