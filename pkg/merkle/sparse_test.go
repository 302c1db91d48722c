// Copyright 2025 Certen Protocol

package merkle

import (
	"testing"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/stretchr/testify/require"
)

func TestSparseTree_EmptyRootDeterministic(t *testing.T) {
	salt := []byte("salt-a")
	t1 := NewSparseTree(cryptohash.DefaultAlgorithm, 8, salt)
	t2 := NewSparseTree(cryptohash.DefaultAlgorithm, 8, salt)
	require.Equal(t, t1.Root(), t2.Root())
}

func TestSparseTree_DifferentSaltDifferentRoot(t *testing.T) {
	t1 := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt-a"))
	t2 := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt-b"))
	require.NotEqual(t, t1.Root(), t2.Root())
}

func TestSparseTree_UpdateChangesRoot(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt"))
	before := tree.Root()
	require.NoError(t, tree.Update(42, []byte("value")))
	after := tree.Root()
	require.NotEqual(t, before, after)
}

func TestSparseTree_OutOfRangeFails(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 4, []byte("salt"))
	err := tree.Update(16, []byte("value"))
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSparseTree_ProofRoundTrip(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt"))
	require.NoError(t, tree.Update(42, []byte("value")))
	require.NoError(t, tree.Update(7, []byte("other")))

	proof, err := tree.GenerateProof(42)
	require.NoError(t, err)
	require.Len(t, proof.Items, 8)
	require.True(t, tree.VerifyProof([]byte("value"), proof))
	require.True(t, VerifySparseProof(cryptohash.DefaultAlgorithm, 8, []byte("salt"), tree.Root(), []byte("value"), proof))
}

func TestSparseTree_ProofWrongLeafFails(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt"))
	require.NoError(t, tree.Update(42, []byte("value")))

	proof, err := tree.GenerateProof(42)
	require.NoError(t, err)
	require.False(t, tree.VerifyProof([]byte("tampered"), proof))
}

func TestSparseTree_ProofTamperedSiblingFails(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt"))
	require.NoError(t, tree.Update(42, []byte("value")))

	proof, err := tree.GenerateProof(42)
	require.NoError(t, err)
	proof.Items[0].Hash[0] ^= 0xFF
	require.False(t, tree.VerifyProof([]byte("value"), proof))
}

func TestSparseTree_ProofRequiresSameSalt(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt-a"))
	require.NoError(t, tree.Update(42, []byte("value")))

	proof, err := tree.GenerateProof(42)
	require.NoError(t, err)
	require.False(t, VerifySparseProof(cryptohash.DefaultAlgorithm, 8, []byte("salt-b"), tree.Root(), []byte("value"), proof))
}

func TestSparseTree_ProofWrongLengthFails(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 8, []byte("salt"))
	require.NoError(t, tree.Update(42, []byte("value")))

	proof, err := tree.GenerateProof(42)
	require.NoError(t, err)
	proof.Items = proof.Items[:7]
	require.False(t, tree.VerifyProof([]byte("value"), proof))
}

func TestSparseTree_ProofOutOfRangeFails(t *testing.T) {
	tree := NewSparseTree(cryptohash.DefaultAlgorithm, 4, []byte("salt"))
	_, err := tree.GenerateProof(16)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSparseTree_SameKeySameValueDeterministic(t *testing.T) {
	t1 := NewSparseTree(cryptohash.DefaultAlgorithm, 10, []byte("salt"))
	t2 := NewSparseTree(cryptohash.DefaultAlgorithm, 10, []byte("salt"))
	require.NoError(t, t1.Update(7, []byte("v")))
	require.NoError(t, t2.Update(7, []byte("v")))
	require.Equal(t, t1.Root(), t2.Root())
}
