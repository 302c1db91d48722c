// Copyright 2025 Certen Protocol

package cryptohash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigest_DomainSeparation(t *testing.T) {
	payload := []byte("same payload")
	leaf := Digest(DefaultAlgorithm, TagLeaf, payload)
	internal := Digest(DefaultAlgorithm, TagInternal, payload)
	require.NotEqual(t, leaf, internal)
}

func TestDigest_Deterministic(t *testing.T) {
	a := Digest(DefaultAlgorithm, TagBlock, []byte("x"), []byte("y"))
	b := Digest(DefaultAlgorithm, TagBlock, []byte("x"), []byte("y"))
	require.Equal(t, a, b)
}

func TestDigest_AlgorithmsDiffer(t *testing.T) {
	sha := Digest(AlgorithmSHA256, TagLeaf, []byte("a"))
	blake := Digest(AlgorithmBLAKE2s, TagLeaf, []byte("a"))
	keccak := Digest(AlgorithmKeccak256, TagLeaf, []byte("a"))
	require.NotEqual(t, sha, blake)
	require.NotEqual(t, sha, keccak)
	require.NotEqual(t, blake, keccak)
}

func TestDigest_UnknownAlgorithmFallsBackToSHA256(t *testing.T) {
	unknown := Digest(Algorithm("not-a-real-algorithm"), TagLeaf, []byte("a"))
	sha := Digest(AlgorithmSHA256, TagLeaf, []byte("a"))
	require.Equal(t, sha, unknown)
}

func TestHashFromBytes_WrongLength(t *testing.T) {
	_, err := HashFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestHashFromBytes_RoundTrip(t *testing.T) {
	h := Digest(DefaultAlgorithm, TagLeaf, []byte("a"))
	restored, err := HashFromBytes(h.Bytes())
	require.NoError(t, err)
	require.Equal(t, h, restored)
}

func TestZero_IsZero(t *testing.T) {
	require.True(t, Zero.IsZero())
	h := Digest(DefaultAlgorithm, TagLeaf, []byte("a"))
	require.False(t, h.IsZero())
}

func TestAggregateHashes_EmptyIsZero(t *testing.T) {
	require.Equal(t, Zero, AggregateHashes(DefaultAlgorithm, TagTransaction, nil))
}

func TestAggregateHashes_OrderSensitive(t *testing.T) {
	a := Digest(DefaultAlgorithm, TagLeaf, []byte("a"))
	b := Digest(DefaultAlgorithm, TagLeaf, []byte("b"))

	ab := AggregateHashes(DefaultAlgorithm, TagTransaction, []Hash{a, b})
	ba := AggregateHashes(DefaultAlgorithm, TagTransaction, []Hash{b, a})
	require.NotEqual(t, ab, ba)
}

func TestBE64_BE32_FixedWidth(t *testing.T) {
	require.Len(t, BE64(1), 8)
	require.Len(t, BE32(1), 4)
	require.Equal(t, BE64(0x0102030405060708), []byte{1, 2, 3, 4, 5, 6, 7, 8})
}

func TestMillisBE_MatchesBE64(t *testing.T) {
	require.Equal(t, BE64(uint64(12345)), MillisBE(12345))
}

func TestDigest_ConcatenationHasNoPartBoundary(t *testing.T) {
	// Plain concatenation means different splits of the same bytes collide.
	first := Digest(DefaultAlgorithm, TagOperation, []byte("ab"), []byte("c"))
	second := Digest(DefaultAlgorithm, TagOperation, []byte("a"), []byte("bc"))
	require.Equal(t, first, second)
}
