// Copyright 2025 Certen Protocol
//
// Self-describing binary serialization of Proof, so that inclusion proofs
// handed to external collaborators (challenge evidence, row-proof
// responses) round-trip bit-exactly regardless of language on the other
// end.

package merkle

import (
	"encoding/binary"
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// wire layout:
//
//	uint32  leaf data length
//	[]byte  leaf data
//	uint64  leaf position
//	uint32  number of proof items
//	for each item: [32]byte sibling hash, uint8 position flag (0=left,1=right)
func (p *Proof) Encode() []byte {
	size := 4 + len(p.LeafData) + 8 + 4 + len(p.Items)*(cryptohash.Size+1)
	buf := make([]byte, 0, size)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.LeafData)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, p.LeafData...)

	buf = append(buf, cryptohash.BE64(p.Position)...)

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.Items)))
	buf = append(buf, lenBuf[:]...)

	for _, item := range p.Items {
		buf = append(buf, item.Hash.Bytes()...)
		buf = append(buf, byte(item.Position))
	}
	return buf
}

// DecodeProof parses a blob produced by Proof.Encode.
func DecodeProof(data []byte) (*Proof, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated leaf-length header", ErrInvalidProof)
	}
	leafLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(len(data)) < uint64(leafLen) {
		return nil, fmt.Errorf("%w: truncated leaf data", ErrInvalidProof)
	}
	leaf := append([]byte(nil), data[:leafLen]...)
	data = data[leafLen:]

	if len(data) < 8 {
		return nil, fmt.Errorf("%w: truncated position", ErrInvalidProof)
	}
	position := binary.BigEndian.Uint64(data[:8])
	data = data[8:]

	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated item count", ErrInvalidProof)
	}
	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	itemSize := cryptohash.Size + 1
	if uint64(len(data)) != uint64(count)*uint64(itemSize) {
		return nil, fmt.Errorf("%w: item count does not match remaining bytes", ErrInvalidProof)
	}

	items := make([]ProofItem, count)
	for i := uint32(0); i < count; i++ {
		off := int(i) * itemSize
		h, err := cryptohash.HashFromBytes(data[off : off+cryptohash.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		flag := data[off+cryptohash.Size]
		if flag != byte(Left) && flag != byte(Right) {
			return nil, fmt.Errorf("%w: invalid position flag %d", ErrInvalidProof, flag)
		}
		items[i] = ProofItem{Hash: h, Position: Position(flag)}
	}

	return &Proof{LeafData: leaf, Position: position, Items: items}, nil
}
