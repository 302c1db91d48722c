// Copyright 2025 Certen Protocol
//
// Package model defines the block/transaction/table/row data model: the
// entities being committed, how their roots are derived, and the invariants
// between them. Value is the small closed set of typed parameter/column
// values the rest of the model is built from.

package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// ValueKind tags the variant carried by a Value. Tagged sum type, never a
// class hierarchy: every consumer switches exhaustively over Kind.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInteger
	ValueBigInt
	ValueFloat
	ValueText
	ValueBoolean
	ValueUUID
	ValueTimestamp
	ValueBinary
	ValueJSON
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueInteger:
		return "integer"
	case ValueBigInt:
		return "bigint"
	case ValueFloat:
		return "float"
	case ValueText:
		return "text"
	case ValueBoolean:
		return "boolean"
	case ValueUUID:
		return "uuid"
	case ValueTimestamp:
		return "timestamp"
	case ValueBinary:
		return "binary"
	case ValueJSON:
		return "json"
	default:
		return fmt.Sprintf("valuekind(%d)", uint8(k))
	}
}

// Value is a single typed column or parameter value.
type Value struct {
	Kind      ValueKind
	Integer   int64
	BigInt    *big.Int
	Float     float64
	Text      string
	Boolean   bool
	UUID      uuid.UUID
	Timestamp time.Time
	Binary    []byte
	JSON      json.RawMessage
}

// Null is the canonical null value.
var Null = Value{Kind: ValueNull}

func NewInteger(v int64) Value   { return Value{Kind: ValueInteger, Integer: v} }
func NewBigInt(v *big.Int) Value { return Value{Kind: ValueBigInt, BigInt: v} }
func NewFloat(v float64) Value   { return Value{Kind: ValueFloat, Float: v} }
func NewText(v string) Value     { return Value{Kind: ValueText, Text: v} }
func NewBoolean(v bool) Value    { return Value{Kind: ValueBoolean, Boolean: v} }
func NewUUID(v uuid.UUID) Value  { return Value{Kind: ValueUUID, UUID: v} }
func NewTimestamp(v time.Time) Value {
	return Value{Kind: ValueTimestamp, Timestamp: v}
}
func NewBinary(v []byte) Value { return Value{Kind: ValueBinary, Binary: v} }
func NewJSON(v json.RawMessage) Value {
	return Value{Kind: ValueJSON, JSON: v}
}

// Bytes serializes v for use as a stable, unambiguous component of a larger
// hash input: a one-byte kind tag followed by a fixed-width or
// length-prefixed payload, per spec section 4.2 (fixed big-endian width for
// integers, millisecond big-endian for timestamps, uuid bytes for uuids,
// utf-8 bytes for strings).
func (v Value) Bytes() []byte {
	out := []byte{byte(v.Kind)}
	switch v.Kind {
	case ValueNull:
		// no payload
	case ValueInteger:
		out = append(out, cryptohash.BE64(uint64(v.Integer))...)
	case ValueBigInt:
		n := v.BigInt
		if n == nil {
			n = new(big.Int)
		}
		b := n.Bytes()
		out = append(out, cryptohash.BE32(uint32(len(b)))...)
		out = append(out, b...)
		if n.Sign() < 0 {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case ValueFloat:
		out = append(out, cryptohash.BE64(math.Float64bits(v.Float))...)
	case ValueText:
		out = append(out, cryptohash.BE32(uint32(len(v.Text)))...)
		out = append(out, []byte(v.Text)...)
	case ValueBoolean:
		if v.Boolean {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case ValueUUID:
		out = append(out, v.UUID[:]...)
	case ValueTimestamp:
		out = append(out, cryptohash.MillisBE(v.Timestamp.UnixMilli())...)
	case ValueBinary:
		out = append(out, cryptohash.BE32(uint32(len(v.Binary)))...)
		out = append(out, v.Binary...)
	case ValueJSON:
		out = append(out, cryptohash.BE32(uint32(len(v.JSON)))...)
		out = append(out, v.JSON...)
	}
	return out
}
