// Copyright 2025 Certen Protocol

package model

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// ColumnTypeKind tags the variant carried by a ColumnType.
type ColumnTypeKind uint8

const (
	ColumnInteger ColumnTypeKind = iota
	ColumnBigInt
	ColumnFloat
	ColumnText
	ColumnBoolean
	ColumnUUID
	ColumnTimestamp
	ColumnBinary
	ColumnJSON
	ColumnChar
	ColumnVarChar
)

func (k ColumnTypeKind) String() string {
	names := [...]string{"integer", "bigint", "float", "text", "boolean", "uuid", "timestamp", "binary", "json", "char", "varchar"}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("columnkind(%d)", uint8(k))
}

// ColumnType is the declared type of a TableSchema column. Length is only
// meaningful for Char/VarChar.
type ColumnType struct {
	Kind   ColumnTypeKind
	Length int
}

func (t ColumnType) String() string {
	if t.Kind == ColumnChar || t.Kind == ColumnVarChar {
		return fmt.Sprintf("%s(%d)", t.Kind, t.Length)
	}
	return t.Kind.String()
}

// CompatibleWith reports whether a value of type t may be assigned into a
// column declared as target, per the migration-applier's promotion rules
// (spec section 4.3): equal types are always compatible; Integer promotes to
// BigInt; Char(a)/VarChar(a) widen to Char(b)/VarChar(b) for a<=b; Char and
// VarChar of any length widen to Text. All other cross-type promotions are
// rejected.
func (t ColumnType) CompatibleWith(target ColumnType) bool {
	if t.Kind == target.Kind {
		if t.Kind == ColumnChar || t.Kind == ColumnVarChar {
			return t.Length <= target.Length
		}
		return true
	}
	if t.Kind == ColumnInteger && target.Kind == ColumnBigInt {
		return true
	}
	if (t.Kind == ColumnChar || t.Kind == ColumnVarChar) && target.Kind == ColumnText {
		return true
	}
	return false
}

func (t ColumnType) Bytes() []byte {
	return append([]byte{byte(t.Kind)}, cryptohash.BE32(uint32(t.Length))...)
}

// ColumnDef describes a single column of a TableSchema.
type ColumnDef struct {
	Name         string
	Type         ColumnType
	Nullable     bool
	PrimaryKey   bool
	Unique       bool
	HasDefault   bool
	DefaultValue Value
}

func (c ColumnDef) Bytes() []byte {
	out := []byte(c.Name)
	out = append(out, c.Type.Bytes()...)
	out = append(out, boolByte(c.Nullable), boolByte(c.PrimaryKey), boolByte(c.Unique), boolByte(c.HasDefault))
	if c.HasDefault {
		out = append(out, c.DefaultValue.Bytes()...)
	}
	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ForeignKey is a local-column-list to referenced-table/columns reference.
type ForeignKey struct {
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

func (f ForeignKey) Bytes() []byte {
	out := joinedBytes(f.Columns)
	out = append(out, []byte(f.ReferencedTable)...)
	out = append(out, joinedBytes(f.ReferencedColumns)...)
	return out
}

func joinedBytes(ss []string) []byte {
	var out []byte
	for _, s := range ss {
		out = append(out, cryptohash.BE32(uint32(len(s)))...)
		out = append(out, []byte(s)...)
	}
	return out
}

// TableSchema describes the structure of a table: its columns, primary key,
// unique constraints, and foreign keys, with a stored hash over all of it.
type TableSchema struct {
	Name        string
	Columns     []ColumnDef
	PrimaryKey  []string
	UniqueSets  [][]string
	ForeignKeys []ForeignKey
	Hash        cryptohash.Hash
}

// Column looks up a column definition by name.
func (s *TableSchema) Column(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// ComputeHash derives the schema's stored hash from its fields, in fixed
// field order.
func (s *TableSchema) ComputeHash(algo cryptohash.Algorithm) cryptohash.Hash {
	parts := [][]byte{[]byte(s.Name)}
	for _, c := range s.Columns {
		parts = append(parts, c.Bytes())
	}
	parts = append(parts, joinedBytes(s.PrimaryKey))
	for _, u := range s.UniqueSets {
		parts = append(parts, joinedBytes(u))
	}
	for _, fk := range s.ForeignKeys {
		parts = append(parts, fk.Bytes())
	}
	return cryptohash.Digest(algo, cryptohash.TagTableState, parts...)
}

// VerifyHash reports whether s.Hash equals ComputeHash(algo): "stored hash
// equals recomputation".
func (s *TableSchema) VerifyHash(algo cryptohash.Algorithm) bool {
	return s.Hash == s.ComputeHash(algo)
}

// Clone returns a deep-enough copy of s suitable for mutation by the
// migration applier (column/FK slices are copied; Value fields inside
// defaults are shared, as they are never mutated in place).
func (s *TableSchema) Clone() *TableSchema {
	clone := &TableSchema{
		Name:        s.Name,
		Columns:     append([]ColumnDef(nil), s.Columns...),
		PrimaryKey:  append([]string(nil), s.PrimaryKey...),
		ForeignKeys: make([]ForeignKey, len(s.ForeignKeys)),
		Hash:        s.Hash,
	}
	for i, fk := range s.ForeignKeys {
		clone.ForeignKeys[i] = ForeignKey{
			Columns:           append([]string(nil), fk.Columns...),
			ReferencedTable:   fk.ReferencedTable,
			ReferencedColumns: append([]string(nil), fk.ReferencedColumns...),
		}
	}
	for _, u := range s.UniqueSets {
		clone.UniqueSets = append(clone.UniqueSets, append([]string(nil), u...))
	}
	return clone
}
