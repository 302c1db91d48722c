// Copyright 2025 Certen Protocol
//
// Package schema validates TableSchema values and applies migrations
// against a schema map, in the invariant-check style of the teacher's
// consensus validators: named Validate* functions returning structured
// errors rather than panicking.

package schema

import (
	"errors"
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
)

var (
	ErrTableExists      = errors.New("schema: table already exists")
	ErrTableNotFound    = errors.New("schema: table not found")
	ErrColumnExists     = errors.New("schema: column already exists")
	ErrColumnNotFound   = errors.New("schema: column not found")
	ErrReferencedByFK   = errors.New("schema: table is referenced by a foreign key")
	ErrIncompatibleType = errors.New("schema: incompatible column type")
	ErrInvalidPrimaryKey = errors.New("schema: invalid primary key")
)

// Map is a schema-name-keyed collection of TableSchemas, the unit a
// migration is applied against.
type Map map[string]*model.TableSchema

// Clone returns a deep copy of m, so a migration can be applied
// speculatively and discarded on failure.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for name, s := range m {
		out[name] = s.Clone()
	}
	return out
}

// ValidateTableSchema enforces the TableSchema invariants: at least one
// primary-key column, every primary-key/unique-set/foreign-key column name
// must resolve to a declared column, and no duplicate column names.
func ValidateTableSchema(s *model.TableSchema) error {
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %q in table %q", ErrColumnExists, c.Name, s.Name)
		}
		seen[c.Name] = true
	}
	if len(s.PrimaryKey) == 0 {
		return fmt.Errorf("%w: table %q has no primary key", ErrInvalidPrimaryKey, s.Name)
	}
	for _, pk := range s.PrimaryKey {
		col, ok := s.Column(pk)
		if !ok {
			return fmt.Errorf("%w: primary key column %q not declared in table %q", ErrColumnNotFound, pk, s.Name)
		}
		if col.Nullable {
			return fmt.Errorf("%w: primary key column %q is nullable in table %q", ErrInvalidPrimaryKey, pk, s.Name)
		}
	}
	for _, set := range s.UniqueSets {
		for _, col := range set {
			if _, ok := s.Column(col); !ok {
				return fmt.Errorf("%w: unique-set column %q not declared in table %q", ErrColumnNotFound, col, s.Name)
			}
		}
	}
	for _, fk := range s.ForeignKeys {
		for _, col := range fk.Columns {
			if _, ok := s.Column(col); !ok {
				return fmt.Errorf("%w: foreign key column %q not declared in table %q", ErrColumnNotFound, col, s.Name)
			}
		}
	}
	return nil
}

// ValidateIntegrity runs the schema-wide integrity check over m: for every
// foreign key of every table, the referenced table and columns exist, the
// column counts match, and the per-column types are compatible per
// model.ColumnType.CompatibleWith.
func ValidateIntegrity(m Map) error {
	for _, s := range m {
		for _, fk := range s.ForeignKeys {
			target, ok := m[fk.ReferencedTable]
			if !ok {
				return fmt.Errorf("%w: %q references unknown table %q", ErrTableNotFound, s.Name, fk.ReferencedTable)
			}
			if len(fk.Columns) != len(fk.ReferencedColumns) {
				return fmt.Errorf("schema: foreign key on %q has mismatched column counts", s.Name)
			}
			for i, localCol := range fk.Columns {
				local, ok := s.Column(localCol)
				if !ok {
					return fmt.Errorf("%w: local FK column %q on %q", ErrColumnNotFound, localCol, s.Name)
				}
				refCol, ok := target.Column(fk.ReferencedColumns[i])
				if !ok {
					return fmt.Errorf("%w: referenced FK column %q on %q", ErrColumnNotFound, fk.ReferencedColumns[i], target.Name)
				}
				if !local.Type.CompatibleWith(refCol.Type) {
					return fmt.Errorf("%w: %q.%s (%s) -> %q.%s (%s)", ErrIncompatibleType,
						s.Name, localCol, local.Type, target.Name, fk.ReferencedColumns[i], refCol.Type)
				}
			}
		}
	}
	return nil
}

func recomputeHash(algo cryptohash.Algorithm, s *model.TableSchema) {
	s.Hash = s.ComputeHash(algo)
}
