// Copyright 2025 Certen Protocol

package schema

import (
	"errors"
	"fmt"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
)

// StepKind tags the kind of a single migration step.
type StepKind uint8

const (
	StepCreateTable StepKind = iota
	StepDropTable
	StepAddColumn
	StepDropColumn
	StepModifyColumn
	StepRenameColumn
	StepRenameTable
)

// Step is one operation of a migration, applied in sequence.
type Step struct {
	Kind       StepKind
	Table      string
	NewTable   *model.TableSchema // StepCreateTable
	Column     model.ColumnDef    // StepAddColumn, StepModifyColumn
	ColumnName string             // StepDropColumn, StepRenameColumn (old name)
	NewName    string             // StepRenameColumn, StepRenameTable
}

// Reversible reports whether the step kind captures enough information to
// be undone (spec section 4.3's reversibility notes): create-table,
// rename-table, add-column, and rename-column are reversible; drop-table,
// drop-column, and modify-column are not, since no prior definition is
// captured.
func (k StepKind) Reversible() bool {
	switch k {
	case StepCreateTable, StepRenameTable, StepAddColumn, StepRenameColumn:
		return true
	default:
		return false
	}
}

// ErrMigrationFailed wraps the step index and underlying cause of a failed
// migration step, so callers can report exactly where the sequence aborted.
var ErrMigrationFailed = errors.New("schema: migration step failed")

// ApplyMigration applies steps in order against a clone of m, re-running the
// schema-wide integrity check once the whole sequence has applied. On any
// failure — including a failing integrity check — the original map m is
// returned unmodified, paired with an error identifying the failing step.
func ApplyMigration(algo cryptohash.Algorithm, m Map, steps []Step) (Map, error) {
	working := m.Clone()
	for i, step := range steps {
		if err := applyStep(algo, working, step); err != nil {
			return m, fmt.Errorf("%w at step %d (%v): %v", ErrMigrationFailed, i, step.Kind, err)
		}
	}
	if err := ValidateIntegrity(working); err != nil {
		return m, fmt.Errorf("%w: integrity check failed after migration: %v", ErrMigrationFailed, err)
	}
	return working, nil
}

func applyStep(algo cryptohash.Algorithm, m Map, step Step) error {
	switch step.Kind {
	case StepCreateTable:
		return applyCreateTable(algo, m, step)
	case StepDropTable:
		return applyDropTable(m, step)
	case StepAddColumn:
		return applyAddColumn(algo, m, step)
	case StepDropColumn:
		return applyDropColumn(algo, m, step)
	case StepModifyColumn:
		return applyModifyColumn(algo, m, step)
	case StepRenameColumn:
		return applyRenameColumn(algo, m, step)
	case StepRenameTable:
		return applyRenameTable(algo, m, step)
	default:
		return fmt.Errorf("schema: unknown step kind %v", step.Kind)
	}
}

func applyCreateTable(algo cryptohash.Algorithm, m Map, step Step) error {
	if _, exists := m[step.NewTable.Name]; exists {
		return fmt.Errorf("%w: %q", ErrTableExists, step.NewTable.Name)
	}
	table := step.NewTable.Clone()
	if err := ValidateTableSchema(table); err != nil {
		return err
	}
	recomputeHash(algo, table)
	m[table.Name] = table
	return nil
}

func applyDropTable(m Map, step Step) error {
	if _, ok := m[step.Table]; !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, step.Table)
	}
	for _, other := range m {
		if other.Name == step.Table {
			continue
		}
		for _, fk := range other.ForeignKeys {
			if fk.ReferencedTable == step.Table {
				return fmt.Errorf("%w: %q by %q", ErrReferencedByFK, step.Table, other.Name)
			}
		}
	}
	delete(m, step.Table)
	return nil
}

func applyAddColumn(algo cryptohash.Algorithm, m Map, step Step) error {
	table, ok := m[step.Table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, step.Table)
	}
	if _, exists := table.Column(step.Column.Name); exists {
		return fmt.Errorf("%w: %q on %q", ErrColumnExists, step.Column.Name, step.Table)
	}
	if step.Column.PrimaryKey && step.Column.Nullable {
		return fmt.Errorf("%w: cannot add nullable primary-key column %q", ErrInvalidPrimaryKey, step.Column.Name)
	}
	table.Columns = append(table.Columns, step.Column)
	if step.Column.PrimaryKey {
		table.PrimaryKey = append(table.PrimaryKey, step.Column.Name)
	}
	recomputeHash(algo, table)
	return nil
}

func applyDropColumn(algo cryptohash.Algorithm, m Map, step Step) error {
	table, ok := m[step.Table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, step.Table)
	}
	if _, exists := table.Column(step.ColumnName); !exists {
		return fmt.Errorf("%w: %q on %q", ErrColumnNotFound, step.ColumnName, step.Table)
	}
	for _, pk := range table.PrimaryKey {
		if pk == step.ColumnName {
			return fmt.Errorf("%w: %q is a primary key column of %q", ErrColumnExists, step.ColumnName, step.Table)
		}
	}
	for _, fk := range table.ForeignKeys {
		for _, col := range fk.Columns {
			if col == step.ColumnName {
				return fmt.Errorf("%w: %q is referenced by a foreign key on %q", ErrColumnExists, step.ColumnName, step.Table)
			}
		}
	}
	cols := make([]model.ColumnDef, 0, len(table.Columns)-1)
	for _, c := range table.Columns {
		if c.Name != step.ColumnName {
			cols = append(cols, c)
		}
	}
	table.Columns = cols
	recomputeHash(algo, table)
	return nil
}

func applyModifyColumn(algo cryptohash.Algorithm, m Map, step Step) error {
	table, ok := m[step.Table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, step.Table)
	}
	existing, exists := table.Column(step.Column.Name)
	if !exists {
		return fmt.Errorf("%w: %q on %q", ErrColumnNotFound, step.Column.Name, step.Table)
	}
	if !existing.Type.CompatibleWith(step.Column.Type) {
		return fmt.Errorf("%w: %q.%s %s -> %s", ErrIncompatibleType, step.Table, step.Column.Name, existing.Type, step.Column.Type)
	}
	isPK := false
	for _, pk := range table.PrimaryKey {
		if pk == step.Column.Name {
			isPK = true
		}
	}
	if isPK && step.Column.Nullable {
		return fmt.Errorf("%w: cannot make primary key column %q nullable", ErrInvalidPrimaryKey, step.Column.Name)
	}
	for i, c := range table.Columns {
		if c.Name == step.Column.Name {
			table.Columns[i] = step.Column
		}
	}
	recomputeHash(algo, table)
	return nil
}

func applyRenameColumn(algo cryptohash.Algorithm, m Map, step Step) error {
	table, ok := m[step.Table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, step.Table)
	}
	if _, exists := table.Column(step.ColumnName); !exists {
		return fmt.Errorf("%w: %q on %q", ErrColumnNotFound, step.ColumnName, step.Table)
	}
	if _, exists := table.Column(step.NewName); exists {
		return fmt.Errorf("%w: %q on %q", ErrColumnExists, step.NewName, step.Table)
	}
	for i, c := range table.Columns {
		if c.Name == step.ColumnName {
			table.Columns[i].Name = step.NewName
		}
	}
	for i, pk := range table.PrimaryKey {
		if pk == step.ColumnName {
			table.PrimaryKey[i] = step.NewName
		}
	}
	for i, fk := range table.ForeignKeys {
		for j, col := range fk.Columns {
			if col == step.ColumnName {
				table.ForeignKeys[i].Columns[j] = step.NewName
			}
		}
	}
	recomputeHash(algo, table)
	return nil
}

func applyRenameTable(algo cryptohash.Algorithm, m Map, step Step) error {
	table, ok := m[step.Table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, step.Table)
	}
	if _, exists := m[step.NewName]; exists {
		return fmt.Errorf("%w: %q", ErrTableExists, step.NewName)
	}
	delete(m, step.Table)
	table.Name = step.NewName
	recomputeHash(algo, table)
	m[step.NewName] = table

	for _, other := range m {
		for i, fk := range other.ForeignKeys {
			if fk.ReferencedTable == step.Table {
				other.ForeignKeys[i].ReferencedTable = step.NewName
			}
		}
		if other.Name != step.NewName {
			recomputeHash(algo, other)
		}
	}
	return nil
}
