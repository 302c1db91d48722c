// Copyright 2025 Certen Protocol

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
)

func usersSchema() *model.TableSchema {
	s := &model.TableSchema{
		Name: "users",
		Columns: []model.ColumnDef{
			{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true},
			{Name: "name", Type: model.ColumnType{Kind: model.ColumnVarChar, Length: 100}, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
	s.Hash = s.ComputeHash(cryptohash.DefaultAlgorithm)
	return s
}

func TestValidateTableSchema_OK(t *testing.T) {
	require.NoError(t, ValidateTableSchema(usersSchema()))
}

func TestValidateTableSchema_NoPrimaryKey(t *testing.T) {
	s := usersSchema()
	s.PrimaryKey = nil
	require.ErrorIs(t, ValidateTableSchema(s), ErrInvalidPrimaryKey)
}

func TestValidateTableSchema_DuplicateColumn(t *testing.T) {
	s := usersSchema()
	s.Columns = append(s.Columns, model.ColumnDef{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}})
	require.ErrorIs(t, ValidateTableSchema(s), ErrColumnExists)
}

func TestValidateIntegrity_UnknownReferencedTable(t *testing.T) {
	posts := usersSchema()
	posts.Name = "posts"
	posts.ForeignKeys = []model.ForeignKey{{Columns: []string{"id"}, ReferencedTable: "missing", ReferencedColumns: []string{"id"}}}

	m := Map{"posts": posts}
	require.ErrorIs(t, ValidateIntegrity(m), ErrTableNotFound)
}

func TestValidateIntegrity_IncompatibleFKType(t *testing.T) {
	users := usersSchema()
	posts := &model.TableSchema{
		Name: "posts",
		Columns: []model.ColumnDef{
			{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true},
			{Name: "author_name", Type: model.ColumnType{Kind: model.ColumnFloat}},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []model.ForeignKey{{Columns: []string{"author_name"}, ReferencedTable: "users", ReferencedColumns: []string{"name"}}},
	}
	m := Map{"users": users, "posts": posts}
	require.ErrorIs(t, ValidateIntegrity(m), ErrIncompatibleType)
}

func TestApplyMigration_CreateTable(t *testing.T) {
	m := Map{"users": usersSchema()}
	next, err := ApplyMigration(cryptohash.DefaultAlgorithm, m, []Step{
		{Kind: StepCreateTable, NewTable: &model.TableSchema{
			Name:       "posts",
			Columns:    []model.ColumnDef{{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true}},
			PrimaryKey: []string{"id"},
		}},
	})
	require.NoError(t, err)
	require.Contains(t, next, "posts")
	require.Contains(t, m, "users")
	require.NotContains(t, m, "posts") // original map untouched
}

func TestApplyMigration_CreateTable_DuplicateFails(t *testing.T) {
	m := Map{"users": usersSchema()}
	_, err := ApplyMigration(cryptohash.DefaultAlgorithm, m, []Step{
		{Kind: StepCreateTable, NewTable: usersSchema()},
	})
	require.ErrorIs(t, err, ErrMigrationFailed)
}

func TestApplyMigration_DropTable_ReferencedFails(t *testing.T) {
	users := usersSchema()
	posts := &model.TableSchema{
		Name: "posts",
		Columns: []model.ColumnDef{
			{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true},
			{Name: "user_id", Type: model.ColumnType{Kind: model.ColumnInteger}},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []model.ForeignKey{{Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}}},
	}
	m := Map{"users": users, "posts": posts}
	_, err := ApplyMigration(cryptohash.DefaultAlgorithm, m, []Step{{Kind: StepDropTable, Table: "users"}})
	require.ErrorIs(t, err, ErrMigrationFailed)
}

func TestApplyMigration_AddColumn_NullablePrimaryKeyFails(t *testing.T) {
	m := Map{"users": usersSchema()}
	_, err := ApplyMigration(cryptohash.DefaultAlgorithm, m, []Step{
		{Kind: StepAddColumn, Table: "users", Column: model.ColumnDef{Name: "tenant_id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true, Nullable: true}},
	})
	require.ErrorIs(t, err, ErrMigrationFailed)
}

func TestApplyMigration_RenameColumn_PropagatesToPrimaryKey(t *testing.T) {
	m := Map{"users": usersSchema()}
	next, err := ApplyMigration(cryptohash.DefaultAlgorithm, m, []Step{
		{Kind: StepRenameColumn, Table: "users", ColumnName: "id", NewName: "user_id"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"user_id"}, next["users"].PrimaryKey)
}

func TestApplyMigration_RenameTable_PropagatesFKTarget(t *testing.T) {
	users := usersSchema()
	posts := &model.TableSchema{
		Name: "posts",
		Columns: []model.ColumnDef{
			{Name: "id", Type: model.ColumnType{Kind: model.ColumnInteger}, PrimaryKey: true},
			{Name: "user_id", Type: model.ColumnType{Kind: model.ColumnInteger}},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []model.ForeignKey{{Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}}},
	}
	m := Map{"users": users, "posts": posts}
	next, err := ApplyMigration(cryptohash.DefaultAlgorithm, m, []Step{
		{Kind: StepRenameTable, Table: "users", NewName: "accounts"},
	})
	require.NoError(t, err)
	require.Equal(t, "accounts", next["posts"].ForeignKeys[0].ReferencedTable)
}

func TestStepKind_Reversible(t *testing.T) {
	require.True(t, StepCreateTable.Reversible())
	require.True(t, StepRenameTable.Reversible())
	require.True(t, StepAddColumn.Reversible())
	require.True(t, StepRenameColumn.Reversible())
	require.False(t, StepDropTable.Reversible())
	require.False(t, StepDropColumn.Reversible())
	require.False(t, StepModifyColumn.Reversible())
}
