// Copyright 2025 Certen Protocol

package statecapture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
	"github.com/certen/independant-validator/pkg/wal"
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

func newGenesisManager(t *testing.T) *Manager {
	t.Helper()
	algo := cryptohash.DefaultAlgorithm
	users := usersSchema()
	usersState := model.NewTableState(algo, users)

	tableRoots := map[string]cryptohash.Hash{"users": usersState.Root()}
	genesis := model.NewGenesisBlock(algo, tableRoots, model.BlockMetadata{OperatorID: "op1"}, time.Now().UTC())

	m := NewManager(map[string]*model.TableSchema{"users": users}, WithAlgorithm(algo))
	require.NoError(t, m.Initialize(genesis, map[string]*model.TableState{"users": usersState}))
	return m
}

func row(id int64, name string) model.Row {
	r, err := model.NewRow([]string{"id"}, map[string]model.Value{
		"id":   model.NewInteger(id),
		"name": model.NewText(name),
	})
	if err != nil {
		panic(err)
	}
	return r
}

func TestScenario_GenesisInsertCommit(t *testing.T) {
	m := newGenesisManager(t)
	genesisRoot := m.StateRoot()
	genesisHash := m.latestHeaderHash(t)

	m.BeginWALTransaction(nil)
	require.NoError(t, m.ApplyInsert("users", row(1, "Alice")))
	block, err := m.CommitWALTransaction(10, nil, "v1", "v1", "op1")
	require.NoError(t, err)

	require.EqualValues(t, 1, block.Header.Number)
	require.Equal(t, genesisHash, block.Header.PreviousHash)
	require.NotEqual(t, genesisRoot, block.Header.StateRoot)

	users, err := m.LiveTableState("users")
	require.NoError(t, err)
	require.Len(t, users.Rows, 1)
	require.Equal(t, users.Root(), block.TableRoots["users"])
}

func TestScenario_UpdateThenDelete(t *testing.T) {
	m := newGenesisManager(t)
	m.BeginWALTransaction(nil)
	require.NoError(t, m.ApplyInsert("users", row(1, "Alice")))
	_, err := m.CommitWALTransaction(10, nil, "v1", "v1", "op1")
	require.NoError(t, err)

	rowID, err := model.RowID([]string{"id"}, map[string]model.Value{"id": model.NewInteger(1)})
	require.NoError(t, err)

	m.BeginWALTransaction(nil)
	require.NoError(t, m.ApplyUpdate("users", rowID, row(1, "Alice-updated")))
	require.NoError(t, m.ApplyDelete("users", rowID))
	block, err := m.CommitWALTransaction(20, nil, "v1", "v1", "op1")
	require.NoError(t, err)

	require.EqualValues(t, 2, block.Header.Number)
	users, err := m.LiveTableState("users")
	require.NoError(t, err)
	require.Len(t, users.Rows, 0)

	empty := model.NewTableState(cryptohash.DefaultAlgorithm, usersSchema())
	require.Equal(t, empty.Root(), users.Root())
}

func TestCommitWithNoInProgressFails(t *testing.T) {
	m := newGenesisManager(t)
	_, err := m.CommitWALTransaction(10, nil, "v1", "v1", "op1")
	require.ErrorIs(t, err, ErrNoInProgress)
}

func TestReInitializeRejected(t *testing.T) {
	m := newGenesisManager(t)
	err := m.Initialize(&model.BlockState{Header: model.BlockHeader{Number: model.GenesisBlockNumber}}, nil)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestLiveTableStateForNonLatestBlockUnavailable(t *testing.T) {
	// By design, only the latest live full state is retained: historical
	// snapshots at prior block numbers are not queryable by block number at
	// all, only the single current live map is.
	m := newGenesisManager(t)
	m.BeginWALTransaction(nil)
	require.NoError(t, m.ApplyInsert("users", row(1, "Alice")))
	_, err := m.CommitWALTransaction(10, nil, "v1", "v1", "op1")
	require.NoError(t, err)

	_, err = m.BlockByNumber(model.GenesisBlockNumber)
	require.NoError(t, err) // headers/roots at any number are retained

	live := m.LiveTableStates()
	require.Contains(t, live, "users")
}

func TestScenario_BoundaryViolationFailsCommit(t *testing.T) {
	m := newGenesisManager(t)
	m.BeginWALTransaction(nil)
	require.NoError(t, m.ApplyInsert("users", row(1, "Alice")))

	events := []wal.Event{
		{LSN: 1, ExternalTxID: 1, Timestamp: time.Now(), Kind: wal.EventBegin},
		{LSN: 2, ExternalTxID: 1, Timestamp: time.Now(), Kind: wal.EventSavepoint, SavepointName: "sp1"},
		{LSN: 3, ExternalTxID: 1, Timestamp: time.Now(), Kind: wal.EventInsert, RelationName: "users"},
		{LSN: 4, ExternalTxID: 1, Timestamp: time.Now(), Kind: wal.EventCommit},
	}
	require.False(t, wal.VerifyTransactionBoundaries(events))

	_, err := m.CommitWALTransaction(10, events, "v1", "v1", "op1")
	require.ErrorIs(t, err, ErrProtocolBoundary)

	// The in-progress changeset must still be pending: a rejected commit
	// does not silently discard the caller's work.
	_, err = m.CommitWALTransaction(10, nil, "v1", "v1", "op1")
	require.NoError(t, err)
}

func (m *Manager) latestHeaderHash(t *testing.T) cryptohash.Hash {
	t.Helper()
	b, err := m.BlockByNumber(m.BlockNumber())
	require.NoError(t, err)
	return b.Header.Hash
}
