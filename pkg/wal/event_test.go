// Copyright 2025 Certen Protocol

package wal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSequencer_OutOfOrderLSNRejected(t *testing.T) {
	s := NewSequencer()
	require.NoError(t, s.Accept(Event{Kind: EventBegin, ExternalTxID: 1, LSN: 10, Timestamp: time.Now()}))
	require.NoError(t, s.Accept(Event{Kind: EventInsert, ExternalTxID: 1, LSN: 11}))
	err := s.Accept(Event{Kind: EventInsert, ExternalTxID: 1, LSN: 11})
	require.ErrorIs(t, err, ErrOutOfOrderLSN)
}

func TestSequencer_UnreleasedSavepointAtCommit(t *testing.T) {
	s := NewSequencer()
	require.NoError(t, s.Accept(Event{Kind: EventBegin, ExternalTxID: 1, LSN: 1}))
	require.NoError(t, s.Accept(Event{Kind: EventSavepoint, ExternalTxID: 1, LSN: 2, SavepointName: "sp1"}))
	err := s.Accept(Event{Kind: EventCommit, ExternalTxID: 1, LSN: 3})
	require.ErrorIs(t, err, ErrUnreleasedSavepoint)
}

func TestSequencer_ReleasedSavepointCommitsCleanly(t *testing.T) {
	s := NewSequencer()
	require.NoError(t, s.Accept(Event{Kind: EventBegin, ExternalTxID: 1, LSN: 1}))
	require.NoError(t, s.Accept(Event{Kind: EventSavepoint, ExternalTxID: 1, LSN: 2, SavepointName: "sp1"}))
	require.NoError(t, s.Accept(Event{Kind: EventReleaseSavepoint, ExternalTxID: 1, LSN: 3, SavepointName: "sp1"}))
	require.NoError(t, s.Accept(Event{Kind: EventCommit, ExternalTxID: 1, LSN: 4}))
}

func TestVerifyTransactionBoundaries(t *testing.T) {
	clean := []Event{
		{Kind: EventBegin, LSN: 1},
		{Kind: EventSavepoint, LSN: 2, SavepointName: "sp1"},
		{Kind: EventRollbackToSavepoint, LSN: 3, SavepointName: "sp1"},
		{Kind: EventCommit, LSN: 4},
	}
	require.True(t, VerifyTransactionBoundaries(clean))

	dirty := []Event{
		{Kind: EventBegin, LSN: 1},
		{Kind: EventSavepoint, LSN: 2, SavepointName: "sp1"},
		{Kind: EventCommit, LSN: 3},
	}
	require.False(t, VerifyTransactionBoundaries(dirty))

	missingTerminal := []Event{
		{Kind: EventBegin, LSN: 1},
		{Kind: EventInsert, LSN: 2},
	}
	require.False(t, VerifyTransactionBoundaries(missingTerminal))

	outOfOrder := []Event{
		{Kind: EventBegin, LSN: 2},
		{Kind: EventInsert, LSN: 1},
		{Kind: EventCommit, LSN: 3},
	}
	require.False(t, VerifyTransactionBoundaries(outOfOrder))

	aborted := []Event{
		{Kind: EventBegin, LSN: 1},
		{Kind: EventSavepoint, LSN: 2, SavepointName: "sp1"},
		{Kind: EventAbort, LSN: 3},
	}
	require.True(t, VerifyTransactionBoundaries(aborted))
}
