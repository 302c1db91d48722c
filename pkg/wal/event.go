// Copyright 2025 Certen Protocol
//
// Package wal defines the inbound write-ahead-log event stream: the typed
// records the state-capture manager consumes, and the boundary check that
// rejects out-of-order LSNs within a transaction (spec section 6).

package wal

import (
	"errors"
	"fmt"
	"time"
)

// EventKind tags the kind of a single WAL record.
type EventKind uint8

const (
	EventBegin EventKind = iota
	EventCommit
	EventAbort
	EventInsert
	EventUpdate
	EventDelete
	EventTruncate
	EventSavepoint
	EventReleaseSavepoint
	EventRollbackToSavepoint
	EventDDL
	EventOther
)

func (k EventKind) String() string {
	names := [...]string{
		"begin", "commit", "abort", "insert", "update", "delete",
		"truncate", "savepoint", "release_savepoint", "rollback_to_savepoint",
		"ddl", "other",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("eventkind(%d)", uint8(k))
}

// Event is a single WAL record.
type Event struct {
	LSN             uint64
	ExternalTxID    uint64
	Timestamp       time.Time
	Kind            EventKind
	RelationID      uint64
	RelationName    string
	Payload         []byte
	SavepointName   string
}

// ErrOutOfOrderLSN is returned by a Sequencer when a record's LSN does not
// strictly increase within the current external transaction.
var ErrOutOfOrderLSN = errors.New("wal: out-of-order LSN within transaction")

// ErrUnreleasedSavepoint is returned at commit time when a transaction opened
// a savepoint that was never released or rolled back to.
var ErrUnreleasedSavepoint = errors.New("wal: unreleased savepoint at commit")

// Sequencer enforces LSN ordering within one external transaction and
// tracks open savepoints, so the core can reject a boundary violation
// before it ever reaches the state-capture manager.
type Sequencer struct {
	txID          uint64
	active        bool
	lastLSN       uint64
	openSavepoints map[string]bool
}

// NewSequencer returns a Sequencer with no active transaction.
func NewSequencer() *Sequencer {
	return &Sequencer{openSavepoints: make(map[string]bool)}
}

// Accept validates ev against the sequencer's current transaction state,
// updating it on success.
func (s *Sequencer) Accept(ev Event) error {
	if ev.Kind == EventBegin {
		s.txID = ev.ExternalTxID
		s.active = true
		s.lastLSN = ev.LSN
		s.openSavepoints = make(map[string]bool)
		return nil
	}

	if s.active && ev.ExternalTxID == s.txID {
		if ev.LSN <= s.lastLSN {
			return fmt.Errorf("%w: txid=%d lsn=%d <= last=%d", ErrOutOfOrderLSN, ev.ExternalTxID, ev.LSN, s.lastLSN)
		}
		s.lastLSN = ev.LSN
	}

	switch ev.Kind {
	case EventSavepoint:
		s.openSavepoints[ev.SavepointName] = true
	case EventReleaseSavepoint, EventRollbackToSavepoint:
		delete(s.openSavepoints, ev.SavepointName)
	case EventCommit:
		if len(s.openSavepoints) > 0 {
			s.active = false
			return fmt.Errorf("%w: %d open savepoint(s)", ErrUnreleasedSavepoint, len(s.openSavepoints))
		}
		s.active = false
	case EventAbort:
		s.active = false
	}
	return nil
}

// VerifyTransactionBoundaries reports whether the transaction, given its
// full ordered event list, closed cleanly: LSNs strictly increasing, a
// terminal commit or abort present, and no unreleased savepoints at the
// terminal commit. Used as a standalone check independent of live Sequencer
// state, e.g. for challenge evidence reconstruction. An empty list is
// trivially clean.
func VerifyTransactionBoundaries(events []Event) bool {
	if len(events) == 0 {
		return true
	}
	open := make(map[string]bool)
	lastLSN := uint64(0)
	for i, ev := range events {
		if i > 0 && ev.LSN <= lastLSN {
			return false
		}
		lastLSN = ev.LSN
		switch ev.Kind {
		case EventSavepoint:
			open[ev.SavepointName] = true
		case EventReleaseSavepoint, EventRollbackToSavepoint:
			delete(open, ev.SavepointName)
		case EventCommit:
			return len(open) == 0
		case EventAbort:
			return true
		}
	}
	// No terminal commit or abort ever arrived.
	return false
}
