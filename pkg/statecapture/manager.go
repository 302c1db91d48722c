// Copyright 2025 Certen Protocol
//
// Package statecapture maintains the latest live TableState objects, the
// history of committed BlockStates, and the in-progress transaction
// changeset assembled from WAL events. It is the authoritative in-memory
// ledger of committed table and block state: grounded on the teacher's
// pkg/ledger.LedgerStore bookkeeping (Save*/Load* accessor pairs, explicit
// "not found" sentinels) but generalized from a single-writer KV store to a
// reader-writer-locked in-memory map, per the concurrency model's fixed
// lock order (in-progress -> live -> history -> latest).

package statecapture

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/merkle"
	"github.com/certen/independant-validator/pkg/model"
	"github.com/certen/independant-validator/pkg/schema"
	"github.com/certen/independant-validator/pkg/wal"
)

var (
	ErrAlreadyInitialized  = errors.New("statecapture: manager already initialized")
	ErrNotInitialized      = errors.New("statecapture: manager not initialized")
	ErrGenesisMismatch     = errors.New("statecapture: genesis table roots do not match genesis block state")
	ErrNoInProgress        = errors.New("statecapture: no in-progress transaction to commit")
	ErrBlockNotFound       = errors.New("statecapture: block not found")
	ErrTableNotFound       = errors.New("statecapture: table not found")
	ErrRowNotFound         = errors.New("statecapture: row not found")
	ErrProtocolBoundary    = errors.New("statecapture: protocol boundary violation")
)

// RowChange is a pending update within an in-progress changeset: the row id
// plus the new row contents.
type RowChange struct {
	RowID string
	Row   model.Row
}

// tableChangeset holds one table's pending WAL-driven mutations, in the
// order they must be replayed at commit time: deletes, then updates, then
// inserts (spec section 4.4 step 3).
type tableChangeset struct {
	Inserts []model.Row
	Updates []RowChange
	Deletes []string
}

// inProgress is the changeset currently being assembled from WAL events for
// one external transaction.
type inProgress struct {
	ExternalTxID *uint64
	Tables       map[string]*tableChangeset
}

func newInProgress(externalTxID *uint64) *inProgress {
	return &inProgress{ExternalTxID: externalTxID, Tables: make(map[string]*tableChangeset)}
}

func (p *inProgress) table(name string) *tableChangeset {
	tc, ok := p.Tables[name]
	if !ok {
		tc = &tableChangeset{}
		p.Tables[name] = tc
	}
	return tc
}

// Options configures a Manager's construction.
type Options struct {
	Algorithm cryptohash.Algorithm
	Logger    *log.Logger
}

// Option mutates an Options value; functional-options constructor, matching
// the rest of the module's collaborator constructors.
type Option func(*Options)

// WithAlgorithm selects the hash algorithm used for all roots the manager
// derives.
func WithAlgorithm(algo cryptohash.Algorithm) Option {
	return func(o *Options) { o.Algorithm = algo }
}

// WithLogger installs a *log.Logger for the manager's warnings (lost
// commits, missing schemas). Re-initialization attempts are not logged;
// Initialize returns ErrAlreadyInitialized.
func WithLogger(l *log.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Manager is the state-capture manager described by spec section 4.4.
type Manager struct {
	algo   cryptohash.Algorithm
	logger *log.Logger

	schemas schema.Map
	schemaMu sync.Mutex

	progressMu sync.RWMutex
	progress   *inProgress

	liveMu sync.RWMutex
	live   map[string]*model.TableState

	historyMu sync.RWMutex
	history   map[uint64]*model.BlockState

	latestMu sync.RWMutex
	latest   uint64
	initialized bool
}

// NewManager builds an uninitialized Manager. Call Initialize before any
// other method.
func NewManager(schemas schema.Map, opts ...Option) *Manager {
	o := Options{Algorithm: cryptohash.DefaultAlgorithm, Logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		algo:    o.Algorithm,
		logger:  o.Logger,
		schemas: schemas,
		live:    make(map[string]*model.TableState),
		history: make(map[uint64]*model.BlockState),
	}
}

// Initialize installs the genesis BlockState and the starting live
// TableStates. Every table's root must match the genesis block's recorded
// per-table root. Rejects re-initialization.
func (m *Manager) Initialize(genesis *model.BlockState, tables map[string]*model.TableState) error {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	m.latestMu.Lock()
	defer m.latestMu.Unlock()
	if m.initialized {
		return ErrAlreadyInitialized
	}
	if !genesis.Header.IsGenesis() {
		return fmt.Errorf("statecapture: %w: header is not genesis", ErrGenesisMismatch)
	}
	for name, root := range genesis.TableRoots {
		ts, ok := tables[name]
		if !ok {
			return fmt.Errorf("%w: table %q missing from initial state", ErrGenesisMismatch, name)
		}
		if ts.Root() != root {
			return fmt.Errorf("%w: table %q root mismatch", ErrGenesisMismatch, name)
		}
	}

	for name, ts := range tables {
		m.live[name] = ts
	}

	m.history[genesis.Header.Number] = genesis

	m.latest = genesis.Header.Number
	m.initialized = true
	return nil
}

// BeginWALTransaction installs a fresh in-progress changeset. If one is
// already outstanding it is overwritten and a warning logged, since that
// indicates a lost commit or rollback upstream.
func (m *Manager) BeginWALTransaction(externalTxID *uint64) {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	if m.progress != nil {
		m.logger.Printf("statecapture: overwriting in-progress transaction (lost commit/rollback?), external_txid=%v", m.progress.ExternalTxID)
	}
	m.progress = newInProgress(externalTxID)
}

// ApplyInsert appends an insert to the in-progress changeset for table.
func (m *Manager) ApplyInsert(table string, row model.Row) error {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	if m.progress == nil {
		return ErrNoInProgress
	}
	tc := m.progress.table(table)
	tc.Inserts = append(tc.Inserts, row)
	return nil
}

// ApplyUpdate appends an update to the in-progress changeset for table.
func (m *Manager) ApplyUpdate(table string, rowID string, row model.Row) error {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	if m.progress == nil {
		return ErrNoInProgress
	}
	tc := m.progress.table(table)
	tc.Updates = append(tc.Updates, RowChange{RowID: rowID, Row: row})
	return nil
}

// ApplyDelete appends a delete to the in-progress changeset for table. Any
// update of the same row queued earlier in the changeset is dropped, since
// commit applies deletes before updates and would otherwise re-insert it.
func (m *Manager) ApplyDelete(table string, rowID string) error {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	if m.progress == nil {
		return ErrNoInProgress
	}
	tc := m.progress.table(table)
	kept := tc.Updates[:0]
	for _, change := range tc.Updates {
		if change.RowID != rowID {
			kept = append(kept, change)
		}
	}
	tc.Updates = kept
	tc.Deletes = append(tc.Deletes, rowID)
	return nil
}

// CommitWALTransaction applies the in-progress changeset, producing and
// recording a new BlockState. Follows spec section 4.4 steps 1-9 exactly,
// and the fixed lock order of section 5: in-progress, then live, then
// history, then latest.
//
// events, when non-nil, is the ordered WAL event sequence the in-progress
// changeset was assembled from. It is checked against
// wal.VerifyTransactionBoundaries before anything else; an unreleased
// savepoint or other boundary violation fails the commit with
// ErrProtocolBoundary and leaves the in-progress changeset untouched, per
// spec section 7's protocol-boundary error kind.
func (m *Manager) CommitWALTransaction(commitLSN uint64, events []wal.Event, backendVersion, protocolVersion, operatorID string) (*model.BlockState, error) {
	if events != nil && !wal.VerifyTransactionBoundaries(events) {
		return nil, fmt.Errorf("%w: unreleased savepoint or missing terminal event at commit LSN %d", ErrProtocolBoundary, commitLSN)
	}

	m.progressMu.Lock()
	p := m.progress
	m.progress = nil
	m.progressMu.Unlock()

	if p == nil {
		return nil, ErrNoInProgress
	}

	m.liveMu.Lock()
	touchedTables := make([]string, 0, len(p.Tables))
	for name, tc := range p.Tables {
		ts, ok := m.live[name]
		if !ok {
			m.schemaMu.Lock()
			sc, hasSchema := m.schemas[name]
			m.schemaMu.Unlock()
			if !hasSchema {
				m.logger.Printf("statecapture: commit references unknown table %q; installing placeholder schema", name)
				sc = &model.TableSchema{Name: name, PrimaryKey: []string{"id"}}
			}
			ts = model.NewTableState(m.algo, sc)
			m.live[name] = ts
		}

		for _, rowID := range tc.Deletes {
			ts.Delete(rowID)
		}
		for _, change := range tc.Updates {
			ts.Delete(change.RowID)
			ts.Insert(change.Row)
		}
		for _, row := range tc.Inserts {
			ts.Insert(row)
		}
		touchedTables = append(touchedTables, name)
	}

	tableRoots := make(map[string]cryptohash.Hash, len(m.live))
	for name, ts := range m.live {
		tableRoots[name] = ts.Root()
	}
	stateRoot := aggregateStateRoot(m.algo, tableRoots)
	m.liveMu.Unlock()

	m.historyMu.Lock()
	m.latestMu.Lock()
	prev, ok := m.history[m.latest]
	if !ok {
		m.latestMu.Unlock()
		m.historyMu.Unlock()
		return nil, fmt.Errorf("statecapture: %w: previous block %d missing from history", ErrBlockNotFound, m.latest)
	}

	header := model.BlockHeader{
		Number:           prev.Header.Number + 1,
		PreviousHash:     prev.Header.Hash,
		TransactionsRoot: model.TransactionsRoot(m.algo, nil), // WAL-driven commits carry no transaction set
		StateRoot:        stateRoot,
		Timestamp:        time.Now().UTC(),
		Metadata: model.BlockMetadata{
			BackendVersion:  backendVersion,
			ProtocolVersion: protocolVersion,
			OperatorID:      operatorID,
			AdditionalData:  map[string]string{"commit_lsn": strconv.FormatUint(commitLSN, 10)},
		},
	}
	header.Hash = header.ComputeHash(m.algo)

	sort.Strings(touchedTables)
	block := &model.BlockState{
		Header:        header,
		Transactions:  make(map[string]model.TransactionRecord),
		TableRoots:    tableRoots,
		TouchedTables: touchedTables,
	}
	m.history[header.Number] = block
	m.latest = header.Number
	m.latestMu.Unlock()
	m.historyMu.Unlock()

	return block, nil
}

func aggregateStateRoot(algo cryptohash.Algorithm, tableRoots map[string]cryptohash.Hash) cryptohash.Hash {
	return model.StateRoot(algo, tableRoots)
}

// StateRoot returns the current (latest) aggregate state root.
func (m *Manager) StateRoot() cryptohash.Hash {
	m.latestMu.RLock()
	n := m.latest
	m.latestMu.RUnlock()

	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	b, ok := m.history[n]
	if !ok {
		return cryptohash.Zero
	}
	return b.Header.StateRoot
}

// BlockNumber returns the current latest committed block number.
func (m *Manager) BlockNumber() uint64 {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()
	return m.latest
}

// BlockByNumber returns the headers-and-roots-only BlockState committed at
// number, or ErrBlockNotFound.
func (m *Manager) BlockByNumber(number uint64) (*model.BlockState, error) {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	b, ok := m.history[number]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}
	return b, nil
}

// LiveTableState returns the latest live TableState for name. By design,
// only the latest live full state is retained: historical live TableStates
// are unavailable and must be replayed from genesis.
func (m *Manager) LiveTableState(name string) (*model.TableState, error) {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()
	ts, ok := m.live[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return ts, nil
}

// LiveTableStates returns every currently live TableState keyed by table
// name, as of the latest committed block only.
func (m *Manager) LiveTableStates() map[string]*model.TableState {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()
	out := make(map[string]*model.TableState, len(m.live))
	for name, ts := range m.live {
		out[name] = ts
	}
	return out
}

// RowProof is the row plus a serialized inner-tree inclusion proof.
type RowProof struct {
	Table string
	Row   model.Row
	Proof *merkle.Proof
}

// ProveRow emits an inclusion proof for (table, rowID) against the table's
// current live root.
func (m *Manager) ProveRow(table, rowID string) (*RowProof, error) {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()
	ts, ok := m.live[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	row, ok := ts.Rows[rowID]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrRowNotFound, rowID, table)
	}
	proof, ok := ts.RowProof(rowID)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrRowNotFound, rowID, table)
	}
	return &RowProof{Table: table, Row: row, Proof: proof}, nil
}

// VerifyRowProof rebuilds the row's leaf bytes, checks them against the
// proof's captured leaf, walks the inner proof to obtain the table-state
// root, and optionally compares it to an expected published root (pass
// cryptohash.Zero to skip that comparison).
func VerifyRowProof(algo cryptohash.Algorithm, rp *RowProof, expectedRoot cryptohash.Hash) bool {
	if rp.Proof == nil {
		return false
	}
	if !bytes.Equal(rp.Row.Bytes(), rp.Proof.LeafData) {
		return false
	}
	computed := merkle.RootFromProof(algo, rp.Proof)
	if !expectedRoot.IsZero() && computed != expectedRoot {
		return false
	}
	return true
}
