// Copyright 2025 Certen Protocol
//
// Package orchestrator drives the per-client-transaction verification
// lifecycle: begin, replay, complete, and periodic state-commitment
// publication (spec section 4.5). Grounded on the teacher's
// pkg/execution/unified_orchestrator.go and
// pkg/execution/proof_cycle_orchestrator.go — a mutex-guarded map of active
// cycles and functional-options construction, without completion/failure
// callback hooks — generalized from the four-phase external proof cycle
// to the two-call begin/complete transaction-verification cycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/challenge"
	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
	"github.com/certen/independant-validator/pkg/replay"
	"github.com/certen/independant-validator/pkg/statecapture"
)

var (
	// ErrUnknownTransaction is returned by Complete when the supplied id is
	// not in the pending set (already completed, never begun, or expired).
	ErrUnknownTransaction = errors.New("orchestrator: unknown or already-completed transaction")
	// ErrVerificationDisabled is returned by Complete for a transaction id
	// of uuid.Nil, the placeholder Begin returns when verification is
	// skipped.
	ErrVerificationDisabled = errors.New("orchestrator: verification is disabled for this transaction")
)

// ContractCollaborator is the outbound on-chain commitment/challenge
// interface (spec section 6). The core only calls through this interface;
// it never embeds signing logic.
type ContractCollaborator interface {
	CommitState(ctx context.Context, root cryptohash.Hash, blockNumber uint64, prevRoot cryptohash.Hash, txHash string, txCount int, modifiedTables []string) (string, error)
	SubmitChallenge(ctx context.Context, commitmentID string, kind model.ChallengeKind, evidenceHash cryptohash.Hash, transactionID uuid.UUID, priority int, proof []byte) (string, error)
	CalculateChallengeBond(ctx context.Context, kind model.ChallengeKind, priority int) (*big.Int, error)
}

// StateCommitment is a published (sequence, root, timestamp) record, per the
// glossary's Commitment definition. Confirmations counts on-chain
// confirmations of TxHash and is advanced by the external contract
// collaborator's watcher, not by the core.
type StateCommitment struct {
	Sequence      uint64
	BlockNumber   uint64
	Root          cryptohash.Hash
	PrevRoot      cryptohash.Hash
	Timestamp     time.Time
	TxHash        string
	Confirmations uint64
	Metadata      map[string]string
}

// Config bounds the orchestrator's behavior, mirroring the persisted
// VerificationConfig section (spec section 6).
type Config struct {
	VerificationEnabled bool
	// VerifyDDL gates eligibility of schema-changing operations; when false
	// schema-changing operations are never eligible, per spec section 4.5's
	// eligibility rule.
	VerifyDDL bool
	// VerifyAll extends eligibility to read-only queries. Transaction-control
	// statements are never eligible regardless.
	VerifyAll bool
	// CommitEvery is N in "every N transactions, publish a StateCommitment".
	CommitEvery      uint64
	ExecutionTimeout time.Duration
}

// DefaultConfig returns conservative defaults: verification on with the same
// 30-second timeout as config.Default()'s VerificationConfig section, but
// VerifyDDL off, whereas config.Default() turns on VerifyStateTransitions,
// which main maps onto VerifyDDL.
func DefaultConfig() Config {
	return Config{
		VerificationEnabled: true,
		VerifyDDL:           false,
		CommitEvery:         100,
		ExecutionTimeout:    30 * time.Second,
	}
}

// Options configures an Orchestrator's optional collaborators.
type Options struct {
	Logger    *log.Logger
	ReplayEnv *replay.Environment
	Challenges *challenge.Ledger
	Contract  ContractCollaborator
}

// Option mutates an Options value.
type Option func(*Options)

// WithLogger installs a *log.Logger for lifecycle diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithReplayEnvironment installs the deterministic replay environment driven
// by Complete.
func WithReplayEnvironment(e *replay.Environment) Option {
	return func(o *Options) { o.ReplayEnv = e }
}

// WithChallengeLedger installs the challenge ledger a failed verification
// may hand off to.
func WithChallengeLedger(l *challenge.Ledger) Option {
	return func(o *Options) { o.Challenges = l }
}

// WithContract installs the on-chain commitment/challenge collaborator.
func WithContract(c ContractCollaborator) Option {
	return func(o *Options) { o.Contract = c }
}

type pendingEntry struct {
	record   *model.TransactionRecord
	preState replay.PreState
}

// Orchestrator drives the begin/complete verification lifecycle described by
// spec section 4.5. It owns no row data itself: the live state of record is
// the statecapture.Manager it is bound to.
type Orchestrator struct {
	cfg      Config
	logger   *log.Logger
	algo     cryptohash.Algorithm
	capture  *statecapture.Manager
	analyzer QueryAnalyzer

	replayEnv  *replay.Environment
	challenges *challenge.Ledger
	contract   ContractCollaborator

	mu      sync.RWMutex
	pending map[uuid.UUID]*pendingEntry

	commitMu     sync.Mutex
	nextSeq      uint64
	sinceCommit  uint64
	commitments  []StateCommitment
}

// NewOrchestrator constructs an Orchestrator bound to capture (the state of
// record) and analyzer (the query-classification boundary).
func NewOrchestrator(capture *statecapture.Manager, algo cryptohash.Algorithm, analyzer QueryAnalyzer, cfg Config, opts ...Option) *Orchestrator {
	o := Options{Logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     o.Logger,
		algo:       algo,
		capture:    capture,
		analyzer:   analyzer,
		replayEnv:  o.ReplayEnv,
		challenges: o.Challenges,
		contract:   o.Contract,
		pending:    make(map[uuid.UUID]*pendingEntry),
	}
}

// eligible implements spec section 4.5's eligibility rule: always verify
// data-modifying queries, verify schema changes only when VerifyDDL is set,
// verify everything else only when VerifyAll is set, never verify
// transaction-control statements.
func (o *Orchestrator) eligible(a QueryAnalysis) bool {
	switch {
	case a.Kind == model.OpBegin, a.Kind == model.OpCommit, a.Kind == model.OpRollback, a.Kind == model.OpSavepoint:
		return false
	case a.Kind.IsDataModifying():
		return true
	case a.Kind.IsSchemaChanging():
		return o.cfg.VerifyDDL
	default:
		return o.cfg.VerifyAll
	}
}

// Begin implements step 1 of spec section 4.5's lifecycle. It returns
// uuid.Nil (the "0 transaction id placeholder") when verification is
// disabled or the statement is ineligible — not an error, a skip.
func (o *Orchestrator) Begin(query string, metadata []byte) (uuid.UUID, error) {
	if !o.cfg.VerificationEnabled {
		return uuid.Nil, nil
	}
	analysis := o.analyzer.Analyze(query)
	if !o.eligible(analysis) {
		return uuid.Nil, nil
	}

	id := uuid.New()
	preRoot := o.capture.StateRoot()

	preState := make(replay.PreState, len(analysis.Tables))
	for _, table := range analysis.Tables {
		if ts, err := o.capture.LiveTableState(table); err == nil {
			preState[table] = ts.Clone()
		}
	}

	rec := &model.TransactionRecord{
		ID:        id,
		Kind:      operationKindToTransactionKind(analysis.Kind),
		StartTime: time.Now().UTC(),
		Operations: []model.Operation{{
			Kind:   analysis.Kind,
			SQL:    analysis.RewrittenSQL,
			Tables: analysis.Tables,
		}},
		PreRoot:  preRoot,
		Metadata: metadata,
		Status:   model.VerificationNotVerified,
	}

	o.mu.Lock()
	o.pending[id] = &pendingEntry{record: rec, preState: preState}
	o.mu.Unlock()

	return id, nil
}

// CompleteRequest carries the information Complete needs beyond the
// transaction id: the statements to replay, and the caller's claimed
// post-state (root and, optionally, full per-table contents) to verify
// against an independent replay. This is an explicit parameterization of
// spec section 4.5's terse "complete(transaction-id, rows-affected)": the
// verification this step performs is inherently a comparison between what
// the source engine claims happened and what replay reproduces, so the
// claim must be an input.
type CompleteRequest struct {
	RowsAffected     int
	ClaimedPostRoot  cryptohash.Hash
	Statements       []replay.Statement
	ClaimedPostState map[string]*model.TableState

	// Challenger, TransactionValue, and Priority feed the challenge
	// submitted automatically on verification failure (spec section 4.5).
	// TransactionValue defaults to zero (which still floors the bond at
	// MinBond per section 4.7) when the caller has no better estimate.
	Challenger       [20]byte
	TransactionValue *big.Int
	Priority         int
}

// Complete implements step 2 of spec section 4.5's lifecycle: it
// re-captures the current state root, compares it to the caller's claimed
// post-root, drives replay when the roots agree (replay can still fail),
// and promotes the transaction record to verified/failed/skipped. A nil
// return with no error means the transaction id was the skip placeholder.
func (o *Orchestrator) Complete(ctx context.Context, id uuid.UUID, req CompleteRequest) (*model.TransactionRecord, error) {
	if id == uuid.Nil {
		return nil, nil
	}

	o.mu.Lock()
	entry, ok := o.pending[id]
	if ok {
		delete(o.pending, id)
	}
	o.mu.Unlock()
	if !ok {
		return nil, ErrUnknownTransaction
	}

	rec := entry.record
	rec.Status = model.VerificationInProgress
	rec.PostRoot = req.ClaimedPostRoot
	rec.EndTime = time.Now().UTC()

	actualPostRoot := o.capture.StateRoot()
	if actualPostRoot != req.ClaimedPostRoot {
		rec.Status = model.VerificationFailed
		rec.Error = fmt.Sprintf("state-root mismatch: claimed %s, actual %s", req.ClaimedPostRoot, actualPostRoot)
		rec.Hash = rec.ComputeHash(o.algo)
		o.logger.Printf("orchestrator: transaction %s failed: %s", id, rec.Error)
		o.submitChallenge(ctx, model.ChallengeInvalidStateTransition, rec, req)
		return rec, nil
	}

	if o.replayEnv != nil && len(req.Statements) > 0 {
		// The determinism contract's function substitution happens here, at
		// the query-analyzer boundary, not inside the database: replay only
		// ever sees statements whose timestamp/random/uuid calls are already
		// fixed to transaction-bound literals.
		stmts := make([]replay.Statement, len(req.Statements))
		for i, s := range req.Statements {
			s.SQL = SubstituteNondeterministic(s.SQL, id, uint64(i))
			stmts[i] = s
		}
		replayCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecutionTimeout)
		result, err := o.replayEnv.Replay(replayCtx, entry.preState, stmts, req.ClaimedPostState)
		cancel()
		challengeKind := model.ChallengeInvalidExecution
		switch {
		case err != nil:
			rec.Status = model.VerificationFailed
			rec.Error = err.Error()
		case result.ResourceExceeded != "":
			rec.Status = model.VerificationFailed
			rec.Error = "resource limit exceeded: " + result.ResourceExceeded
			challengeKind = model.ChallengeResourceExhaustion
		case !result.Success:
			rec.Status = model.VerificationFailed
			rec.Error = "replay mismatch: " + describeResult(result)
		default:
			rec.Status = model.VerificationVerified
		}
		rec.Hash = rec.ComputeHash(o.algo)
		if rec.Status == model.VerificationFailed {
			o.logger.Printf("orchestrator: transaction %s failed: %s", id, rec.Error)
			o.submitChallenge(ctx, challengeKind, rec, req)
		}
	} else if req.RowsAffected == 0 {
		// Nothing to replay and the source engine reports no rows touched:
		// the transaction was a no-op, so there is no state transition to
		// verify one way or the other.
		rec.Status = model.VerificationSkipped
		rec.Hash = rec.ComputeHash(o.algo)
	} else {
		rec.Status = model.VerificationVerified
		rec.Hash = rec.ComputeHash(o.algo)
	}

	o.maybePublishCommitment(ctx, rec)
	return rec, nil
}

// submitChallenge implements spec section 4.5's "Challenge submission"
// step: given the failed transaction's record, it assembles a Challenge
// with sensible defaults, stores it in the local ledger, and hands it off
// to the external contract collaborator. A missing ledger or contract
// collaborator is not an error: both are optional collaborators, and a
// deployment without them simply skips on-chain escalation.
func (o *Orchestrator) submitChallenge(ctx context.Context, kind model.ChallengeKind, rec *model.TransactionRecord, req CompleteRequest) {
	if o.challenges == nil {
		return
	}

	c := o.challenges.Submit(challenge.SubmitRequest{
		Kind:             kind,
		BlockNumber:      o.capture.BlockNumber(),
		TransactionID:    rec.ID,
		Challenger:       req.Challenger,
		TransactionValue: req.TransactionValue,
		Priority:         req.Priority,
		Evidence: model.Evidence{
			Description: rec.Error,
			Expected:    req.ClaimedPostRoot.String(),
			Actual:      o.capture.StateRoot().String(),
		},
	})
	o.logger.Printf("orchestrator: submitted challenge %s (kind=%s, bond=%s) for transaction %s", c.ID, kind, c.BondAmount, rec.ID)

	if o.contract == nil {
		return
	}
	txHash, err := o.contract.SubmitChallenge(ctx, c.ID.String(), kind, c.Evidence.Hash, rec.ID, req.Priority, c.Evidence.Hash.Bytes())
	if err != nil {
		o.logger.Printf("orchestrator: on-chain challenge submission failed for %s: %v", c.ID, err)
		return
	}
	o.logger.Printf("orchestrator: challenge %s published on-chain, tx %s", c.ID, txHash)
}

func describeResult(r *replay.Result) string {
	if len(r.MismatchedTables) > 0 {
		return r.MismatchedTables[0].Reason + " (" + r.MismatchedTables[0].Table + ")"
	}
	if len(r.MismatchedRows) > 0 {
		return r.MismatchedRows[0].Reason + " (" + r.MismatchedRows[0].Table + "/" + r.MismatchedRows[0].RowID + ")"
	}
	return "unspecified mismatch"
}

// maybePublishCommitment implements "periodically (every N transactions)
// publishes the current state root as a StateCommitment". Publication
// failure is logged, never fatal: the commitment ledger must survive
// individual errors per spec section 7.
func (o *Orchestrator) maybePublishCommitment(ctx context.Context, rec *model.TransactionRecord) {
	o.commitMu.Lock()
	o.sinceCommit++
	due := o.cfg.CommitEvery > 0 && o.sinceCommit >= o.cfg.CommitEvery
	if due {
		o.sinceCommit = 0
	}
	o.commitMu.Unlock()
	if !due {
		return
	}

	root := o.capture.StateRoot()
	blockNumber := o.capture.BlockNumber()
	var prevRoot cryptohash.Hash
	if blockNumber > 0 {
		if prev, err := o.capture.BlockByNumber(blockNumber - 1); err == nil {
			prevRoot = prev.Header.StateRoot
		}
	}

	var txHash string
	if o.contract != nil {
		h, err := o.contract.CommitState(ctx, root, blockNumber, prevRoot, rec.ID.String(), 1, rec.Operations[0].Tables)
		if err != nil {
			o.logger.Printf("orchestrator: commit-state publication failed: %v", err)
		} else {
			txHash = h
		}
	}

	o.commitMu.Lock()
	o.nextSeq++
	o.commitments = append(o.commitments, StateCommitment{
		Sequence:    o.nextSeq,
		BlockNumber: blockNumber,
		Root:        root,
		PrevRoot:    prevRoot,
		Timestamp:   time.Now().UTC(),
		TxHash:      txHash,
	})
	o.commitMu.Unlock()
}

// Commitments returns a copy of the published commitment history.
func (o *Orchestrator) Commitments() []StateCommitment {
	o.commitMu.Lock()
	defer o.commitMu.Unlock()
	out := make([]StateCommitment, len(o.commitments))
	copy(out, o.commitments)
	return out
}

// Pending reports the number of transactions currently awaiting Complete.
func (o *Orchestrator) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.pending)
}

func operationKindToTransactionKind(k model.OperationKind) model.TransactionKind {
	switch {
	case k.IsSchemaChanging():
		return model.TxSchemaChange
	case k.IsDataModifying():
		return model.TxReadWrite
	default:
		return model.TxReadOnly
	}
}
