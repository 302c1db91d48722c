// Copyright 2025 Certen Protocol

package challenge

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/cryptohash"
	"github.com/certen/independant-validator/pkg/model"
)

var (
	ErrNotFound          = errors.New("challenge: not found")
	ErrIllegalTransition = errors.New("challenge: illegal status transition")
)

// Ledger is the append-only, mutex-guarded collection of Challenges raised
// locally, mirroring the teacher's proof-lifecycle metrics guard
// (sync.RWMutex around a map keyed by id, never removed on failure).
type Ledger struct {
	mu         sync.RWMutex
	algo       cryptohash.Algorithm
	challenges map[uuid.UUID]*model.Challenge
}

// NewLedger builds an empty challenge ledger.
func NewLedger(algo cryptohash.Algorithm) *Ledger {
	return &Ledger{algo: algo, challenges: make(map[uuid.UUID]*model.Challenge)}
}

// DefaultVerificationWindow is the "sensible default" verification deadline
// (spec section 4.5) applied when Submit's caller does not know a better
// one: the time a challenger has to produce a verifying resolution before
// the challenge times out.
const DefaultVerificationWindow = 24 * time.Hour

// DefaultMaxComputeUnits bounds the resources a challenge's verification
// may consume, absent input-supplied guidance.
const DefaultMaxComputeUnits = 1_000_000

// SubmitRequest carries the caller-supplied particulars of a challenge;
// fields left zero take the sensible defaults Submit documents.
type SubmitRequest struct {
	Kind             model.ChallengeKind
	BlockNumber      uint64
	TransactionID    uuid.UUID
	Challenger       [20]byte
	Operator         [20]byte
	TransactionValue *big.Int
	Evidence         model.Evidence
	Priority         int
	MaxComputeUnits  uint64
	Metadata         map[string]string
}

// Submit records a new pending Challenge: the bond amount is computed from
// the transaction value and kind per section 4.7, the evidence hash is
// derived from its fields, and a stored hash is computed over the whole
// record. Per spec section 4.5, this is the "assembles a Challenge with
// sensible defaults" step; it is the caller's responsibility to hand the
// result to the external contract collaborator.
func (l *Ledger) Submit(req SubmitRequest) *model.Challenge {
	value := req.TransactionValue
	if value == nil {
		value = big.NewInt(0)
	}
	maxComputeUnits := req.MaxComputeUnits
	if maxComputeUnits == 0 {
		maxComputeUnits = DefaultMaxComputeUnits
	}

	req.Evidence.Hash = req.Evidence.ComputeHash(l.algo)
	submittedAt := time.Now().UTC()

	c := &model.Challenge{
		ID:                   uuid.New(),
		Kind:                 req.Kind,
		Status:               model.ChallengePending,
		BlockNumber:          req.BlockNumber,
		TransactionID:        req.TransactionID,
		Challenger:           req.Challenger,
		Operator:             req.Operator,
		BondAmount:           CalculateOptimalBond(value, req.Kind),
		TransactionValue:     value,
		Evidence:             req.Evidence,
		SubmittedAt:          submittedAt,
		VerificationDeadline: submittedAt.Add(DefaultVerificationWindow),
		MaxComputeUnits:      maxComputeUnits,
		Priority:             req.Priority,
		Metadata:             req.Metadata,
	}
	c.Hash = c.ComputeHash(l.algo)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.challenges[c.ID] = c
	return c
}

// Get returns the challenge with id, or ErrNotFound.
func (l *Ledger) Get(id uuid.UUID) (*model.Challenge, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Transition moves the challenge id to newStatus — model.Challenge.Transition
// stamps ResolvedAt automatically for any terminal destination — and
// recomputes the stored hash.
func (l *Ledger) Transition(id uuid.UUID, newStatus model.ChallengeStatus, result string) (*model.Challenge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := c.Transition(newStatus); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	c.Result = result
	c.Hash = c.ComputeHash(l.algo)
	return c, nil
}

// MarkTimedOut transitions id to ChallengeTimedOut if now is past the
// challenge's own VerificationDeadline. Intended to be driven by an
// external poll against every pending/verifying challenge.
func (l *Ledger) MarkTimedOut(id uuid.UUID, now time.Time) (*model.Challenge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if now.Before(c.VerificationDeadline) {
		return nil, fmt.Errorf("challenge: %s not yet past deadline", id)
	}
	if err := c.Transition(model.ChallengeTimedOut); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalTransition, err)
	}
	c.ResolvedAt = now
	c.Hash = c.ComputeHash(l.algo)
	return c, nil
}

// Pending returns every challenge not yet in a terminal status.
func (l *Ledger) Pending() []*model.Challenge {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*model.Challenge, 0)
	for _, c := range l.challenges {
		if !c.Status.IsTerminal() {
			out = append(out, c)
		}
	}
	return out
}
