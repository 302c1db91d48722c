// Copyright 2025 Certen Protocol

package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/cryptohash"
)

// ChallengeKind enumerates the classes of dispute a challenger may raise
// against a committed block or transaction.
type ChallengeKind uint8

const (
	ChallengeInvalidStateTransition ChallengeKind = iota
	ChallengeInvalidExecution
	ChallengeInvalidProof
	ChallengeBoundaryViolation
	ChallengeNonDeterministicExecution
	ChallengeResourceExhaustion
	ChallengeProtocolViolation
	ChallengeSchemaViolation
)

func (k ChallengeKind) String() string {
	names := [...]string{
		"invalid_state_transition", "invalid_execution", "invalid_proof",
		"boundary_violation", "non_deterministic_execution", "resource_exhaustion",
		"protocol_violation", "schema_violation",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("challengekind(%d)", uint8(k))
}

// BondCoefficient returns the kind-specific coefficient used by the bond
// pricing formula B(V, kind) = max(MIN_BOND, coeff(kind)*V^2/UNIT), per spec
// section 4.7's fixed per-kind table.
func (k ChallengeKind) BondCoefficient() uint64 {
	switch k {
	case ChallengeInvalidStateTransition:
		return 50
	case ChallengeInvalidExecution:
		return 100
	case ChallengeInvalidProof:
		return 25
	case ChallengeBoundaryViolation:
		return 150
	case ChallengeNonDeterministicExecution:
		return 200
	case ChallengeResourceExhaustion:
		return 75
	case ChallengeProtocolViolation:
		return 125
	case ChallengeSchemaViolation:
		return 50
	default:
		return 1
	}
}

// ChallengeStatus is the state of a challenge's lifecycle.
type ChallengeStatus uint8

const (
	ChallengePending ChallengeStatus = iota
	ChallengeVerifying
	ChallengeSuccessful
	ChallengeRejected
	ChallengeTimedOut
	ChallengeWithdrawn
)

func (s ChallengeStatus) String() string {
	names := [...]string{"pending", "verifying", "successful", "rejected", "timed_out", "withdrawn"}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("challengestatus(%d)", uint8(s))
}

// IsTerminal reports whether s is a status from which no further transition
// is valid.
func (s ChallengeStatus) IsTerminal() bool {
	return s == ChallengeSuccessful || s == ChallengeRejected || s == ChallengeTimedOut || s == ChallengeWithdrawn
}

// ValidChallengeTransitions is the status state machine's transition table,
// grounded on the teacher's proof-lifecycle ValidTransitions pattern: for
// each status, the set of statuses it may move to next.
var ValidChallengeTransitions = map[ChallengeStatus][]ChallengeStatus{
	ChallengePending:   {ChallengeVerifying, ChallengeWithdrawn, ChallengeTimedOut},
	ChallengeVerifying: {ChallengeSuccessful, ChallengeRejected, ChallengeTimedOut, ChallengeWithdrawn},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// of the challenge status state machine.
func CanTransition(from, to ChallengeStatus) bool {
	for _, allowed := range ValidChallengeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Evidence is a hashed bundle of proof material supporting a challenge: a
// human-readable description of the defect, the expected and actual
// results, a reproducing test case, and optional raw supporting bytes (a
// Merkle proof blob, a replay mismatch report, ...).
type Evidence struct {
	Description string
	Expected    string
	Actual      string
	TestCase    string
	RawBytes    []byte
	Hash        cryptohash.Hash
}

// ComputeHash derives the evidence's stored hash from description,
// expected, actual, test-case, and optional raw bytes, per spec section
// 4.7.
func (e *Evidence) ComputeHash(algo cryptohash.Algorithm) cryptohash.Hash {
	return cryptohash.Digest(algo, cryptohash.TagChallenge,
		[]byte(e.Description),
		[]byte(e.Expected),
		[]byte(e.Actual),
		[]byte(e.TestCase),
		e.RawBytes,
	)
}

// VerifyHash reports whether e.Hash equals ComputeHash(algo).
func (e *Evidence) VerifyHash(algo cryptohash.Algorithm) bool {
	return e.Hash == e.ComputeHash(algo)
}

// Challenge is a bonded, bounded-lifetime dispute raised against a
// committed block's transaction, per spec section 3.
type Challenge struct {
	ID                   uuid.UUID
	Kind                 ChallengeKind
	Status               ChallengeStatus
	BlockNumber          uint64
	TransactionID        uuid.UUID
	Challenger           [20]byte // external address
	Operator             [20]byte // external address
	BondAmount           *big.Int // 128-bit unsigned
	TransactionValue     *big.Int // 128-bit unsigned
	Evidence             Evidence
	SubmittedAt          time.Time
	VerificationDeadline time.Time
	ResolvedAt           time.Time // zero until a terminal transition
	Result               string
	MaxComputeUnits      uint64
	Priority             int
	Metadata             map[string]string
	Hash                 cryptohash.Hash
}

// Transition moves the challenge to newStatus if the edge is legal,
// returning an error otherwise. Resolution time is stamped automatically on
// any transition into a terminal status; timed-out is expected to be set
// externally (via MarkTimedOut) once the current time passes
// VerificationDeadline, rather than discovered here.
func (c *Challenge) Transition(newStatus ChallengeStatus) error {
	if !CanTransition(c.Status, newStatus) {
		return fmt.Errorf("model: illegal challenge transition %s -> %s", c.Status, newStatus)
	}
	c.Status = newStatus
	if newStatus.IsTerminal() {
		c.ResolvedAt = time.Now().UTC()
	}
	return nil
}

// ComputeHash derives the challenge's stored hash from its identifying
// fields plus the evidence hash, per spec section 4.7.
func (c *Challenge) ComputeHash(algo cryptohash.Algorithm) cryptohash.Hash {
	bond := c.BondAmount
	if bond == nil {
		bond = big.NewInt(0)
	}
	value := c.TransactionValue
	if value == nil {
		value = big.NewInt(0)
	}
	return cryptohash.Digest(algo, cryptohash.TagChallenge,
		c.ID[:],
		[]byte{byte(c.Kind)},
		[]byte{byte(c.Status)},
		cryptohash.BE64(c.BlockNumber),
		c.TransactionID[:],
		c.Challenger[:],
		c.Operator[:],
		bond.Bytes(),
		value.Bytes(),
		c.Evidence.Hash.Bytes(),
		cryptohash.MillisBE(c.SubmittedAt.UnixMilli()),
		cryptohash.MillisBE(c.VerificationDeadline.UnixMilli()),
		cryptohash.MillisBE(c.ResolvedAt.UnixMilli()),
		cryptohash.BE64(c.MaxComputeUnits),
		cryptohash.BE64(uint64(c.Priority)),
	)
}

// VerifyHash reports whether c.Hash equals ComputeHash(algo).
func (c *Challenge) VerifyHash(algo cryptohash.Algorithm) bool {
	return c.Hash == c.ComputeHash(algo)
}
