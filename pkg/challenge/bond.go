// Copyright 2025 Certen Protocol
//
// Package challenge prices and tracks bonded disputes over a committed
// transaction's pre/post state transition. The bond-pricing state machine
// is grounded on the teacher's pkg/proof/lifecycle.go ProofLifecycleManager:
// a ValidTransitions table plus listener hooks, generalized here from proof
// verification states to challenge states (model.ValidChallengeTransitions).

package challenge

import (
	"math/big"

	"github.com/certen/independant-validator/pkg/model"
)

// Unit and floor values from spec section 4.7. Both fit in a uint64 but are
// carried as big.Int throughout the pricing path since the quadratic term
// V^2 can overflow 64 bits for V near UNIT.
var (
	Unit    = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	MinBond = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
)

// CalculateOptimalBond computes B(V, kind) = max(MIN_BOND, coeff(kind)*V^2/UNIT).
//
// V = 0 is clamped to 1 before squaring. Exact multiples of UNIT take a
// dedicated path that keeps the squared relationship exact
// (calculate_optimal_bond(k*UNIT) = calculate_optimal_bond(UNIT)*k^2), so
// their bond is not capped. Any other V above UNIT is clamped to UNIT for
// the quadratic term, so its bond never grows past coeff(kind)*UNIT. The
// exact-multiple path is kept
// per spec section 9's instruction to retain this special case verbatim.
func CalculateOptimalBond(v *big.Int, kind model.ChallengeKind) *big.Int {
	coeff := new(big.Int).SetUint64(kind.BondCoefficient())

	if v.Sign() <= 0 {
		v = big.NewInt(1)
	}

	if k, ok := exactUnitMultiple(v); ok {
		base := new(big.Int).Mul(coeff, Unit) // coeff(kind)*UNIT^2/UNIT = coeff(kind)*UNIT
		kSquared := new(big.Int).Mul(k, k)
		bond := new(big.Int).Mul(base, kSquared)
		return clampToFloor(bond)
	}

	clampedV := v
	if clampedV.Cmp(Unit) > 0 {
		clampedV = Unit
	}
	vSquared := new(big.Int).Mul(clampedV, clampedV)
	bond := new(big.Int).Div(new(big.Int).Mul(coeff, vSquared), Unit)
	return clampToFloor(bond)
}

// exactUnitMultiple reports whether v = k*UNIT for some integer k >= 1,
// returning k.
func exactUnitMultiple(v *big.Int) (*big.Int, bool) {
	if v.Sign() <= 0 {
		return nil, false
	}
	q, r := new(big.Int), new(big.Int)
	q.DivMod(v, Unit, r)
	if r.Sign() != 0 || q.Sign() < 1 {
		return nil, false
	}
	return q, true
}

func clampToFloor(bond *big.Int) *big.Int {
	if bond.Cmp(MinBond) < 0 {
		return new(big.Int).Set(MinBond)
	}
	return bond
}
