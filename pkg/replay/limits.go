// Copyright 2025 Certen Protocol
//
// Resource limiting for replay runs: memory, wall time, and concurrency.
// A limit breach is reported as a verification failure, never as a system
// error.

package replay

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	ErrConcurrencyLimit = errors.New("replay: concurrency limit exceeded")
	ErrMemoryLimit      = errors.New("replay: memory limit exceeded")
	ErrWallTimeLimit    = errors.New("replay: wall time limit exceeded")
)

// Limits bounds one replay run's resource usage.
type Limits struct {
	// MemoryLimitBytes caps the estimated size of the pre-state a replay may
	// materialize. Zero means unlimited.
	MemoryLimitBytes uint64
	// WallTimeLimit caps the whole run, over and above the per-statement
	// timeout. Zero means unlimited.
	WallTimeLimit time.Duration
	// MaxConcurrent caps simultaneous replay runs. Zero means unlimited.
	MaxConcurrent int
}

// DefaultLimits matches the verification defaults in config.Default().
func DefaultLimits() Limits {
	return Limits{
		MemoryLimitBytes: 512 << 20,
		WallTimeLimit:    30 * time.Second,
		MaxConcurrent:    8,
	}
}

// Limiter enforces Limits across concurrent replay runs: a semaphore for
// concurrency and an atomic counter for memory. Wall time is enforced by
// the Environment via a context deadline.
type Limiter struct {
	limits Limits
	slots  chan struct{}
	memory atomic.Uint64
}

// NewLimiter builds a Limiter for limits.
func NewLimiter(limits Limits) *Limiter {
	l := &Limiter{limits: limits}
	if limits.MaxConcurrent > 0 {
		l.slots = make(chan struct{}, limits.MaxConcurrent)
	}
	return l
}

// Acquire claims a concurrency slot without blocking: a replay arriving
// while all slots are busy fails immediately rather than queueing behind an
// unbounded backlog.
func (l *Limiter) Acquire() error {
	if l == nil || l.slots == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%w: %d runs in flight", ErrConcurrencyLimit, l.limits.MaxConcurrent)
	}
}

// Release returns a concurrency slot. Must be called exactly once per
// successful Acquire.
func (l *Limiter) Release() {
	if l == nil || l.slots == nil {
		return
	}
	<-l.slots
}

// AllocateMemory charges bytes against the memory limit, rolling the charge
// back when it would breach.
func (l *Limiter) AllocateMemory(bytes uint64) error {
	if l == nil || l.limits.MemoryLimitBytes == 0 {
		return nil
	}
	usage := l.memory.Add(bytes)
	if usage > l.limits.MemoryLimitBytes {
		l.memory.Add(^(bytes - 1)) // rollback
		return fmt.Errorf("%w: %d of %d bytes", ErrMemoryLimit, usage, l.limits.MemoryLimitBytes)
	}
	return nil
}

// FreeMemory releases a prior allocation.
func (l *Limiter) FreeMemory(bytes uint64) {
	if l == nil || l.limits.MemoryLimitBytes == 0 {
		return
	}
	l.memory.Add(^(bytes - 1))
}

// MemoryUsage returns the currently charged bytes.
func (l *Limiter) MemoryUsage() uint64 {
	if l == nil {
		return 0
	}
	return l.memory.Load()
}

// WallTimeLimit returns the configured wall-time cap, zero if unlimited.
func (l *Limiter) WallTimeLimit() time.Duration {
	if l == nil {
		return 0
	}
	return l.limits.WallTimeLimit
}

// preStateSize estimates the memory footprint of a pre-state as the sum of
// its rows' canonical byte forms. An estimate is enough: the limit protects
// against runaway materialization, not byte-exact accounting.
func preStateSize(pre PreState) uint64 {
	var total uint64
	for _, ts := range pre {
		for _, row := range ts.Rows {
			total += uint64(len(row.Bytes()))
		}
	}
	return total
}
