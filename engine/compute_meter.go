package engine

import (
	"errors"
	"fmt"
	stdmath "math"

	safemath "github.com/MetalBlockchain/metalgo/utils/math"
)

var (
	ErrComputeExceeded = errors.New("compute budget exceeded")
	ErrHeapExhausted   = errors.New("heap exhausted")
)

// ComputeMeter is the authoritative remaining compute budget of a session.
type ComputeMeter struct {
	budget    uint64
	remaining uint64
}

func NewComputeMeter(budget uint64) *ComputeMeter {
	return &ComputeMeter{
		budget:    budget,
		remaining: budget,
	}
}

// Consume charges [units] against the budget. If the budget can't cover
// the charge it is drained and ErrComputeExceeded is returned.
func (m *ComputeMeter) Consume(units uint64) error {
	remaining, err := safemath.Sub(m.remaining, units)
	if err != nil {
		available := m.remaining
		m.remaining = 0
		return fmt.Errorf("%w: cost %d > remaining %d", ErrComputeExceeded, units, available)
	}
	m.remaining = remaining
	return nil
}

func (m *ComputeMeter) Remaining() uint64 {
	return m.remaining
}

func (m *ComputeMeter) Budget() uint64 {
	return m.budget
}

func (m *ComputeMeter) Consumed() uint64 {
	return m.budget - m.remaining
}

// HeapTracker follows the bump allocations a guest makes out of its heap.
type HeapTracker struct {
	capacity uint64
	used     uint64
}

func NewHeapTracker(capacity uint64) *HeapTracker {
	return &HeapTracker{capacity: capacity}
}

func (h *HeapTracker) Alloc(size uint64) error {
	used, err := safemath.Add(h.used, size)
	if err != nil || used > h.capacity {
		return fmt.Errorf("%w: requested %d with %d of %d in use", ErrHeapExhausted, size, h.used, h.capacity)
	}
	h.used = used
	return nil
}

func (h *HeapTracker) Used() uint64 {
	return h.used
}

func (h *HeapTracker) Capacity() uint64 {
	return h.capacity
}

func saturatingAdd(a, b uint64) uint64 {
	sum, err := safemath.Add(a, b)
	if err != nil {
		return stdmath.MaxUint64
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	product, err := safemath.Mul(a, b)
	if err != nil {
		return stdmath.MaxUint64
	}
	return product
}
