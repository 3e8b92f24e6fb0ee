package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeMeter(t *testing.T) {
	require := require.New(t)

	m := NewComputeMeter(1_000)
	require.NoError(m.Consume(400))
	require.NoError(m.Consume(0))
	require.Equal(uint64(600), m.Remaining())
	require.Equal(uint64(400), m.Consumed())

	err := m.Consume(601)
	require.ErrorIs(err, ErrComputeExceeded)
	require.Contains(err.Error(), "cost 601 > remaining 600")
	require.Zero(m.Remaining())
	require.Equal(m.Budget(), m.Consumed())

	require.ErrorIs(m.Consume(1), ErrComputeExceeded)
}

func TestComputeMeterExactBudget(t *testing.T) {
	m := NewComputeMeter(100)
	require.NoError(t, m.Consume(100))
	require.Zero(t, m.Remaining())
}

func TestHeapTracker(t *testing.T) {
	require := require.New(t)

	h := NewHeapTracker(100)
	require.NoError(h.Alloc(60))
	require.NoError(h.Alloc(40))
	require.Equal(uint64(100), h.Used())

	require.ErrorIs(h.Alloc(1), ErrHeapExhausted)
	require.Equal(uint64(100), h.Used())
	require.Equal(uint64(100), h.Capacity())
}

func TestHeapTrackerOverflow(t *testing.T) {
	h := NewHeapTracker(math.MaxUint64)
	require.NoError(t, h.Alloc(10))
	require.ErrorIs(t, h.Alloc(math.MaxUint64), ErrHeapExhausted)
}

func TestSaturatingArithmetic(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(5), saturatingAdd(2, 3))
	require.Equal(uint64(math.MaxUint64), saturatingAdd(math.MaxUint64, 1))
	require.Equal(uint64(6), saturatingMul(2, 3))
	require.Equal(uint64(math.MaxUint64), saturatingMul(math.MaxUint64, 2))
}
