package engine

import (
	"encoding/binary"
	"testing"

	"github.com/MetalBlockchain/metalgo/ids"
	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
)

func TestLog(t *testing.T) {
	require := require.New(t)

	mem := fakeMemory("hello world")
	ic := newTestInvokeContext(nil)

	require.NoError(ic.Log(mem, 0, 5))
	require.Equal([]string{"Program log: hello"}, ic.Logs().Messages())
	// Short messages pay the base cost.
	require.Equal(uint64(900), ic.Meter().Remaining())

	require.ErrorIs(ic.Log(mem, 6, 10), ErrInvalidMemoryAccess)
	require.ErrorIs(ic.Log(fakeMemory{0xff, 0xfe}, 0, 2), ErrInvalidUTF8)
}

func TestLogChargesLength(t *testing.T) {
	require := require.New(t)

	mem := make(fakeMemory, 300)
	for i := range mem {
		mem[i] = 'a'
	}
	ic := newTestInvokeContext(nil)

	require.NoError(ic.Log(mem, 0, 300))
	require.Equal(uint64(700), ic.Meter().Remaining())
}

func TestLogU64(t *testing.T) {
	require := require.New(t)

	ic := newTestInvokeContext(nil)
	require.NoError(ic.LogU64(1, 2, 0xff, 0, 42))
	require.Equal([]string{"Program log: 0x1, 0x2, 0xff, 0x0, 0x2a"}, ic.Logs().Messages())
	require.Equal(uint64(900), ic.Meter().Remaining())
}

func TestLogPubkey(t *testing.T) {
	require := require.New(t)

	key := ids.GenerateTestID()
	mem := append(fakeMemory{0xaa}, key[:]...)
	ic := newTestInvokeContext(nil)

	require.NoError(ic.LogPubkey(mem, 1))
	require.Equal([]string{"Program log: " + key.String()}, ic.Logs().Messages())
	require.Equal(uint64(900), ic.Meter().Remaining())

	// One byte short of a full key.
	require.ErrorIs(ic.LogPubkey(mem, 2), ErrInvalidMemoryAccess)
}

func TestLogComputeUnits(t *testing.T) {
	require := require.New(t)

	ic := newTestInvokeContext(nil)
	require.NoError(ic.LogComputeUnits())
	require.NoError(ic.LogComputeUnits())
	require.Equal([]string{
		"Program consumption: 900 units remaining",
		"Program consumption: 800 units remaining",
	}, ic.Logs().Messages())
}

func TestLogData(t *testing.T) {
	require := require.New(t)

	// Two field refs at offset 0 pointing at "ab" and "xyz".
	mem := make(fakeMemory, 16, 21)
	binary.LittleEndian.PutUint32(mem[0:], 16)
	binary.LittleEndian.PutUint32(mem[4:], 2)
	binary.LittleEndian.PutUint32(mem[8:], 18)
	binary.LittleEndian.PutUint32(mem[12:], 3)
	mem = append(mem, "abxyz"...)

	ic := newTestInvokeContext(nil)
	require.NoError(ic.LogData(mem, 0, 2))
	require.Equal([]string{"Program data: YWI= eHl6"}, ic.Logs().Messages())
	// Base, one base per field, then the field bytes.
	require.Equal(uint64(1000-100-200-5), ic.Meter().Remaining())

	require.ErrorIs(ic.LogData(mem, 0, 3), ErrInvalidMemoryAccess)
}

func TestAlloc(t *testing.T) {
	require := require.New(t)

	ic := newTestInvokeContext(nil)
	used, err := ic.Alloc(1_000)
	require.NoError(err)
	require.Equal(uint64(1_000), used)

	used, err = ic.Alloc(500)
	require.NoError(err)
	require.Equal(uint64(1_500), used)

	_, err = ic.Alloc(profiling.HeapCapacity)
	require.ErrorIs(err, ErrHeapExhausted)
	require.Equal(uint64(1_500), ic.Heap().Used())
}

func TestSyscallComputeExceeded(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	cfg.ComputeBudget = 50
	ic := NewInvokeContext(cfg, nil, logging.NoLog{})

	require.ErrorIs(ic.LogComputeUnits(), ErrComputeExceeded)
	require.Zero(ic.Meter().Remaining())
	require.Empty(ic.Logs().Messages())
}

func TestProfilingSyscalls(t *testing.T) {
	require := require.New(t)

	mem := fakeMemory("outerinner")
	profiler := profiling.New()
	ic := newTestInvokeContext(profiler)

	require.NoError(ic.LogComputeUnitsStart(mem, 0, 5, 100, true))
	require.NoError(ic.LogComputeUnitsStart(mem, 5, 5, 200, true))
	require.NoError(ic.LogComputeUnits())
	require.NoError(ic.LogComputeUnitsEnd(mem, 5, 5, 260, true))
	require.NoError(ic.LogComputeUnitsEnd(mem, 0, 5, 300, true))

	// Profiling calls are free; only log_compute_units was charged.
	require.Equal(uint64(900), ic.Meter().Remaining())

	profiler.PostProcess()
	completed := profiler.Completed()
	require.Len(completed, 2)

	inner, outer := completed[0], completed[1]
	require.Equal("inner", inner.ID)
	require.Equal(uint64(100), inner.TotalCU)
	require.Equal(uint64(60), inner.Heap.TotalHeap)
	require.Equal("outer", outer.ID)
	require.Equal(uint64(100), outer.TotalCU)
	require.Zero(outer.NetCU)
	require.Equal(uint64(140), outer.Heap.NetHeap)
}

func TestProfilingUnmatchedEnd(t *testing.T) {
	require := require.New(t)

	mem := fakeMemory("ghost")
	profiler := profiling.New()
	ic := newTestInvokeContext(profiler)

	require.NoError(ic.LogComputeUnitsEnd(mem, 0, 5, 0, false))
	require.NoError(ic.LogComputeUnitsEnd(mem, 0, 5, 0, false))

	require.Equal(2, ic.UnmatchedEnds())
	require.Equal([]string{
		"Profiling error: no active profiling section found for ID: ghost",
		"Profiling error: no active profiling section found for ID: ghost",
	}, ic.Logs().Messages())
	require.Zero(profiler.CompletedCount())
	require.Zero(profiler.NextSequence())
}

func TestProfilingHeapDisabled(t *testing.T) {
	require := require.New(t)

	cfg := testConfig()
	cfg.HeapProfiling = false
	mem := fakeMemory("section")
	profiler := profiling.New()
	ic := NewInvokeContext(cfg, profiler, logging.NoLog{})

	require.NoError(ic.LogComputeUnitsStart(mem, 0, 7, 10, true))
	require.NoError(ic.LogComputeUnitsEnd(mem, 0, 7, 20, true))
	require.Len(profiler.Completed(), 1)
	require.Nil(profiler.Completed()[0].Heap)
}

func TestSyscallSignature(t *testing.T) {
	require := require.New(t)

	params, results, ok := SyscallSignature("alloc")
	require.True(ok)
	require.Equal([]api.ValueType{api.ValueTypeI32}, params)
	require.Equal([]api.ValueType{api.ValueTypeI64}, results)

	// Callers get a copy of the table entry.
	params[0] = api.ValueTypeF64
	params, _, _ = SyscallSignature("alloc")
	require.Equal([]api.ValueType{api.ValueTypeI32}, params)

	_, _, ok = SyscallSignature("abort")
	require.False(ok)
}
