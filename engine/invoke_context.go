package engine

import (
	"errors"
	"fmt"
	stdmath "math"

	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/pulseprof/config"
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/MetalBlockchain/pulseprof/status"
	"github.com/tetratelabs/wazero/api"
)

var ErrMissingFuel = errors.New("metered module does not export its fuel")

// CostModel holds the compute cost of metered syscalls.
type CostModel struct {
	SyscallBaseCost uint64
	Log64Units      uint64
}

// InvokeContext is the per-session state syscalls operate on. It is owned
// by a single execution and is not safe for concurrent use.
type InvokeContext struct {
	costs    CostModel
	meter    *ComputeMeter
	heap     *HeapTracker
	logs     *LogCollector
	profiler *profiling.State
	log      logging.Logger

	// Heap readings passed to profiling syscalls are dropped when unset.
	heapProfiling bool

	// Set once the guest has been instrumented for instruction metering.
	fuel *fuelGauge

	unmatchedEnds int
	// First error raised by a syscall, which aborted the guest.
	fault error
}

// fuelGauge mirrors the meter into the guest's fuel global.
type fuelGauge struct {
	global api.MutableGlobal
	// Value the host last wrote to the global.
	level int64
}

// NewInvokeContext creates the state for one session. [profiler] may be nil,
// in which case profiling syscalls are accepted and ignored.
func NewInvokeContext(cfg *config.Config, profiler *profiling.State, log logging.Logger) *InvokeContext {
	return &InvokeContext{
		costs: CostModel{
			SyscallBaseCost: cfg.SyscallBaseCost,
			Log64Units:      cfg.Log64Units,
		},
		meter:         NewComputeMeter(cfg.ComputeBudget),
		heap:          NewHeapTracker(cfg.HeapSize),
		logs:          NewLogCollector(cfg.LogBytesLimit),
		profiler:      profiler,
		log:           log,
		heapProfiling: cfg.HeapProfiling,
	}
}

func (ic *InvokeContext) Meter() *ComputeMeter {
	return ic.meter
}

func (ic *InvokeContext) Heap() *HeapTracker {
	return ic.heap
}

func (ic *InvokeContext) Logs() *LogCollector {
	return ic.logs
}

func (ic *InvokeContext) Profiler() *profiling.State {
	return ic.profiler
}

func (ic *InvokeContext) UnmatchedEnds() int {
	return ic.unmatchedEnds
}

func (ic *InvokeContext) Fault() error {
	return ic.fault
}

func (ic *InvokeContext) setFault(err error) {
	if ic.fault == nil {
		ic.fault = err
	}
}

// EnableMetering switches the session to instruction metering and returns
// the fuel the instrumented guest starts with.
func (ic *InvokeContext) EnableMetering() int64 {
	ic.fuel = &fuelGauge{level: fuelLevel(ic.meter.Remaining())}
	return ic.fuel.level
}

// SettleFuel charges the meter for the fuel [guest] burned since the host
// last topped it up. It fails with ErrComputeExceeded once the guest ran
// out of fuel.
func (ic *InvokeContext) SettleFuel(guest api.Module) error {
	if ic.fuel == nil {
		return nil
	}
	if ic.fuel.global == nil {
		global, ok := guest.ExportedGlobal(FuelGlobalName).(api.MutableGlobal)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingFuel, FuelGlobalName)
		}
		ic.fuel.global = global
	}

	current := int64(ic.fuel.global.Get())
	// Exact even when the guest overdrew the global below zero.
	burned := uint64(ic.fuel.level) - uint64(current)
	ic.fuel.level = current
	return ic.meter.Consume(burned)
}

// refuel writes the meter's remaining budget back into the guest.
func (ic *InvokeContext) refuel() {
	if ic.fuel == nil || ic.fuel.global == nil {
		return
	}
	ic.fuel.level = fuelLevel(ic.meter.Remaining())
	ic.fuel.global.Set(uint64(ic.fuel.level))
}

func fuelLevel(remaining uint64) int64 {
	return int64(min(remaining, stdmath.MaxInt64))
}

// Outcome maps the error returned by the guest entrypoint to a status.
func (ic *InvokeContext) Outcome(callErr error) status.Status {
	switch {
	case callErr == nil && ic.fault == nil:
		return status.Succeeded
	case errors.Is(ic.fault, ErrComputeExceeded), errors.Is(callErr, ErrComputeExceeded):
		return status.ComputeExceeded
	default:
		return status.Failed
	}
}
