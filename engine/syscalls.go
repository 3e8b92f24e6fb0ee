package engine

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/MetalBlockchain/metalgo/ids"
	"go.uber.org/zap"
)

// Log appends the UTF-8 string at [addr] to the program log. It costs the
// larger of the base syscall cost and the string length.
func (ic *InvokeContext) Log(mem GuestMemory, addr, length uint64) error {
	if err := ic.meter.Consume(max(ic.costs.SyscallBaseCost, length)); err != nil {
		return err
	}

	message, err := translateString(mem, addr, length)
	if err != nil {
		return err
	}
	ic.logs.Log("Program log: " + message)
	return nil
}

func (ic *InvokeContext) LogU64(arg1, arg2, arg3, arg4, arg5 uint64) error {
	if err := ic.meter.Consume(ic.costs.Log64Units); err != nil {
		return err
	}

	ic.logs.Log(fmt.Sprintf("Program log: %#x, %#x, %#x, %#x, %#x", arg1, arg2, arg3, arg4, arg5))
	return nil
}

// LogPubkey logs the 32 byte key at [addr] in its cb58 form.
func (ic *InvokeContext) LogPubkey(mem GuestMemory, addr uint64) error {
	if err := ic.meter.Consume(ic.costs.SyscallBaseCost); err != nil {
		return err
	}

	b, err := translateSlice(mem, addr, ids.IDLen)
	if err != nil {
		return err
	}
	key, err := ids.ToID(b)
	if err != nil {
		return err
	}
	ic.logs.Log("Program log: " + key.String())
	return nil
}

// LogComputeUnits logs the budget left after paying for the call itself.
func (ic *InvokeContext) LogComputeUnits() error {
	if err := ic.meter.Consume(ic.costs.SyscallBaseCost); err != nil {
		return err
	}

	ic.logs.Log(fmt.Sprintf("Program consumption: %d units remaining", ic.meter.Remaining()))
	return nil
}

// LogData logs [count] byte fields described by the (pointer, length) pairs
// at [addr], base64 encoded.
func (ic *InvokeContext) LogData(mem GuestMemory, addr, count uint64) error {
	base := ic.costs.SyscallBaseCost
	if err := ic.meter.Consume(base); err != nil {
		return err
	}

	refs, err := translateFieldRefs(mem, addr, count)
	if err != nil {
		return err
	}
	if err := ic.meter.Consume(saturatingMul(base, uint64(len(refs)))); err != nil {
		return err
	}
	var totalLen uint64
	for _, ref := range refs {
		totalLen = saturatingAdd(totalLen, uint64(ref.length))
	}
	if err := ic.meter.Consume(totalLen); err != nil {
		return err
	}

	fields := make([]string, len(refs))
	for i, ref := range refs {
		b, err := translateSlice(mem, uint64(ref.addr), uint64(ref.length))
		if err != nil {
			return err
		}
		fields[i] = base64.StdEncoding.EncodeToString(b)
	}
	ic.logs.Log("Program data: " + strings.Join(fields, " "))
	return nil
}

// Alloc reserves [size] bytes of guest heap and returns the heap usage after
// the allocation.
func (ic *InvokeContext) Alloc(size uint64) (uint64, error) {
	if err := ic.meter.Consume(ic.costs.SyscallBaseCost); err != nil {
		return 0, err
	}
	if err := ic.heap.Alloc(size); err != nil {
		return 0, err
	}
	return ic.heap.Used(), nil
}

// LogComputeUnitsStart opens a profiling section named by the string at
// [addr]. It is free so that profiling does not change what it measures.
func (ic *InvokeContext) LogComputeUnitsStart(mem GuestMemory, addr, length, heapValue uint64, withHeap bool) error {
	currentCU := ic.meter.Remaining()

	id, err := translateString(mem, addr, length)
	if err != nil {
		return err
	}
	if ic.profiler != nil {
		ic.profiler.Start(id, currentCU, heapValue, withHeap && ic.heapProfiling)
	}
	return nil
}

// LogComputeUnitsEnd closes the most recent profiling section with the
// given name. An unmatched end is reported in the program log and execution
// continues.
func (ic *InvokeContext) LogComputeUnitsEnd(mem GuestMemory, addr, length, heapValue uint64, withHeap bool) error {
	currentCU := ic.meter.Remaining()

	id, err := translateString(mem, addr, length)
	if err != nil {
		return err
	}
	if ic.profiler == nil {
		return nil
	}
	if err := ic.profiler.End(id, currentCU, heapValue, withHeap && ic.heapProfiling); err != nil {
		ic.unmatchedEnds++
		ic.logs.Log("Profiling error: " + err.Error())
		ic.log.Debug("unmatched profiling section end",
			zap.String("id", id),
			zap.Uint64("remainingCU", currentCU),
			zap.Error(err),
		)
	}
	return nil
}
