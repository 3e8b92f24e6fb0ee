package engine

import (
	"slices"

	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module guests use to reach syscalls.
const HostModuleName = "env"

type hostHandler func(ic *InvokeContext, mem GuestMemory, stack []uint64) error

type hostFunction struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	handler hostHandler
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64

	hostFunctions = []hostFunction{
		{
			name:   "log",
			params: []api.ValueType{i32, i32},
			handler: func(ic *InvokeContext, mem GuestMemory, stack []uint64) error {
				return ic.Log(mem, u32(stack[0]), u32(stack[1]))
			},
		},
		{
			name:   "log_64",
			params: []api.ValueType{i64, i64, i64, i64, i64},
			handler: func(ic *InvokeContext, _ GuestMemory, stack []uint64) error {
				return ic.LogU64(stack[0], stack[1], stack[2], stack[3], stack[4])
			},
		},
		{
			name:   "log_pubkey",
			params: []api.ValueType{i32},
			handler: func(ic *InvokeContext, mem GuestMemory, stack []uint64) error {
				return ic.LogPubkey(mem, u32(stack[0]))
			},
		},
		{
			name: "log_compute_units",
			handler: func(ic *InvokeContext, _ GuestMemory, _ []uint64) error {
				return ic.LogComputeUnits()
			},
		},
		{
			name:   "log_data",
			params: []api.ValueType{i32, i32},
			handler: func(ic *InvokeContext, mem GuestMemory, stack []uint64) error {
				return ic.LogData(mem, u32(stack[0]), u32(stack[1]))
			},
		},
		{
			name:    "alloc",
			params:  []api.ValueType{i32},
			results: []api.ValueType{i64},
			handler: func(ic *InvokeContext, _ GuestMemory, stack []uint64) error {
				used, err := ic.Alloc(u32(stack[0]))
				stack[0] = used
				return err
			},
		},
		{
			name:   "log_compute_units_start",
			params: []api.ValueType{i32, i32, i64, i32},
			handler: func(ic *InvokeContext, mem GuestMemory, stack []uint64) error {
				return ic.LogComputeUnitsStart(mem, u32(stack[0]), u32(stack[1]), stack[2], u32(stack[3]) != 0)
			},
		},
		{
			name:   "log_compute_units_end",
			params: []api.ValueType{i32, i32, i64, i32},
			handler: func(ic *InvokeContext, mem GuestMemory, stack []uint64) error {
				return ic.LogComputeUnitsEnd(mem, u32(stack[0]), u32(stack[1]), stack[2], u32(stack[3]) != 0)
			},
		},
	}

	hostFunctionsByName = make(map[string]*hostFunction, len(hostFunctions))
)

func init() {
	for i := range hostFunctions {
		hostFunctionsByName[hostFunctions[i].name] = &hostFunctions[i]
	}
}

// u32 widens an i32 argument. The upper half of the stack slot is ignored.
func u32(v uint64) uint64 {
	return uint64(api.DecodeU32(v))
}

// SyscallSignature returns the parameter and result types of the named
// syscall.
func SyscallSignature(name string) (params, results []api.ValueType, ok bool) {
	fn, ok := hostFunctionsByName[name]
	if !ok {
		return nil, nil, false
	}
	return slices.Clone(fn.params), slices.Clone(fn.results), true
}
