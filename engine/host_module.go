package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// InstantiateHostModule registers the syscalls of [ic] with [runtime] under
// HostModuleName. A syscall error is recorded on [ic] and traps the guest.
// Metered guests pay for the instructions they ran before each syscall.
func InstantiateHostModule(ctx context.Context, runtime wazero.Runtime, ic *InvokeContext) (api.Module, error) {
	builder := runtime.NewHostModuleBuilder(HostModuleName)
	for i := range hostFunctions {
		fn := &hostFunctions[i]
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
				var mem GuestMemory
				if m := mod.Memory(); m != nil {
					mem = m
				}
				if err := ic.SettleFuel(mod); err != nil {
					ic.setFault(err)
					panic(err)
				}
				if err := fn.handler(ic, mem, stack); err != nil {
					err = fmt.Errorf("syscall %s: %w", fn.name, err)
					ic.setFault(err)
					panic(err)
				}
				ic.refuel()
			}), fn.params, fn.results).
			WithName(fn.name).
			Export(fn.name)
	}

	module, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return module, nil
}
