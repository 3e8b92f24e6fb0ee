package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
)

// GuestMemoryName is the memory export guests must provide.
const GuestMemoryName = "memory"

var (
	ErrMissingEntrypoint      = errors.New("missing entrypoint function")
	ErrInvalidEntrypoint      = errors.New("entrypoint should take no parameters and return no value")
	ErrMissingMemory          = errors.New("missing exported memory")
	ErrUnknownImport          = errors.New("unknown import")
	ErrInvalidImportSignature = errors.New("import has an unexpected signature")
)

// ValidateWasm checks that [wasmSource] compiles and only talks to the host
// through known syscalls.
func ValidateWasm(ctx context.Context, wasmSource []byte, entrypoint string) error {
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	module, err := runtime.CompileModule(ctx, wasmSource)
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}
	return validateModule(module, entrypoint)
}

func validateModule(module wazero.CompiledModule, entrypoint string) error {
	fn, ok := module.ExportedFunctions()[entrypoint]
	if !ok {
		return fmt.Errorf("wasm validation error: %w: %s", ErrMissingEntrypoint, entrypoint)
	}
	if len(fn.ParamTypes()) != 0 || len(fn.ResultTypes()) != 0 {
		return fmt.Errorf("wasm validation error: %w", ErrInvalidEntrypoint)
	}
	if _, ok := module.ExportedMemories()[GuestMemoryName]; !ok {
		return fmt.Errorf("wasm validation error: %w", ErrMissingMemory)
	}

	for _, imported := range module.ImportedFunctions() {
		moduleName, name, _ := imported.Import()
		expected, ok := hostFunctionsByName[name]
		if moduleName != HostModuleName || !ok {
			return fmt.Errorf("wasm validation error: %w: %s.%s", ErrUnknownImport, moduleName, name)
		}
		if !slices.Equal(imported.ParamTypes(), expected.params) || !slices.Equal(imported.ResultTypes(), expected.results) {
			return fmt.Errorf("wasm validation error: %w: %s.%s", ErrInvalidImportSignature, moduleName, name)
		}
	}
	return nil
}
