package engine

import (
	"github.com/MetalBlockchain/pulseprof/engine/enginetest"
)

// guestProgram returns a program importing the named syscalls from the host
// module.
func guestProgram(syscalls ...string) *enginetest.Program {
	p := &enginetest.Program{HostModule: HostModuleName}
	for _, name := range syscalls {
		fn := hostFunctionsByName[name]
		p.Imports = append(p.Imports, enginetest.Syscall{
			Name:    name,
			Params:  fn.params,
			Results: fn.results,
		})
	}
	return p
}
