package api

import (
	"github.com/MetalBlockchain/metalgo/utils/formatting"
)

// FormattedProgram is a compiled guest program encoded for transport.
type FormattedProgram struct {
	Program  string              `json:"program"`
	Encoding formatting.Encoding `json:"encoding"`
}

type ProfileArgs struct {
	FormattedProgram

	// Overrides the server's compute budget when set.
	ComputeBudget uint64 `json:"computeBudget,omitempty"`
}
