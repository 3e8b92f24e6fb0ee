package constants

import "github.com/MetalBlockchain/metalgo/version"

const (
	Name = "pulseprof"

	// ServiceName prefixes every JSON-RPC method, e.g. pulseprof.profile.
	ServiceName = "pulseprof"

	// EnvPrefix namespaces environment variables read by the CLI.
	EnvPrefix = "PULSEPROF"
)

var Version = &version.Semantic{
	Major: 0,
	Minor: 1,
	Patch: 0,
}
