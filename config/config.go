package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MetalBlockchain/metalgo/utils/units"
	"github.com/MetalBlockchain/pulseprof/profiling"
)

var (
	ErrZeroComputeBudget  = errors.New("compute budget must be positive")
	ErrHeapSizeMismatch   = errors.New("heap size must match the profiler heap capacity")
	ErrMissingEntrypoint  = errors.New("entrypoint must be set")
	ErrZeroMaxProgramSize = errors.New("max program size must be positive")
)

var Default = Config{
	ComputeBudget:    200_000,
	HeapSize:         profiling.HeapCapacity,
	LogBytesLimit:    10_000,
	ProfilingEnabled: true,
	HeapProfiling:    true,
	SyscallBaseCost:  100,
	Log64Units:       100,
	InstructionCost:  1,
	MaxProgramSize:   4 * units.MiB,
	Entrypoint:       "entrypoint",
}

type Config struct {
	// Compute units granted to every execution session.
	ComputeBudget uint64 `json:"compute-budget"`
	// Heap bytes available to guests. Must equal profiling.HeapCapacity
	// while heap profiling is on, or remaining heap figures are meaningless.
	HeapSize uint64 `json:"heap-size"`
	// Bytes of program log kept per session before truncation.
	LogBytesLimit int `json:"log-bytes-limit"`

	ProfilingEnabled bool `json:"profiling-enabled"`
	HeapProfiling    bool `json:"heap-profiling"`

	SyscallBaseCost uint64 `json:"syscall-base-cost"`
	Log64Units      uint64 `json:"log-64-units"`
	// Compute units charged per guest instruction. Zero turns instruction
	// metering off, leaving only syscalls charged.
	InstructionCost uint64 `json:"instruction-cost"`

	MaxProgramSize int    `json:"max-program-size"`
	Entrypoint     string `json:"entrypoint"`
}

func GetConfig(b []byte) (*Config, error) {
	ec := Default

	// An empty slice is invalid json, so handle that as a special case.
	if len(b) == 0 {
		return &ec, nil
	}

	if err := json.Unmarshal(b, &ec); err != nil {
		return nil, err
	}
	return &ec, ec.Verify()
}

func (c *Config) Verify() error {
	switch {
	case c.ComputeBudget == 0:
		return ErrZeroComputeBudget
	case c.HeapProfiling && c.HeapSize != profiling.HeapCapacity:
		return fmt.Errorf("%w: %d != %d", ErrHeapSizeMismatch, c.HeapSize, profiling.HeapCapacity)
	case c.Entrypoint == "":
		return ErrMissingEntrypoint
	case c.MaxProgramSize <= 0:
		return ErrZeroMaxProgramSize
	default:
		return nil
	}
}
