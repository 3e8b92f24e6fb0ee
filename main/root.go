package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/pulseprof/config"
	"github.com/MetalBlockchain/pulseprof/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configFileKey       = "config-file"
	logLevelKey         = "log-level"
	logFormatKey        = "log-format"
	computeBudgetKey    = "compute-budget"
	logBytesLimitKey    = "log-bytes-limit"
	profilingEnabledKey = "profiling-enabled"
	heapProfilingKey    = "heap-profiling"
	entrypointKey       = "entrypoint"
	maxProgramSizeKey   = "max-program-size"
	instructionCostKey  = "instruction-cost"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           constants.Name,
		Short:         "Profile compute and heap usage of WebAssembly programs",
		Long:          "pulseprof runs WebAssembly programs under a compute budget and reports the usage of the profiling sections they mark.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}

	addGlobalFlags(root.PersistentFlags())
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newServeCommand(v),
		newRunCommand(v),
		newVersionCommand(),
	)
	return root
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String(configFileKey, "", "Path to a JSON execution config")
	fs.String(logLevelKey, "info", "Log level")
	fs.String(logFormatKey, "auto", "Log format: auto, plain, colors or json")

	fs.Uint64(computeBudgetKey, config.Default.ComputeBudget, "Compute units granted to each execution")
	fs.Int(logBytesLimitKey, config.Default.LogBytesLimit, "Bytes of program log kept per execution")
	fs.Bool(profilingEnabledKey, config.Default.ProfilingEnabled, "Record profiling sections")
	fs.Bool(heapProfilingKey, config.Default.HeapProfiling, "Record heap usage of profiling sections")
	fs.String(entrypointKey, config.Default.Entrypoint, "Exported function to call")
	fs.Int(maxProgramSizeKey, config.Default.MaxProgramSize, "Largest accepted program in bytes")
	fs.Uint64(instructionCostKey, config.Default.InstructionCost, "Compute units charged per guest instruction, 0 to charge syscalls only")
}

// configBytes merges the config file with flags and environment variables
// that were explicitly set. Explicit values win.
func configBytes(v *viper.Viper) ([]byte, error) {
	var fileBytes []byte
	if path := v.GetString(configFileKey); path != "" {
		var err error
		fileBytes, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("couldn't read config file: %w", err)
		}
	}

	cfg, err := config.GetConfig(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	if v.IsSet(computeBudgetKey) {
		cfg.ComputeBudget = v.GetUint64(computeBudgetKey)
	}
	if v.IsSet(logBytesLimitKey) {
		cfg.LogBytesLimit = v.GetInt(logBytesLimitKey)
	}
	if v.IsSet(profilingEnabledKey) {
		cfg.ProfilingEnabled = v.GetBool(profilingEnabledKey)
	}
	if v.IsSet(heapProfilingKey) {
		cfg.HeapProfiling = v.GetBool(heapProfilingKey)
	}
	if v.IsSet(entrypointKey) {
		cfg.Entrypoint = v.GetString(entrypointKey)
	}
	if v.IsSet(maxProgramSizeKey) {
		cfg.MaxProgramSize = v.GetInt(maxProgramSizeKey)
	}
	if v.IsSet(instructionCostKey) {
		cfg.InstructionCost = v.GetUint64(instructionCostKey)
	}
	return json.Marshal(cfg)
}

func newLogger(v *viper.Viper) (logging.Logger, error) {
	level, err := logging.ToLevel(v.GetString(logLevelKey))
	if err != nil {
		return nil, err
	}
	format, err := logging.ToFormat(v.GetString(logFormatKey), os.Stderr.Fd())
	if err != nil {
		return nil, err
	}
	core := logging.NewWrappedCore(
		zap.NewAtomicLevelAt(zapcore.Level(level)),
		stderr{os.Stderr},
		format.ConsoleEncoder(),
	)
	return logging.NewLogger(constants.Name, core), nil
}

// stderr survives Logger.Stop, which closes the writers it was given.
type stderr struct {
	io.Writer
}

func (stderr) Close() error {
	return nil
}
