package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/pulseprof/config"
	"github.com/MetalBlockchain/pulseprof/metrics"
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/MetalBlockchain/pulseprof/status"
	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

const guestModuleName = "guest"

var ErrProgramTooLarge = errors.New("program too large")

// Report is everything observed during one execution session.
type Report struct {
	SessionID       uuid.UUID     `json:"sessionID" yaml:"session_id"`
	Status          status.Status `json:"status" yaml:"status"`
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`
	ComputeBudget   uint64        `json:"computeBudget" yaml:"compute_budget"`
	ComputeConsumed uint64        `json:"computeConsumed" yaml:"compute_consumed"`
	HeapUsed        uint64        `json:"heapUsed" yaml:"heap_used"`
	Logs            []string      `json:"logs" yaml:"logs"`
	UnmatchedEnds   int           `json:"unmatchedEnds" yaml:"unmatched_ends"`

	// Sections in the order they ended, with net usage filled in.
	Sections []profiling.CompletedEntry `json:"sections" yaml:"sections"`
	// Sections the program never closed. They carry no usage figures.
	OpenSections []profiling.ActiveEntry `json:"openSections,omitempty" yaml:"open_sections,omitempty"`
}

// Executor runs guest programs, one isolated session per call.
type Executor struct {
	config  *config.Config
	log     logging.Logger
	metrics metrics.Metrics
}

func NewExecutor(cfg *config.Config, log logging.Logger, m metrics.Metrics) *Executor {
	return &Executor{
		config:  cfg,
		log:     log,
		metrics: m,
	}
}

// Execute runs the configured entrypoint of [code]. Errors are returned only
// when the program can't be run at all; a guest that traps or runs out of
// budget still produces a report.
func (e *Executor) Execute(ctx context.Context, code []byte) (*Report, error) {
	if len(code) > e.config.MaxProgramSize {
		return nil, fmt.Errorf("%w: %d bytes > max %d", ErrProgramTooLarge, len(code), e.config.MaxProgramSize)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}
	if err := validateModule(compiled, e.config.Entrypoint); err != nil {
		return nil, err
	}

	var profiler *profiling.State
	if e.config.ProfilingEnabled {
		profiler = profiling.New()
	}
	ic := NewInvokeContext(e.config, profiler, e.log)

	if e.config.InstructionCost > 0 {
		metered, err := InstrumentMetering(code, e.config.InstructionCost, ic.EnableMetering())
		if err != nil {
			return nil, fmt.Errorf("failed to meter module: %w", err)
		}
		compiled, err = runtime.CompileModule(ctx, metered)
		if err != nil {
			return nil, fmt.Errorf("failed to compile metered module: %w", err)
		}
	}

	if _, err := InstantiateHostModule(ctx, runtime, ic); err != nil {
		return nil, err
	}

	report := &Report{
		SessionID:     uuid.New(),
		ComputeBudget: e.config.ComputeBudget,
	}
	e.log.Debug("executing program",
		zap.Stringer("sessionID", report.SessionID),
		zap.Int("size", len(code)),
	)

	callErr := e.call(ctx, runtime, compiled, ic)
	report.Status = ic.Outcome(callErr)
	if callErr != nil {
		report.Error = callErr.Error()
		// Running out of fuel surfaces from the guest as a plain trap.
		if fault := ic.Fault(); fault != nil && !errors.Is(callErr, fault) {
			report.Error = fault.Error()
		}
	}
	e.finish(ic, report)
	return report, nil
}

func (e *Executor) call(ctx context.Context, runtime wazero.Runtime, compiled wazero.CompiledModule, ic *InvokeContext) error {
	moduleConfig := wazero.NewModuleConfig().
		WithName(guestModuleName).
		WithStartFunctions()
	module, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		return fmt.Errorf("failed to instantiate module: %w", err)
	}
	defer module.Close(ctx)

	_, err = module.ExportedFunction(e.config.Entrypoint).Call(ctx)
	if settleErr := ic.SettleFuel(module); settleErr != nil {
		ic.setFault(settleErr)
	}
	return err
}

// finish closes the profiling session: net usage is computed, the completed
// sections are copied into the report and the profiler is reset.
func (e *Executor) finish(ic *InvokeContext, report *Report) {
	report.ComputeConsumed = ic.Meter().Consumed()
	report.HeapUsed = ic.Heap().Used()
	report.Logs = slices.Clone(ic.Logs().Messages())
	report.UnmatchedEnds = ic.UnmatchedEnds()

	if profiler := ic.Profiler(); profiler != nil {
		profiler.PostProcess()
		report.Sections = slices.Clone(profiler.Completed())
		report.OpenSections = slices.Clone(profiler.Active())
		profiler.Clear()
	}

	e.metrics.MarkExecuted(metrics.Execution{
		Status:        report.Status,
		Sections:      report.Sections,
		UnmatchedEnds: report.UnmatchedEnds,
		OpenSections:  len(report.OpenSections),
	})

	fields := []zap.Field{
		zap.Stringer("sessionID", report.SessionID),
		zap.Stringer("status", report.Status),
		zap.Uint64("computeConsumed", report.ComputeConsumed),
		zap.Int("sections", len(report.Sections)),
	}
	if len(report.OpenSections) > 0 {
		fields = append(fields, zap.Int("openSections", len(report.OpenSections)))
	}
	if report.Error != "" {
		fields = append(fields, zap.String("error", report.Error))
	}
	e.log.Info("program executed", fields...)
}
