package vm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MetalBlockchain/metalgo/utils"
	"github.com/MetalBlockchain/metalgo/utils/json"
	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/metalgo/utils/timer/mockable"
	"github.com/MetalBlockchain/pulseprof/config"
	"github.com/MetalBlockchain/pulseprof/constants"
	"github.com/MetalBlockchain/pulseprof/engine"
	ourmetrics "github.com/MetalBlockchain/pulseprof/metrics"
	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized     = errors.New("vm not initialized")
	ErrShuttingDown       = errors.New("vm is shutting down")
	ErrBudgetAboveLimit   = errors.New("requested compute budget exceeds the configured budget")
	errAlreadyInitialized = errors.New("vm already initialized")
)

// VM hosts the profiling engine behind a JSON-RPC API.
type VM struct {
	config   *config.Config
	log      logging.Logger
	metrics  ourmetrics.Metrics
	executor *engine.Executor

	// Used to get time. Useful for faking time during tests.
	clock     mockable.Clock
	startTime time.Time

	initialized  bool
	shuttingDown utils.Atomic[bool]
}

func (vm *VM) Initialize(
	_ context.Context,
	log logging.Logger,
	registerer prometheus.Registerer,
	configBytes []byte,
) error {
	if vm.initialized {
		return errAlreadyInitialized
	}
	log.Verbo("initializing pulseprof")

	execConfig, err := config.GetConfig(configBytes)
	if err != nil {
		return err
	}
	log.Info("using execution config", zap.Reflect("config", execConfig))

	// Initialize metrics as soon as possible
	vm.metrics, err = ourmetrics.New(registerer)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	vm.config = execConfig
	vm.log = log
	vm.executor = engine.NewExecutor(execConfig, log, vm.metrics)
	vm.startTime = vm.clock.Time()
	vm.initialized = true
	return nil
}

// Profile runs [code] in a fresh session. A non-zero [budget] lowers the
// compute budget for this run only.
func (vm *VM) Profile(ctx context.Context, code []byte, budget uint64) (*engine.Report, error) {
	if !vm.initialized {
		return nil, ErrNotInitialized
	}
	if vm.shuttingDown.Get() {
		return nil, ErrShuttingDown
	}

	executor := vm.executor
	if budget != 0 {
		if budget > vm.config.ComputeBudget {
			return nil, fmt.Errorf("%w: %d > %d", ErrBudgetAboveLimit, budget, vm.config.ComputeBudget)
		}
		cfg := *vm.config
		cfg.ComputeBudget = budget
		executor = engine.NewExecutor(&cfg, vm.log, vm.metrics)
	}
	return executor.Execute(ctx, code)
}

func (vm *VM) Shutdown(context.Context) error {
	if !vm.initialized {
		return nil
	}
	vm.shuttingDown.Set(true)
	vm.log.Info("shutting down pulseprof",
		zap.Duration("uptime", vm.clock.Time().Sub(vm.startTime)),
	)
	return nil
}

func (vm *VM) Version(context.Context) (string, error) {
	return constants.Version.String(), nil
}

func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	if !vm.initialized {
		return nil, ErrNotInitialized
	}

	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	server.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(vm.metrics.InterceptRequest)
	server.RegisterAfterFunc(vm.metrics.AfterRequest)
	service := &Service{
		vm: vm,
	}

	err := server.RegisterService(service, constants.ServiceName)
	return map[string]http.Handler{
		Endpoint: server,
	}, err
}

// Health is the HealthCheck payload.
type Health struct {
	Uptime        string `json:"uptime"`
	ComputeBudget uint64 `json:"computeBudget"`
	Profiling     bool   `json:"profiling"`
}

func (vm *VM) HealthCheck(context.Context) (interface{}, error) {
	if !vm.initialized {
		return nil, ErrNotInitialized
	}
	if vm.shuttingDown.Get() {
		return nil, ErrShuttingDown
	}
	return Health{
		Uptime:        vm.clock.Time().Sub(vm.startTime).String(),
		ComputeBudget: vm.config.ComputeBudget,
		Profiling:     vm.config.ProfilingEnabled,
	}, nil
}
