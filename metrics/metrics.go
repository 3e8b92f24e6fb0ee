package metrics

import (
	"github.com/MetalBlockchain/metalgo/utils/metric"
	"github.com/MetalBlockchain/metalgo/utils/wrappers"
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/MetalBlockchain/pulseprof/status"
	"github.com/prometheus/client_golang/prometheus"
)

var _ Metrics = (*metrics)(nil)

// Execution summarizes one finished execution session.
type Execution struct {
	Status status.Status
	// Sections completed during the session, already post-processed.
	Sections []profiling.CompletedEntry
	// Number of end events that matched no open section.
	UnmatchedEnds int
	// Number of sections still open when the session finished.
	OpenSections int
}

//go:generate mockgen -package=metricsmock -destination=metricsmock/metrics.go github.com/MetalBlockchain/pulseprof/metrics Metrics

type Metrics interface {
	metric.APIInterceptor

	// Mark that the given execution finished.
	MarkExecuted(Execution)
}

func New(registerer prometheus.Registerer) (Metrics, error) {
	executionMetrics, err := newExecutionMetrics(registerer)
	m := &metrics{
		executionMetrics: executionMetrics,
	}

	errs := wrappers.Errs{Err: err}
	apiRequestMetrics, err := metric.NewAPIInterceptor(registerer)
	errs.Add(err)
	m.APIInterceptor = apiRequestMetrics

	return m, errs.Err
}

type metrics struct {
	metric.APIInterceptor

	executionMetrics *executionMetrics
}

func (m *metrics) MarkExecuted(e Execution) {
	m.executionMetrics.observe(e)
}
