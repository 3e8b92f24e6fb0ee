package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const statusLabel = "status"

var statusLabels = []string{statusLabel}

type executionMetrics struct {
	sectionMetrics *sectionMetrics

	numExecutions *prometheus.CounterVec
	unmatchedEnds prometheus.Counter
	openSections  prometheus.Counter
}

func newExecutionMetrics(registerer prometheus.Registerer) (*executionMetrics, error) {
	sectionMetrics, err := newSectionMetrics(registerer)
	if err != nil {
		return nil, err
	}

	m := &executionMetrics{
		sectionMetrics: sectionMetrics,
		numExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "executions",
				Help: "number of program executions by outcome",
			},
			statusLabels,
		),
		unmatchedEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sections_unmatched_end",
			Help: "number of section ends without a matching start",
		}),
		openSections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sections_left_open",
			Help: "number of sections still open when their execution finished",
		}),
	}

	for _, c := range []prometheus.Collector{m.numExecutions, m.unmatchedEnds, m.openSections} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *executionMetrics) observe(e Execution) {
	m.numExecutions.With(prometheus.Labels{
		statusLabel: e.Status.String(),
	}).Inc()
	m.unmatchedEnds.Add(float64(e.UnmatchedEnds))
	m.openSections.Add(float64(e.OpenSections))
	for i := range e.Sections {
		m.sectionMetrics.observe(&e.Sections[i])
	}
}
