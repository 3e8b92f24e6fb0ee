package metrics

import (
	"github.com/MetalBlockchain/pulseprof/profiling"
	"github.com/prometheus/client_golang/prometheus"
)

const heapLabel = "heap"

var heapLabels = []string{heapLabel}

type sectionMetrics struct {
	numSections *prometheus.CounterVec
	totalCU     prometheus.Histogram
	netCU       prometheus.Histogram
	totalHeap   prometheus.Histogram
}

func newSectionMetrics(registerer prometheus.Registerer) (*sectionMetrics, error) {
	m := &sectionMetrics{
		numSections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sections_completed",
				Help: "number of profiled sections completed",
			},
			heapLabels,
		),
		totalCU: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "section_total_cu",
			Help:    "compute units consumed by a section including nested sections",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		}),
		netCU: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "section_net_cu",
			Help:    "compute units consumed by a section excluding nested sections",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		}),
		totalHeap: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "section_total_heap",
			Help:    "heap bytes consumed by a section including nested sections",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.numSections, m.totalCU, m.netCU, m.totalHeap} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *sectionMetrics) observe(entry *profiling.CompletedEntry) {
	heap := "false"
	if entry.Heap != nil {
		heap = "true"
		m.totalHeap.Observe(float64(entry.Heap.TotalHeap))
	}
	m.numSections.With(prometheus.Labels{
		heapLabel: heap,
	}).Inc()
	m.totalCU.Observe(float64(entry.TotalCU))
	m.netCU.Observe(float64(entry.NetCU))
}
