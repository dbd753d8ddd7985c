package alloc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshuapare/asankit/asan"
)

type metrics struct {
	allocations   prometheus.Counter
	deallocations prometheus.Counter
	evictions     prometheus.Counter
	failures      prometheus.Counter

	violations *prometheus.CounterVec

	quarantineBytes prometheus.Gauge
	liveObjects     prometheus.Gauge
}

// newMetrics builds the allocator's collectors. A nil registerer leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	events := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "asankit_alloc_events",
		Help: "Guarded allocator event counters",
	}, []string{"event"})

	return &metrics{
		allocations:   events.WithLabelValues("allocate"),
		deallocations: events.WithLabelValues("deallocate"),
		evictions:     events.WithLabelValues("evict"),
		failures:      events.WithLabelValues("out_of_memory"),

		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asankit_alloc_violations",
			Help: "Heap integrity violations by kind",
		}, []string{"kind"}),

		quarantineBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asankit_alloc_quarantine_bytes",
			Help: "Reservation bytes held in quarantine",
		}),
		liveObjects: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asankit_alloc_live_objects",
			Help: "Objects currently allocated",
		}),
	}
}

func (m *metrics) violation(k asan.Kind) {
	m.violations.WithLabelValues(k.String()).Inc()
}
