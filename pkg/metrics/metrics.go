package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OpenAggregations       prometheus.Gauge
	QueuedUnits            prometheus.Gauge
	FragmentsBuffered      prometheus.Counter
	FragmentEdits          prometheus.Counter
	BufferFlushes          prometheus.Counter
	DelayedUnits           *prometheus.CounterVec
	UnitsProcessed         *prometheus.CounterVec
	OverrideDrops          prometheus.Counter
	PipelineDuration       prometheus.Histogram
	StoreOperationDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpenAggregations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "open_aggregations",
			Help: "Current number of conversations with an open debounce window",
		}),
		QueuedUnits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "queued_units",
			Help: "Current number of coalesced units queued or executing",
		}),
		FragmentsBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragments_buffered_total",
			Help: "Total number of inbound fragments accepted into debounce buffers",
		}),
		FragmentEdits: factory.NewCounter(prometheus.CounterOpts{
			Name: "fragment_edits_total",
			Help: "Total number of in-buffer fragment edits applied",
		}),
		BufferFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_flushes_total",
			Help: "Total number of debounce windows that closed and flushed",
		}),
		DelayedUnits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "delayed_units_total",
			Help: "Total number of units held back by a context delay",
		}, []string{"reason"}),
		UnitsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "units_processed_total",
			Help: "Total number of coalesced units handed to the pipeline",
		}, []string{"status"}),
		OverrideDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "override_drops_total",
			Help: "Total number of fragments or units dropped by human override",
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Time taken by the external pipeline per unit",
			Buckets: prometheus.DefBuckets,
		}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Time taken for context store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
