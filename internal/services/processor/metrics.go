package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readingsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "soil_processor",
		Name:      "readings_received_total",
		Help:      "Raw readings delivered by the broker",
	})

	readingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soil_processor",
		Name:      "readings_rejected_total",
		Help:      "Raw readings dropped before producing a result",
	}, []string{"reason"})

	resultsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soil_processor",
		Name:      "results_published_total",
		Help:      "Messages published, by kind",
	}, []string{"kind"})

	publishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soil_processor",
		Name:      "publish_errors_total",
		Help:      "Failed or breaker-rejected publishes, by kind",
	}, []string{"kind"})

	sensorsKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "soil_processor",
		Name:      "sensors_known",
		Help:      "Sensors seen since start",
	})

	sensorsStale = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "soil_processor",
		Name:      "sensors_stale",
		Help:      "Sensors currently flagged STALE",
	})

	fleetHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "soil_processor",
		Name:      "fleet_health_sensors",
		Help:      "Sensors per health category in the latest summary",
	}, []string{"category"})

	pipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "soil_processor",
		Name:      "pipeline_duration_seconds",
		Help:      "Time spent conditioning and classifying one reading",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
	})
)

const (
	reasonMalformed  = "malformed"
	reasonDuplicate  = "duplicate"
	reasonOutOfOrder = "out_of_order"
	reasonShutdown   = "shutdown"

	kindResult  = "result"
	kindSummary = "summary"
)
