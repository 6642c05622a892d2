package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks arbitrage relationships registered by the discovery sweep.
	ArbsRegistered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbgraph_arbs_registered_total",
			Help: "Total number of arbitrage relationships registered (by type and conversion type).",
		},
		[]string{"type", "conversion"},
	)

	// Tracks instructions that reached the outward stream.
	InstructionsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbgraph_instructions_forwarded_total",
			Help: "Total number of execution instructions forwarded after throttling.",
		},
		[]string{"type"},
	)

	// Instructions replaced inside an open throttle window.
	UpdatesCollapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arbgraph_updates_collapsed_total",
			Help: "Instructions dropped because a newer one replaced them within the throttle window.",
		},
	)

	// Latest forwarded spread per instruction type.
	LastSpread = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arbgraph_last_spread_ratio",
			Help: "Spread of the most recently forwarded instruction, as a fraction of the buy price.",
		},
		[]string{"type"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbgraph_sweep_duration_seconds",
			Help:    "Duration of discovery sweeps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs → ~1.6s
		},
	)

	SweepCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbgraph_sweep_candidates",
			Help: "Ordered market pairs evaluated by the most recent sweep.",
		},
	)

	// Tracks price updates by source and result.
	PriceUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbgraph_price_updates_total",
			Help: "Total number of price updates received.",
		},
		[]string{"source", "result"}, // result = "applied" | "cleared" | "invalid" | "error"
	)

	// Tracks sink messages by sink and result.
	SinkMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbgraph_sink_messages_total",
			Help: "Total number of messages handed to output sinks.",
		},
		[]string{"sink", "result"}, // result = "ok" | "error" | "rejected"
	)

	SinkLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbgraph_sink_latency_seconds",
			Help:    "Time taken to deliver a message to an output sink.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// Tracks cache hits and misses for secrets / credentials.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbgraph_secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbgraph_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last completed sweep (seconds since epoch).
	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbgraph_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last completed discovery sweep.",
		},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case prometheus.Histogram:
		metric.Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncArbRegistered(typ, conversion string) {
	ArbsRegistered.WithLabelValues(typ, conversion).Inc()
}

func IncInstructionForwarded(typ string, spread float64) {
	InstructionsForwarded.WithLabelValues(typ).Inc()
	LastSpread.WithLabelValues(typ).Set(spread)
}

func IncPriceUpdate(source, result string) {
	PriceUpdates.WithLabelValues(source, result).Inc()
}

func IncSinkMessage(sink, result string) {
	SinkMessages.WithLabelValues(sink, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastSweep(t time.Time, candidates int) {
	LastSweepTimestamp.Set(float64(t.Unix()))
	SweepCandidates.Set(float64(candidates))
}
