// Package prometheus provides Prometheus metrics for the docent runtime.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docent"

var (
	// turnsActive is a gauge of turns currently being streamed.
	turnsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_active",
			Help:      "Number of turns currently being streamed",
		},
	)

	// turnDuration is a histogram of end-to-end turn duration in seconds.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of end-to-end turn duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"}, // status: complete, error, timeout, canceled
	)

	// directivesTotal is a counter of directives emitted to viewers.
	directivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Total number of directives emitted to viewers",
		},
		[]string{"kind", "origin"}, // origin: model, fallback
	)

	// streamChunksTotal is a counter of model stream chunks processed.
	streamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Total number of model stream chunks processed",
		},
		[]string{"provider"},
	)

	// heartbeatsTotal is a counter of heartbeat events sent.
	heartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeat events sent to clients",
		},
	)

	// providerRequestDuration is a histogram of LLM provider API call duration.
	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of LLM provider API calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// providerRequestsTotal is a counter of provider API calls.
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider API calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	// providerTokensTotal is a counter of tokens consumed by provider calls.
	providerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total tokens consumed by provider calls",
		},
		[]string{"provider", "model", "type"}, // type: input, output
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		turnsActive,
		turnDuration,
		directivesTotal,
		streamChunksTotal,
		heartbeatsTotal,
		providerRequestDuration,
		providerRequestsTotal,
		providerTokensTotal,
	}
)

// RecordTurnStart records a turn beginning to stream.
func RecordTurnStart() {
	turnsActive.Inc()
}

// RecordTurnEnd records a turn finishing, however it finished.
func RecordTurnEnd(status string, durationSeconds float64) {
	turnsActive.Dec()
	turnDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordDirective records one directive emitted to the viewer.
func RecordDirective(kind, origin string) {
	directivesTotal.WithLabelValues(kind, origin).Inc()
}

// RecordStreamChunk records one model stream chunk processed.
func RecordStreamChunk(provider string) {
	streamChunksTotal.WithLabelValues(provider).Inc()
}

// RecordHeartbeat records one heartbeat event sent to a client.
func RecordHeartbeat() {
	heartbeatsTotal.Inc()
}

// RecordProviderRequest records a provider API call.
func RecordProviderRequest(provider, model, status string, durationSeconds float64) {
	providerRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	providerRequestsTotal.WithLabelValues(provider, model, status).Inc()
}

// RecordProviderTokens records token consumption.
func RecordProviderTokens(provider, model string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		providerTokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		providerTokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}
