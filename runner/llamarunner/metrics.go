// Package llamarunner - Prometheus-Metriken des Runners
package llamarunner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TowsifAhamed/LlamaPanama/llama"
)

type metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	streams        *prometheus.CounterVec
	tokensEmitted  prometheus.Counter
	firstToken     prometheus.Histogram
	tokensPerSec   prometheus.Histogram
	slotsBusy      prometheus.Gauge
	embedCacheHits *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llamapanama_requests_total",
			Help: "Number of runner requests by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		streams: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llamapanama_streams_total",
			Help: "Completed generation streams by terminal state.",
		}, []string{"state"}),
		tokensEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "llamapanama_tokens_emitted_total",
			Help: "Tokens emitted across all streams, excluding end-of-sequence.",
		}),
		firstToken: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llamapanama_first_token_seconds",
			Help:    "Time from evaluation start to the first sampled token.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		tokensPerSec: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llamapanama_tokens_per_second",
			Help:    "Generation throughput per stream.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		slotsBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "llamapanama_slots_busy",
			Help: "Slots currently serving a request.",
		}),
		embedCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llamapanama_embed_cache_lookups_total",
			Help: "Embedding cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *metrics) observeStream(state StreamState, stats llama.InferenceStats) {
	m.streams.WithLabelValues(state.String()).Inc()
	m.tokensEmitted.Add(float64(stats.TokensEmitted))
	if stats.TokensEmitted > 0 {
		m.firstToken.Observe(stats.FirstTokenMs / 1000)
		m.tokensPerSec.Observe(stats.TokensPerSecond)
	}
}
