package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CoverMutations counts accepted mutations of the cover list by kind.
	CoverMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posterwall_cover_mutations_total",
		Help: "Mutations applied to the cover list",
	}, []string{"kind"})

	// PersistenceFailures counts local cache and remote writes that failed.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posterwall_persistence_failures_total",
		Help: "Failed writes by target and reason",
	}, []string{"target", "reason"})

	// FeedBatches tracks batch load duration, including the wait on images.
	FeedBatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "posterwall_feed_batch_duration_seconds",
		Help:    "Time to render, settle and lay out one feed batch",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// ImageProbes counts image settle outcomes.
	ImageProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posterwall_image_probes_total",
		Help: "Image settle results by outcome",
	}, []string{"result"})

	// Captures counts frame captures and commits by outcome.
	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posterwall_captures_total",
		Help: "Frame capture pipeline transitions by step and result",
	}, []string{"step", "result"})

	// Resolutions counts video resolution attempts by resolver and result.
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posterwall_resolutions_total",
		Help: "Video resolution attempts",
	}, []string{"resolver", "result"})

	// ProxyBytes counts bytes streamed through the video proxy.
	ProxyBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posterwall_proxy_bytes_total",
		Help: "Bytes relayed by the video proxy",
	})

	// ProxyUpstreamErrors counts proxy requests that ended in 502.
	ProxyUpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posterwall_proxy_upstream_errors_total",
		Help: "Proxy requests that failed upstream",
	})

	// RateLimited counts requests rejected with 429 by scope.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posterwall_rate_limited_total",
		Help: "Requests rejected by a per-client limit",
	}, []string{"scope"})
)

// ObserveFeedBatch records the duration of one batch.
func ObserveFeedBatch(d time.Duration) {
	FeedBatches.Observe(d.Seconds())
}

// IncMutation records an accepted cover list mutation.
func IncMutation(kind string) {
	CoverMutations.WithLabelValues(kind).Inc()
}

// IncPersistenceFailure records a failed write.
func IncPersistenceFailure(target, reason string) {
	PersistenceFailures.WithLabelValues(target, reason).Inc()
}

// IncImageProbe records one image settle result.
func IncImageProbe(ok bool) {
	ImageProbes.WithLabelValues(result(ok)).Inc()
}

// IncCapture records a capture pipeline step outcome.
func IncCapture(step string, ok bool) {
	Captures.WithLabelValues(step, result(ok)).Inc()
}

// IncResolution records a resolution attempt.
func IncResolution(resolver string, ok bool) {
	Resolutions.WithLabelValues(resolver, result(ok)).Inc()
}

// IncRateLimited records a rejected request.
func IncRateLimited(scope string) {
	RateLimited.WithLabelValues(scope).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
