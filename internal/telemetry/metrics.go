package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TrainsProxied       = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_trains_proxied_total", Help: "Training submissions forwarded to the compute provider"})
	TrainRejects        = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_train_rejects_total", Help: "Training submissions rejected before reaching the provider"})
	ProviderErrors      = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_provider_errors_total", Help: "Non-success responses from the compute provider"})
	CompletionsRecorded = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_completions_recorded_total", Help: "Completed jobs written to the ledger"})
	DownloadsServed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_downloads_served_total", Help: "Checkpoint downloads streamed from object storage"})
	CancelRequests      = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_cancel_requests_total", Help: "Cancel requests relayed to the provider"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_rate_limit_rejects_total", Help: "Train requests rejected by the per-user rate limiter"})
	ActiveStreams       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "portal_active_streams", Help: "Provider log streams currently being proxied"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TrainsProxied,
			TrainRejects,
			ProviderErrors,
			CompletionsRecorded,
			DownloadsServed,
			CancelRequests,
			RateLimitRejects,
			ActiveStreams,
		)
	})
	return promhttp.Handler()
}
