package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "http_requests_total",
			Help:      "Total number of intercepted requests, by serving tier and status code",
		},
		[]string{"tier", "method", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fruitworker",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of intercepted requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "cache_hits_total",
			Help:      "Total cache hits, by tier (generation or store)",
		},
		[]string{"tier"},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "cache_misses_total",
			Help:      "Total requests that reached the origin",
		},
	)

	offlineFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "offline_fallbacks_total",
			Help:      "Total uncached requests answered with the offline placeholder",
		},
	)

	installResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "installs_total",
			Help:      "Install attempts, by result",
		},
		[]string{"result"},
	)

	versionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "version_checks_total",
			Help:      "Version gate runs, by outcome",
		},
		[]string{"outcome"},
	)

	notifiedClients = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fruitworker",
			Name:      "notified_clients_total",
			Help:      "Update notifications posted to controlled clients",
		},
	)

	controlledClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fruitworker",
			Name:      "controlled_clients",
			Help:      "Number of client pages currently controlled by the worker",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		requestTotal, requestDuration,
		cacheHits, cacheMisses, offlineFallbacks,
		installResults, versionChecks, notifiedClients, controlledClients,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(tier, method, code string, d time.Duration) {
	requestTotal.WithLabelValues(tier, method, code).Inc()
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func IncCacheHit(tier string) {
	cacheHits.WithLabelValues(tier).Inc()
}

func IncCacheMiss() {
	cacheMisses.Inc()
}

func IncOfflineFallback() {
	offlineFallbacks.Inc()
}

func IncInstall(result string) {
	installResults.WithLabelValues(result).Inc()
}

func IncVersionCheck(outcome string) {
	versionChecks.WithLabelValues(outcome).Inc()
}

func AddNotifiedClients(n int) {
	notifiedClients.Add(float64(n))
}

func SetControlledClients(n int) {
	controlledClients.Set(float64(n))
}
