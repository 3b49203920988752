// Package metrics defines Prometheus metrics for the AutoMarket storefront.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "automarket"

// HTTP metrics for the storefront's own server.
var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Backend API client metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total number of requests sent to the listings backend.",
	}, []string{"method", "status"})

	APIRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Duration of listings backend requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	AuthRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_retries_total",
		Help:      "Requests retried after a 401, by outcome of the retry.",
	}, []string{"outcome"})

	BackendUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backend_up",
		Help:      "Whether the last backend health check succeeded (1) or failed (0).",
	})
)

// Identity metrics.
var (
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Total number of ID token refreshes, by result.",
	}, []string{"result"})

	SessionChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_changes_total",
		Help:      "Total number of session state derivations.",
	})
)

// Upload metrics.
var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Total number of image uploads, by result.",
	}, []string{"result"})

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_bytes",
		Help:      "Size of uploaded images in bytes.",
		Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 6), // 16KiB .. 16MiB
	})
)
