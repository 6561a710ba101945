// Package metrics exposes Prometheus collectors for the HTTP surface and the
// object-store opener.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	storeOpensTotal            *prometheus.CounterVec
	folderScanDurationSeconds  prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		storeOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3uploader_store_opens_total",
				Help: "Object store clients opened, labeled by driver and result.",
			},
			[]string{"driver", "result"},
		)

		folderScanDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "s3uploader_folder_scan_duration_seconds",
				Help:    "Time spent sizing the source tree for status requests.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveStoreOpen counts an attempt to build an object store client.
func ObserveStoreOpen(driver string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpensTotal.WithLabelValues(driver, result).Inc()
}

// ObserveFolderScan records how long a size calculation took.
func ObserveFolderScan(duration time.Duration) {
	Init()
	folderScanDurationSeconds.Observe(duration.Seconds())
}
