package main

import (
	"net/http"
	"time"

	"github.com/bwl/forest/pkg/metrics"
)

// Package-level registry and named metrics, grounded on cmd/ingest's
// mDocsTotal/mErrorsTotal/mStageDur convention: one *Counter/*Histogram
// factory per label dimension, called inline at the point of interest.
var (
	reg = metrics.New()

	mRequestsTotal = func(route string, status int) *metrics.Counter {
		return reg.Counter(metrics.WithLabels("forest_http_requests_total", "route", route, "status", statusClass(status)), "Total HTTP requests by route and status class")
	}
	mRequestDuration = func(route string) *metrics.Histogram {
		return reg.Histogram(metrics.WithLabels("forest_http_request_duration_seconds", "route", route), "HTTP request duration by route", nil)
	}
	mBatchRun = func(op string) *metrics.Counter {
		return reg.Counter(metrics.WithLabels("forest_admin_batch_runs_total", "op", op), "Total admin batch operation runs")
	}
)

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// instrumentRoute wraps a handler with request-count and duration metrics,
// labeled by route pattern (not the resolved path, to keep cardinality
// bounded across note/document IDs).
func instrumentRoute(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		mRequestDuration(route).Since(start)
		mRequestsTotal(route, sw.status).Inc()
	}
}

// statusCapture records the status code written to an http.ResponseWriter,
// mirroring pkg/mid's statusWriter (kept package-local since that type is
// unexported).
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (w *statusCapture) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
