package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	galleryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	galleryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	galleryAuthEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_auth_events_total",
		Help: "Authentication events by kind and result.",
	}, []string{"event", "result"})

	galleryPhotoUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_photo_uploads_total",
		Help: "Photo uploads by result.",
	}, []string{"result"})

	galleryReadinessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_readiness_checks_total",
		Help: "Readiness probes by result.",
	}, []string{"result"})

	galleryDependencyProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_dependency_probes_total",
		Help: "Background dependency probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		galleryRequestsTotal.WithLabelValues(method, path, status).Inc()
		galleryRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordAuthEvent(event string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	galleryAuthEventsTotal.WithLabelValues(event, result).Inc()
}

func recordUpload(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	galleryPhotoUploadsTotal.WithLabelValues(result).Inc()
}

func recordReadiness(ok bool) {
	if ok {
		galleryReadinessChecksTotal.WithLabelValues("success").Inc()
	} else {
		galleryReadinessChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordDependencyProbe counts one background dependency probe. It matches
// health.MetricsRecordFunc.
func RecordDependencyProbe(success bool) {
	if success {
		galleryDependencyProbesTotal.WithLabelValues("success").Inc()
		return
	}
	galleryDependencyProbesTotal.WithLabelValues("failure").Inc()
}
