package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/biliarchive/biliarchive/internal/metrics"
)

// NewMetricsHandler exposes reg in the Prometheus text exposition format.
func NewMetricsHandler(reg *metrics.Registry) http.Handler {
	return promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})
}
