package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dross/clantally/pkg/metrics"
)

// handleHealth serves GET /healthz from the custom metrics registry, so
// one endpoint covers liveness probes and Prometheus scrapes.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
