package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promHandler serves the process-global Prometheus registry, the same one
// pkg/telemetry's dedicated metrics port reads from. Mounting it here too
// means a reverse proxy that fronts only the observability API still gets
// scrapeable metrics, with no risk of divergence between the two endpoints.
func promHandler() http.Handler {
	return promhttp.Handler()
}
