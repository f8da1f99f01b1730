package server

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nmoreau/calldrill/internal/metrics"
)

// Handler assembles the UI-facing HTTP surface: JSON API, websocket event
// feed, and the Prometheus scrape endpoint.
func Handler(hub *Hub, lister PersonaLister, factory ControllerFactory, warnings func() []string, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub, logger)
	registerAPIRoutes(mux, lister, factory, warnings, logger)
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}
