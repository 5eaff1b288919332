package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/plantcare/internal/fleet"
	"github.com/joshp123/plantcare/internal/rpc"
	"github.com/joshp123/plantcare/internal/server"
	"github.com/joshp123/plantcare/internal/service"
)

// Deps are the components exposed over gRPC and HTTP.
type Deps struct {
	Service    *service.Service
	Store      *fleet.Store
	API        *server.API
	Stream     *server.Stream
	Registry   *prometheus.Registry
	Dashboards map[string][]byte
}

// RegisterGRPC registers the plant care service on the gRPC server.
func RegisterGRPC(s *grpc.Server, deps Deps) {
	rpc.Register(s, deps.Service)
}

// HTTPMux builds the HTTP routes: JSON API, live stream, health, metrics and
// dashboards.
func HTTPMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	deps.API.Register(mux)
	if deps.Stream != nil {
		mux.Handle("GET /ws/fleet", deps.Stream)
	}
	mux.Handle("/health", server.HealthHandler(deps.Store))
	if deps.Registry != nil {
		mux.Handle("/metrics", server.MetricsHandler(deps.Registry))
	}
	mux.Handle("/dashboards/", server.DashboardsHandler(deps.Dashboards))
	return mux
}
