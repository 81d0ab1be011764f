// Package server mounts the gateway's HTTP surface: the MCP endpoint
// behind the governance chain, the operations API, health probes and
// the metrics scrape endpoint.
package server

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surfboard-io/surfboard/pkg/admin"
	"github.com/surfboard-io/surfboard/pkg/auth"
	"github.com/surfboard-io/surfboard/pkg/dispatch"
	"github.com/surfboard-io/surfboard/pkg/gateway"
)

// Version is set at build time.
var Version = "dev"

// Handler assembles the full HTTP surface for a gateway.
//
// /mcp is the automation endpoint. Every request passes the dispatcher's
// governance chain before the protocol handler sees it. The protocol
// handler runs stateless: sessions belong to the dispatcher, which hands
// out the Mcp-Session-Id correlation header that standard MCP clients
// echo back, and handles the DELETE those clients send on close.
func Handler(gw *gateway.Gateway) http.Handler {
	mux := http.NewServeMux()

	streamable := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return gw.MCPServer() },
		&mcp.StreamableHTTPOptions{Stateless: true})
	mux.Handle("/mcp", dispatch.NewDispatcher(streamable, dispatch.Config{
		Limiter:   gw.Limiter(),
		Validator: gw.Validator(),
		Registry:  gw.Sessions(),
		Recorder:  gw.Recorder(),
		Metrics:   gw.Metrics(),
		Logger:    gw.Logger(),
	}))

	checker := gw.Health()
	mux.HandleFunc("GET /healthz", checker.HandleLiveness)
	mux.HandleFunc("GET /readyz", checker.HandleReadiness)

	mux.Handle("GET /metrics", promhttp.HandlerFor(gw.MetricsRegistry(), promhttp.HandlerOpts{}))

	mux.Handle("/api/v1/", admin.NewHandler(gw.Sessions(), gw.Recorder(), checker, opsAuth(gw.Validator())))

	return WithRequestLogging(mux, gw.Logger())
}

// opsAuth guards the operations API with the same credentials the MCP
// endpoint accepts. Deployments without auth configured get an open
// operations API.
func opsAuth(validator *auth.Validator) func(http.Handler) http.Handler {
	if !validator.Enabled() {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := validator.Validate(r.Context(),
				dispatch.BearerToken(r), r.Header.Get(dispatch.APIKeyHeader))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error": "unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}
