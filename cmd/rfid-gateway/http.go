package main

import (
	"encoding/json"
	"net/http"

	"github.com/BearBump/TagGuard/internal/api/rfidapi"
	"github.com/BearBump/TagGuard/internal/api/ws"
	"github.com/BearBump/TagGuard/internal/services/scanner"
	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	httpSwagger "github.com/swaggo/http-swagger"
)

func newRouter(g *gateway) (http.Handler, error) {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		readers, all := g.health.snapshot()
		code, status := http.StatusOK, "ready"
		if !all {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "readers": readers})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		readers := make([]scanner.Stats, 0, len(g.supervisors))
		for _, s := range g.supervisors {
			readers = append(readers, s.Stats())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hub":     g.hub.Stats(),
			"ingest":  g.pipeline.Stats(),
			"readers": readers,
		})
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(rfidapi.SwaggerJSON)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))

	r.Handle("/ws", ws.New(g.hub))

	mux := runtime.NewServeMux()
	if err := g.api.Register(mux); err != nil {
		return nil, err
	}
	r.Mount("/", mux)
	return r, nil
}
