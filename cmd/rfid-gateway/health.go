package main

import (
	"sort"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// readerHealth mirrors reader link state into the gRPC health service: one
// service per reader ("reader/<id>") plus the overall "" service, which is
// SERVING only while every reader is connected.
type readerHealth struct {
	srv *health.Server

	mu sync.Mutex
	up map[string]bool
}

func newReaderHealth(srv *health.Server, readerIDs []string) *readerHealth {
	h := &readerHealth{srv: srv, up: make(map[string]bool, len(readerIDs))}
	for _, id := range readerIDs {
		h.up[id] = false
		srv.SetServingStatus(serviceName(id), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	srv.SetServingStatus("", servingStatus(len(readerIDs) == 0))
	return h
}

func (h *readerHealth) set(readerID string, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.up[readerID] = connected
	h.srv.SetServingStatus(serviceName(readerID), servingStatus(connected))

	all := true
	for _, ok := range h.up {
		all = all && ok
	}
	h.srv.SetServingStatus("", servingStatus(all))
}

// snapshot reports per-reader link state and whether all links are up.
func (h *readerHealth) snapshot() (map[string]bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]bool, len(h.up))
	all := true
	for id, ok := range h.up {
		out[id] = ok
		all = all && ok
	}
	return out, all
}

func (h *readerHealth) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.up))
	for id := range h.up {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func serviceName(readerID string) string { return "reader/" + readerID }

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
