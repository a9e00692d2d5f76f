package rfidapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/TagGuard/internal/cache/rediscache"
	"github.com/BearBump/TagGuard/internal/rfid/command"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type deviceHandler func(ctx context.Context, rd Reader, r *http.Request, params map[string]string) (any, error)

type scannerHandler func(s Scanner) any

type readerSummary struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Scanning  *bool  `json:"scanning,omitempty"`
}

func (a *API) listReaders(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	out := make([]readerSummary, 0, len(a.readers))
	for _, id := range a.readerIDs() {
		b := a.readers[id]
		sum := readerSummary{ID: id, Connected: b.reader.IsConnected()}
		if b.scanner != nil {
			scanning := !b.scanner.Stats().Paused
			sum.Scanning = &scanning
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, map[string]any{"readers": out})
}

// withDevice resolves the reader, applies the per-reader rate limit and
// writes the handler result.
func (a *API) withDevice(h deviceHandler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		b, ok := a.readers[params["id"]]
		if !ok {
			writeError(w, r, status.Errorf(codes.NotFound, "reader %q not found", params["id"]))
			return
		}
		if !a.allow(r.Context(), params["id"]) {
			writeError(w, r, status.Errorf(codes.ResourceExhausted, "too many device commands for reader %q", params["id"]))
			return
		}
		out, err := h(r.Context(), b.reader, r, params)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (a *API) withScanner(h scannerHandler) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		b, ok := a.readers[params["id"]]
		if !ok || b.scanner == nil {
			writeError(w, r, status.Errorf(codes.NotFound, "scanner for reader %q not found", params["id"]))
			return
		}
		writeJSON(w, http.StatusOK, h(b.scanner))
	}
}

// allow fails open when the limiter itself is unavailable.
func (a *API) allow(ctx context.Context, readerID string) bool {
	if a.limiter == nil || a.limitPerMinute <= 0 {
		return true
	}
	key := rediscache.MinuteKey("reader", readerID, a.now())
	ok, n, err := a.limiter.Allow(ctx, key, a.limitPerMinute, time.Minute)
	if err != nil {
		slog.Warn("rate limiter unavailable", "error", err.Error(), "reader_id", readerID)
		return true
	}
	if !ok {
		slog.Warn("device command rate limited", "reader_id", readerID, "count", n)
	}
	return ok
}

func (a *API) getInfo(ctx context.Context, rd Reader, _ *http.Request, _ map[string]string) (any, error) {
	return rd.GetReaderInfo(ctx)
}

func (a *API) getPower(ctx context.Context, rd Reader, _ *http.Request, _ map[string]string) (any, error) {
	dbm, err := rd.GetPower(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{"dbm": dbm}, nil
}

func (a *API) setPower(ctx context.Context, rd Reader, r *http.Request, _ map[string]string) (any, error) {
	var req struct {
		DBm *int `json:"dbm"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.DBm == nil || *req.DBm < 0 || *req.DBm > command.MaxPowerDBm {
		return nil, invalid("dbm must be between 0 and %d", command.MaxPowerDBm)
	}
	if err := rd.SetPower(ctx, *req.DBm); err != nil {
		return nil, err
	}
	return map[string]int{"dbm": *req.DBm}, nil
}

func (a *API) getNetwork(ctx context.Context, rd Reader, _ *http.Request, _ map[string]string) (any, error) {
	return rd.GetNetworkConfig(ctx)
}

func (a *API) setNetwork(ctx context.Context, rd Reader, r *http.Request, _ map[string]string) (any, error) {
	var n command.NetworkConfig
	if err := decodeBody(r, &n); err != nil {
		return nil, err
	}
	if !n.IP.Is4() || !n.Mask.Is4() || !n.Gateway.Is4() || n.Port == 0 {
		return nil, invalid("ip, mask, gateway (IPv4) and port are required")
	}
	if err := rd.SetNetworkConfig(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (a *API) getGPIO(ctx context.Context, rd Reader, _ *http.Request, _ map[string]string) (any, error) {
	return rd.GetGPIO(ctx)
}

func (a *API) setGPIO(ctx context.Context, rd Reader, r *http.Request, params map[string]string) (any, error) {
	pin, err := strconv.Atoi(params["pin"])
	if err != nil || pin < 0 || pin > 7 {
		return nil, invalid("pin must be between 0 and 7")
	}
	var req struct {
		High bool `json:"high"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := rd.SetGPIO(ctx, pin, req.High); err != nil {
		return nil, err
	}
	return map[string]any{"pin": pin, "high": req.High}, nil
}

func (a *API) controlRelay(ctx context.Context, rd Reader, r *http.Request, _ map[string]string) (any, error) {
	var req struct {
		Relay       int  `json:"relay"`
		Closed      bool `json:"closed"`
		HoldSeconds int  `json:"hold_seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Relay < 0 || req.Relay > 3 {
		return nil, invalid("relay must be between 0 and 3")
	}
	if req.HoldSeconds < 0 || req.HoldSeconds > 255 {
		return nil, invalid("hold_seconds must be between 0 and 255")
	}
	if err := rd.ControlRelay(ctx, req.Relay, req.Closed, req.HoldSeconds); err != nil {
		return nil, err
	}
	return req, nil
}

func (a *API) getGateMode(ctx context.Context, rd Reader, _ *http.Request, _ map[string]string) (any, error) {
	m, err := rd.GetGateMode(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"mode": m.String()}, nil
}

func (a *API) setGateMode(ctx context.Context, rd Reader, r *http.Request, _ map[string]string) (any, error) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	m, err := command.ParseGateMode(req.Mode)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := rd.SetGateMode(ctx, m); err != nil {
		return nil, err
	}
	return map[string]string{"mode": m.String()}, nil
}

func (a *API) getParams(ctx context.Context, rd Reader, _ *http.Request, _ map[string]string) (any, error) {
	return rd.GetAllParams(ctx)
}

func (a *API) stats(s Scanner) any { return s.Stats() }

func (a *API) startScan(s Scanner) any {
	s.Resume()
	return map[string]bool{"scanning": true}
}

func (a *API) stopScan(s Scanner) any {
	s.Pause()
	return map[string]bool{"scanning": false}
}

func (a *API) reconnect(s Scanner) any {
	s.Trigger()
	return map[string]bool{"triggered": true}
}
