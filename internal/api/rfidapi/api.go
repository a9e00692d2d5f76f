// Package rfidapi is the REST surface of the gateway: device commands for
// configured readers, scan control, gate scans, alerts and tag lookups.
package rfidapi

import (
	"context"
	_ "embed"
	"net/http"
	"sort"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/command"
	"github.com/BearBump/TagGuard/internal/services/scanner"
	"github.com/BearBump/TagGuard/internal/services/theft"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

//go:embed swagger.json
var SwaggerJSON []byte

// Reader is the device command surface of *reader.Conn.
type Reader interface {
	ID() string
	IsConnected() bool
	GetReaderInfo(ctx context.Context) (command.DeviceInfo, error)
	GetPower(ctx context.Context) (int, error)
	SetPower(ctx context.Context, dbm int) error
	GetNetworkConfig(ctx context.Context) (command.NetworkConfig, error)
	SetNetworkConfig(ctx context.Context, n command.NetworkConfig) error
	GetGPIO(ctx context.Context) (command.GPIOState, error)
	SetGPIO(ctx context.Context, pin int, high bool) error
	ControlRelay(ctx context.Context, relay int, closed bool, holdSeconds int) error
	GetGateMode(ctx context.Context) (command.GateMode, error)
	SetGateMode(ctx context.Context, m command.GateMode) error
	GetAllParams(ctx context.Context) (command.AllParams, error)
}

type Scanner interface {
	Stats() scanner.Stats
	Pause()
	Resume()
	Trigger()
}

type Theft interface {
	CheckGateScan(ctx context.Context, epc, readerID string) (theft.GateScanResult, error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.TheftAlert, error)
	ResolveAlert(ctx context.Context, id uint64, resolvedBy *uint64, notes *string) (*models.TheftAlert, error)
}

type Tags interface {
	FindTagByEPC(ctx context.Context, epc string) (*models.TagRecord, error)
	ListScanHistory(ctx context.Context, epc string, limit, offset int) ([]*models.ScanHistoryEntry, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type readerBinding struct {
	reader  Reader
	scanner Scanner
}

type API struct {
	readers map[string]readerBinding
	theft   Theft
	tags    Tags

	limiter        Limiter
	limitPerMinute int64

	now func() time.Time
}

func New(t Theft, tags Tags) *API {
	return &API{
		readers: make(map[string]readerBinding),
		theft:   t,
		tags:    tags,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AddReader exposes r under /api/v1/readers/{id}. s may be nil for readers
// without a supervisor.
func (a *API) AddReader(r Reader, s Scanner) *API {
	a.readers[r.ID()] = readerBinding{reader: r, scanner: s}
	return a
}

// WithRateLimit caps device commands per reader per minute.
func (a *API) WithRateLimit(l Limiter, perMinute int64) *API {
	a.limiter = l
	a.limitPerMinute = perMinute
	return a
}

func (a *API) readerIDs() []string {
	ids := make([]string, 0, len(a.readers))
	for id := range a.readers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register adds every route to mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		h       runtime.HandlerFunc
	}{
		{http.MethodGet, "/api/v1/readers", a.listReaders},
		{http.MethodGet, "/api/v1/readers/{id}/info", a.withDevice(a.getInfo)},
		{http.MethodGet, "/api/v1/readers/{id}/power", a.withDevice(a.getPower)},
		{http.MethodPut, "/api/v1/readers/{id}/power", a.withDevice(a.setPower)},
		{http.MethodGet, "/api/v1/readers/{id}/network", a.withDevice(a.getNetwork)},
		{http.MethodPut, "/api/v1/readers/{id}/network", a.withDevice(a.setNetwork)},
		{http.MethodGet, "/api/v1/readers/{id}/gpio", a.withDevice(a.getGPIO)},
		{http.MethodPut, "/api/v1/readers/{id}/gpio/{pin}", a.withDevice(a.setGPIO)},
		{http.MethodPost, "/api/v1/readers/{id}/relay", a.withDevice(a.controlRelay)},
		{http.MethodGet, "/api/v1/readers/{id}/gate-mode", a.withDevice(a.getGateMode)},
		{http.MethodPut, "/api/v1/readers/{id}/gate-mode", a.withDevice(a.setGateMode)},
		{http.MethodGet, "/api/v1/readers/{id}/params", a.withDevice(a.getParams)},
		{http.MethodGet, "/api/v1/readers/{id}/stats", a.withScanner(a.stats)},
		{http.MethodPost, "/api/v1/readers/{id}/scan/start", a.withScanner(a.startScan)},
		{http.MethodPost, "/api/v1/readers/{id}/scan/stop", a.withScanner(a.stopScan)},
		{http.MethodPost, "/api/v1/readers/{id}/reconnect", a.withScanner(a.reconnect)},
		{http.MethodPost, "/api/v1/gate-scans", a.gateScan},
		{http.MethodGet, "/api/v1/alerts", a.listAlerts},
		{http.MethodPost, "/api/v1/alerts/{id}/resolve", a.resolveAlert},
		{http.MethodGet, "/api/v1/tags/{epc}", a.getTag},
		{http.MethodGet, "/api/v1/tags/{epc}/history", a.tagHistory},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns a gateway mux with every route registered.
func (a *API) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := a.Register(mux); err != nil {
		return nil, err
	}
	return mux, nil
}
