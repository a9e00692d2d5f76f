package rfidapi

import (
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type gateScanRequest struct {
	EPC      string `json:"epc"`
	ReaderID string `json:"reader_id"`
}

func (a *API) gateScan(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req gateScanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.EPC = strings.ToUpper(strings.TrimSpace(req.EPC))
	if req.EPC == "" || req.ReaderID == "" {
		writeError(w, r, invalid("epc and reader_id are required"))
		return
	}
	res, err := a.theft.CheckGateScan(r.Context(), req.EPC, req.ReaderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	unresolved, _ := strconv.ParseBool(q.Get("unresolved"))
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	alerts, err := a.theft.ListAlerts(r.Context(), unresolved, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type resolveRequest struct {
	ResolvedBy *uint64 `json:"resolved_by"`
	Notes      *string `json:"notes"`
}

func (a *API) resolveAlert(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil || id == 0 {
		writeError(w, r, invalid("alert id must be a positive integer"))
		return
	}
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	alert, err := a.theft.ResolveAlert(r.Context(), id, req.ResolvedBy, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type tagResponse struct {
	EPC         string  `json:"epc"`
	ProductID   *uint64 `json:"product_id,omitempty"`
	ReadCount   int64   `json:"read_count"`
	LastRSSI    int     `json:"last_rssi"`
	AntennaPort int     `json:"antenna_port"`
	FirstSeen   string  `json:"first_seen"`
	LastSeen    string  `json:"last_seen"`
	IsPaid      bool    `json:"is_paid"`
	Status      string  `json:"status"`
}

func (a *API) getTag(w http.ResponseWriter, r *http.Request, params map[string]string) {
	epc := strings.ToUpper(params["epc"])
	t, err := a.tags.FindTagByEPC(r.Context(), epc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tagResponse{
		EPC:         t.EPC,
		ProductID:   t.ProductID,
		ReadCount:   t.ReadCount,
		LastRSSI:    t.LastRSSI,
		AntennaPort: t.AntennaPort,
		FirstSeen:   t.FirstSeen.UTC().Format(timeLayout),
		LastSeen:    t.LastSeen.UTC().Format(timeLayout),
		IsPaid:      t.IsPaid,
		Status:      t.Status,
	})
}

type historyEntry struct {
	ReaderID    string `json:"reader_id"`
	RSSI        int    `json:"rssi"`
	AntennaPort int    `json:"antenna_port"`
	ScannedAt   string `json:"scanned_at"`
}

func (a *API) tagHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := a.tags.ListScanHistory(r.Context(), strings.ToUpper(params["epc"]), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ReaderID:    e.ReaderID,
			RSSI:        e.RSSI,
			AntennaPort: e.AntennaPort,
			ScannedAt:   e.ScannedAt.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid number %q", s)
	}
	return n, nil
}
