package rfidapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Status *byte  `json:"device_status,omitempty"`
}

// toStatus maps domain errors onto gRPC codes so HTTP statuses follow the
// gateway's standard mapping.
func toStatus(err error) *status.Status {
	if s, ok := status.FromError(err); ok {
		return s
	}

	var devErr *reader.DeviceError
	var connErr *reader.ConnectionError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, reader.ErrNotConnected), errors.As(err, &connErr):
		return status.New(codes.Unavailable, err.Error())
	case errors.Is(err, reader.ErrCommandTimeout), errors.Is(err, reader.ErrReadTimeout):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, reader.ErrAlreadyScanning):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.As(err, &devErr):
		return status.New(codes.FailedPrecondition, err.Error())
	}
	return status.New(codes.Internal, err.Error())
}

func invalid(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	st := toStatus(err)
	body := errorBody{Error: st.Message(), Code: st.Code().String()}

	var devErr *reader.DeviceError
	if errors.As(err, &devErr) {
		b := devErr.Status
		body.Status = &b
	}
	if st.Code() == codes.Internal {
		slog.Error("api request failed", "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("invalid JSON body: %v", err)
	}
	return nil
}
