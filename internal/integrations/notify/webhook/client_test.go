package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_Send_OK(t *testing.T) {
	var got reqBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "n-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Send(context.Background(), &models.User{ID: 3, Name: "Ann", Email: "ann@example.com"}, notify.Payload{
		NotificationID: "n-1",
		AlertID:        10,
		EPC:            "E200AA",
		Location:       "Exit A",
		DetectedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.User.ID)
	require.Equal(t, uint64(10), got.Notification.AlertID)
	require.Equal(t, "E200AA", got.Notification.EPC)
}

func TestClient_Send_Non2xx(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := New(srv.URL)
		err := c.Send(context.Background(), &models.User{ID: 1}, notify.Payload{AlertID: 1})
		require.Error(t, err)
		srv.Close()
	}
}
