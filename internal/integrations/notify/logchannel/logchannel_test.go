package logchannel

import (
	"context"
	"testing"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/stretchr/testify/require"
)

func TestChannel_AlwaysDelivers(t *testing.T) {
	c := New()
	require.NoError(t, c.Send(context.Background(), &models.User{ID: 1, Email: "a@b.c"}, notify.Payload{AlertID: 7, EPC: "E2"}))
}
