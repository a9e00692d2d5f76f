// Package logchannel is the notification channel used when no transport is
// configured: every notification is written to the log and counts as
// delivered.
package logchannel

import (
	"context"
	"log/slog"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
)

type Channel struct{}

func New() *Channel { return &Channel{} }

func (c *Channel) Send(ctx context.Context, user *models.User, p notify.Payload) error {
	slog.Warn("theft alert notification",
		"user_id", user.ID,
		"email", user.Email,
		"alert_id", p.AlertID,
		"epc", p.EPC,
		"location", p.Location,
		"message", p.Message,
	)
	return nil
}
