// Package notify defines how theft alerts reach stakeholders.
package notify

import (
	"context"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
)

// Payload is what a stakeholder receives for one alert.
type Payload struct {
	NotificationID     string    `json:"notification_id"`
	AlertID            uint64    `json:"alert_id"`
	EPC                string    `json:"epc"`
	ProductDescription string    `json:"product_description"`
	Location           string    `json:"location"`
	DetectedAt         time.Time `json:"detected_at"`
	Message            string    `json:"message"`
}

// Channel delivers one payload to one user. A nil error means delivered.
type Channel interface {
	Send(ctx context.Context, user *models.User, p Payload) error
}
