package models

import "time"

type TheftAlert struct {
	ID                 uint64     `json:"id"`
	EPC                string     `json:"epc"`
	ProductDescription string     `json:"product_description"`
	DetectedAt         time.Time  `json:"detected_at"`
	Location           string     `json:"location"`
	Resolved           bool       `json:"resolved"`
	ResolvedBy         *uint64    `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
}

// AlertRecipient tracks delivery and read state of one alert for one user.
type AlertRecipient struct {
	AlertID     uint64     `json:"alert_id"`
	UserID      uint64     `json:"user_id"`
	SentAt      time.Time  `json:"sent_at"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	IsRead      bool       `json:"is_read"`
}

// User is a stakeholder candidate for theft alerts.
type User struct {
	ID            uint64  `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Phone         *string `json:"phone,omitempty"`
	StoreID       *uint64 `json:"store_id,omitempty"`
	ReceiveAlerts bool    `json:"receive_alerts"`
}
