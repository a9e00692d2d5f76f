package messages

import "time"

type TheftAlert struct {
	AlertID            uint64    `json:"alert_id"`
	EPC                string    `json:"epc"`
	ProductDescription string    `json:"product_description"`
	Location           string    `json:"location"`
	DetectedAt         time.Time `json:"detected_at"`
	ReaderID           string    `json:"reader_id,omitempty"`

	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
}
