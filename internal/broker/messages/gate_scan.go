package messages

import "time"

// GateScanRequested asks for an exit-gate evaluation of one tag.
type GateScanRequested struct {
	EPC         string    `json:"epc"`
	ReaderID    string    `json:"reader_id"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}
