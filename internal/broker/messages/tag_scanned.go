package messages

import (
	"time"

	"github.com/BearBump/TagGuard/internal/models"
)

// TagScanned is published to real-time subscribers and exported to Kafka for
// every ingested read.
type TagScanned struct {
	EPC         string    `json:"epc"`
	ReaderID    string    `json:"reader_id,omitempty"`
	RSSI        int       `json:"rssi"`
	AntennaPort int       `json:"antenna_port"`
	Timestamp   time.Time `json:"timestamp"`

	ReadCount int64  `json:"read_count"`
	IsPaid    bool   `json:"is_paid"`
	Status    string `json:"status"`

	IsMapped       bool            `json:"is_mapped"`
	Product        *models.Product `json:"product"`
	DecryptedLabel *string         `json:"decrypted_label"`
	LabelError     string          `json:"label_error,omitempty"`
}
