package models

import "time"

// Tag lifecycle statuses.
const (
	TagStatusActive = "ACTIVE"
	TagStatusSold   = "SOLD"
	TagStatusStolen = "STOLEN"
)

// TagRead is one tag observation decoded from an inventory frame.
type TagRead struct {
	EPC         string    `json:"epc"`
	RSSI        int       `json:"rssi"`
	AntennaPort int       `json:"antenna_port"`
	PC          uint16    `json:"pc"`
	EPCLength   int       `json:"epc_length"`
	Timestamp   time.Time `json:"timestamp"`
	ReaderID    string    `json:"reader_id,omitempty"`
}

type TagRecord struct {
	ID          uint64
	EPC         string
	ProductID   *uint64
	ReadCount   int64
	LastRSSI    int
	AntennaPort int
	FirstSeen   time.Time
	LastSeen    time.Time
	IsPaid      bool
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScanHistoryEntry is an append-only row per ingested read. EPC is not a
// foreign key: reads of unknown tags are recorded too.
type ScanHistoryEntry struct {
	ID          uint64
	EPC         string
	ReaderID    string
	RSSI        int
	AntennaPort int
	ScannedAt   time.Time
}
