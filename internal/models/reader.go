package models

const (
	ReaderTypeGate    = "GATE"
	ReaderTypeBath    = "BATH"
	ReaderTypeUnknown = "UNKNOWN"
)

// GateContext describes where a reader sits and what it is for.
type GateContext struct {
	ReaderID   string  `json:"reader_id"`
	ReaderType string  `json:"reader_type"`
	Location   string  `json:"location"`
	StoreID    *uint64 `json:"store_id,omitempty"`
}

func (g GateContext) IsGate() bool { return g.ReaderType == ReaderTypeGate }

// NormalizeReaderType maps free-form config values onto the known reader types.
func NormalizeReaderType(s string) string {
	switch s {
	case ReaderTypeGate, "gate":
		return ReaderTypeGate
	case ReaderTypeBath, "bath":
		return ReaderTypeBath
	default:
		return ReaderTypeUnknown
	}
}
