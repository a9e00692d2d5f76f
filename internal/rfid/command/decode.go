package command

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
)

// tagHeaderLen covers rssi, antenna, pc and epc_len of one inventory record.
const tagHeaderLen = 5

// DecodeInventory decodes the repeated per-tag records of an inventory payload:
//
//	rssi(1) | antenna(1) | pc(2) | epc_len(1) | epc(epc_len)
//
// On a truncated record the tags decoded so far are returned with the error.
func DecodeInventory(data []byte, at time.Time) ([]models.TagRead, error) {
	var out []models.TagRead
	for off := 0; off < len(data); {
		if len(data)-off < tagHeaderLen {
			return out, fmt.Errorf("inventory record at %d: %d header bytes left", off, len(data)-off)
		}
		rec := data[off:]
		epcLen := int(rec[4])
		if len(rec) < tagHeaderLen+epcLen {
			return out, fmt.Errorf("inventory record at %d: epc needs %d bytes, %d left", off, epcLen, len(rec)-tagHeaderLen)
		}
		out = append(out, models.TagRead{
			EPC:         strings.ToUpper(hex.EncodeToString(rec[tagHeaderLen : tagHeaderLen+epcLen])),
			RSSI:        -int(rec[0]),
			AntennaPort: int(rec[1]),
			PC:          binary.BigEndian.Uint16(rec[2:4]),
			EPCLength:   epcLen,
			Timestamp:   at,
		})
		off += tagHeaderLen + epcLen
	}
	return out, nil
}

// DeviceInfo is the decoded get_device_info payload:
// hw_major | hw_minor | fw_major | fw_minor | serial(rest).
type DeviceInfo struct {
	Hardware string `json:"hardware"`
	Firmware string `json:"firmware"`
	Serial   string `json:"serial"`
}

func DecodeDeviceInfo(data []byte) (DeviceInfo, error) {
	if len(data) < 4 {
		return DeviceInfo{}, fmt.Errorf("device info: want at least 4 bytes, got %d", len(data))
	}
	return DeviceInfo{
		Hardware: fmt.Sprintf("%d.%d", data[0], data[1]),
		Firmware: fmt.Sprintf("%d.%d", data[2], data[3]),
		Serial:   strings.ToUpper(hex.EncodeToString(data[4:])),
	}, nil
}

func DecodePower(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("power: empty payload")
	}
	return int(data[0]), nil
}

func DecodeQueryParams(data []byte) (QueryParams, error) {
	if len(data) < 3 {
		return QueryParams{}, fmt.Errorf("query params: want 3 bytes, got %d", len(data))
	}
	return QueryParams{Q: data[0], Session: data[1], Target: data[2]}, nil
}

// DecodeNetwork decodes ip(4) | mask(4) | gateway(4) | port(2) | mac(6, optional).
func DecodeNetwork(data []byte) (NetworkConfig, error) {
	if len(data) < 14 {
		return NetworkConfig{}, fmt.Errorf("network: want at least 14 bytes, got %d", len(data))
	}
	n := NetworkConfig{
		IP:      netip.AddrFrom4([4]byte(data[0:4])),
		Mask:    netip.AddrFrom4([4]byte(data[4:8])),
		Gateway: netip.AddrFrom4([4]byte(data[8:12])),
		Port:    binary.BigEndian.Uint16(data[12:14]),
	}
	if len(data) >= 20 {
		n.MAC = net.HardwareAddr(data[14:20]).String()
	}
	return n, nil
}

// GPIOState holds input/output levels as bitmasks, bit N for pin N.
type GPIOState struct {
	Inputs  byte `json:"inputs"`
	Outputs byte `json:"outputs"`
}

func (g GPIOState) Input(pin int) bool  { return g.Inputs&(1<<pin) != 0 }
func (g GPIOState) Output(pin int) bool { return g.Outputs&(1<<pin) != 0 }

func DecodeGPIO(data []byte) (GPIOState, error) {
	if len(data) < 2 {
		return GPIOState{}, fmt.Errorf("gpio: want 2 bytes, got %d", len(data))
	}
	return GPIOState{Inputs: data[0], Outputs: data[1]}, nil
}

func DecodeGateMode(data []byte) (GateMode, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("gate mode: empty payload")
	}
	return GateMode(data[0]), nil
}

// AllParams is the reader's full parameter block.
type AllParams struct {
	Address     byte     `json:"address"`
	Protocol    byte     `json:"protocol"`
	WorkMode    GateMode `json:"work_mode"`
	Interface   byte     `json:"interface"`
	BaudRate    byte     `json:"baud_rate"`
	Wiegand     byte     `json:"wiegand"`
	AntennaMask byte     `json:"antenna_mask"`
	Region      byte     `json:"region"`
	Power       byte     `json:"power"`
	Q           byte     `json:"q"`
	Session     byte     `json:"session"`
	Buzzer      bool     `json:"buzzer"`
}

const allParamsLen = 12

func (p AllParams) encode() []byte {
	return []byte{
		p.Address, p.Protocol, byte(p.WorkMode), p.Interface, p.BaudRate, p.Wiegand,
		p.AntennaMask, p.Region, p.Power, p.Q, p.Session, boolByte(p.Buzzer),
	}
}

func DecodeAllParams(data []byte) (AllParams, error) {
	if len(data) < allParamsLen {
		return AllParams{}, fmt.Errorf("all params: want %d bytes, got %d", allParamsLen, len(data))
	}
	return AllParams{
		Address:     data[0],
		Protocol:    data[1],
		WorkMode:    GateMode(data[2]),
		Interface:   data[3],
		BaudRate:    data[4],
		Wiegand:     data[5],
		AntennaMask: data[6],
		Region:      data[7],
		Power:       data[8],
		Q:           data[9],
		Session:     data[10],
		Buzzer:      data[11] != 0,
	}, nil
}
