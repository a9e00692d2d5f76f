package command

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

const (
	MaxPowerDBm = 33

	InventoryByTime  byte = 0x00
	InventoryByCount byte = 0x01
)

// GateMode is the reader's working mode as reported by get/set gate mode.
type GateMode byte

const (
	GateModeAnswer  GateMode = 0x00
	GateModeActive  GateMode = 0x01
	GateModeTrigger GateMode = 0x02
)

func (m GateMode) String() string {
	switch m {
	case GateModeAnswer:
		return "answer"
	case GateModeActive:
		return "active"
	case GateModeTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("mode_%02x", byte(m))
	}
}

// ParseGateMode maps the textual mode names used by the API and CLI.
func ParseGateMode(s string) (GateMode, error) {
	switch s {
	case "answer":
		return GateModeAnswer, nil
	case "active":
		return GateModeActive, nil
	case "trigger":
		return GateModeTrigger, nil
	}
	return 0, fmt.Errorf("unknown gate mode %q", s)
}

func GetDeviceInfo(addr byte) Command {
	return Command{Code: CmdGetDeviceInfo, Addr: addr}
}

// InventoryStart puts the reader into continuous inventory; tag reports are
// then pushed by the device until InventoryStop.
func InventoryStart(addr byte, mode byte, param uint32) Command {
	p := make([]byte, 5)
	p[0] = mode
	binary.BigEndian.PutUint32(p[1:], param)
	return Command{Code: CmdInventoryStart, Addr: addr, Payload: p}
}

// InventoryContinue runs a single inventory round answered by one frame.
func InventoryContinue(addr byte) Command {
	return Command{Code: CmdInventoryContinue, Addr: addr}
}

func InventoryStop(addr byte) Command {
	return Command{Code: CmdInventoryStop, Addr: addr}
}

// QueryParams are the Gen2 query settings.
type QueryParams struct {
	Q       byte `json:"q"`
	Session byte `json:"session"`
	Target  byte `json:"target"`
}

func GetQueryParams(addr byte) Command {
	return Command{Code: CmdGetQueryParams, Addr: addr}
}

func SetQueryParams(addr byte, p QueryParams) (Command, error) {
	if p.Q > 15 {
		return Command{}, fmt.Errorf("q must be 0..15, got %d", p.Q)
	}
	if p.Session > 3 {
		return Command{}, fmt.Errorf("session must be 0..3, got %d", p.Session)
	}
	if p.Target > 1 {
		return Command{}, fmt.Errorf("target must be 0 (A) or 1 (B), got %d", p.Target)
	}
	return Command{Code: CmdSetQueryParams, Addr: addr, Payload: []byte{p.Q, p.Session, p.Target}}, nil
}

func SetPower(addr byte, dbm int) (Command, error) {
	if dbm < 0 || dbm > MaxPowerDBm {
		return Command{}, fmt.Errorf("power must be 0..%d dBm, got %d", MaxPowerDBm, dbm)
	}
	return Command{Code: CmdSetPower, Addr: addr, Payload: []byte{byte(dbm)}}, nil
}

func GetPower(addr byte) Command {
	return Command{Code: CmdGetPower, Addr: addr}
}

// NetworkConfig is the reader's IPv4 configuration.
type NetworkConfig struct {
	IP      netip.Addr `json:"ip"`
	Mask    netip.Addr `json:"mask"`
	Gateway netip.Addr `json:"gateway"`
	Port    uint16     `json:"port"`
	MAC     string     `json:"mac,omitempty"`
}

func GetNetwork(addr byte) Command {
	return Command{Code: CmdGetNetwork, Addr: addr}
}

func SetNetwork(addr byte, n NetworkConfig) (Command, error) {
	if !n.IP.Is4() || !n.Mask.Is4() || !n.Gateway.Is4() {
		return Command{}, fmt.Errorf("ip, mask and gateway must be IPv4")
	}
	if n.Port == 0 {
		return Command{}, fmt.Errorf("port is required")
	}
	p := make([]byte, 0, 14)
	ip, mask, gw := n.IP.As4(), n.Mask.As4(), n.Gateway.As4()
	p = append(p, ip[:]...)
	p = append(p, mask[:]...)
	p = append(p, gw[:]...)
	p = binary.BigEndian.AppendUint16(p, n.Port)
	return Command{Code: CmdSetNetwork, Addr: addr, Payload: p}, nil
}

func GetGPIO(addr byte) Command {
	return Command{Code: CmdGetGPIO, Addr: addr}
}

func SetGPIO(addr byte, pin int, high bool) (Command, error) {
	if pin < 0 || pin > 7 {
		return Command{}, fmt.Errorf("gpio pin must be 0..7, got %d", pin)
	}
	return Command{Code: CmdSetGPIO, Addr: addr, Payload: []byte{byte(pin), boolByte(high)}}, nil
}

// RelayControl closes or opens a relay. holdSeconds of zero keeps the state
// until the next command.
func RelayControl(addr byte, relay int, closed bool, holdSeconds int) (Command, error) {
	if relay < 0 || relay > 3 {
		return Command{}, fmt.Errorf("relay must be 0..3, got %d", relay)
	}
	if holdSeconds < 0 || holdSeconds > 0xFF {
		return Command{}, fmt.Errorf("hold seconds must be 0..255, got %d", holdSeconds)
	}
	return Command{Code: CmdRelayControl, Addr: addr, Payload: []byte{byte(relay), boolByte(closed), byte(holdSeconds)}}, nil
}

func GetGateMode(addr byte) Command {
	return Command{Code: CmdGetGateMode, Addr: addr}
}

func SetGateMode(addr byte, m GateMode) Command {
	return Command{Code: CmdSetGateMode, Addr: addr, Payload: []byte{byte(m)}}
}

func GetAllParams(addr byte) Command {
	return Command{Code: CmdGetAllParams, Addr: addr}
}

func SetAllParams(addr byte, p AllParams) Command {
	return Command{Code: CmdSetAllParams, Addr: addr, Payload: p.encode()}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
