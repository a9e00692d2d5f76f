// Package command holds the reader's command and status tables, typed
// command builders and payload decoders. Nothing here performs I/O.
package command

import (
	"fmt"

	"github.com/BearBump/TagGuard/internal/rfid/frame"
)

// Command codes.
const (
	CmdInventoryStart    uint16 = 0x0001
	CmdInventoryStop     uint16 = 0x0002
	CmdInventoryContinue uint16 = 0x0003

	CmdGetQueryParams uint16 = 0x0010
	CmdSetQueryParams uint16 = 0x0011

	CmdSetPower uint16 = 0x0050
	CmdGetPower uint16 = 0x0051

	CmdGetNetwork uint16 = 0x0060
	CmdSetNetwork uint16 = 0x0061

	CmdGetDeviceInfo uint16 = 0x0070
	CmdSetAllParams  uint16 = 0x0071
	CmdGetAllParams  uint16 = 0x0072

	CmdGetGPIO      uint16 = 0x0080
	CmdSetGPIO      uint16 = 0x0081
	CmdRelayControl uint16 = 0x0082

	CmdGetGateMode uint16 = 0x0090
	CmdSetGateMode uint16 = 0x0091
)

// Status codes carried in the first payload byte of a response.
const (
	StatusSuccess           byte = 0x00
	StatusWrongParam        byte = 0x01
	StatusCmdFailed         byte = 0x02
	StatusNotSupported      byte = 0x03
	StatusCRCError          byte = 0x04
	StatusInventoryComplete byte = 0x12
	StatusTagTimeout        byte = 0x14
	StatusTagDataError      byte = 0x15
	StatusOtherError        byte = 0xFF
)

var statusText = map[byte]string{
	StatusSuccess:           "Success",
	StatusWrongParam:        "Invalid parameter",
	StatusCmdFailed:         "Command execution failed",
	StatusNotSupported:      "Command not supported",
	StatusCRCError:          "CRC error in request",
	StatusInventoryComplete: "Inventory complete",
	StatusTagTimeout:        "Tag response timeout",
	StatusTagDataError:      "Tag data error",
	StatusOtherError:        "Unspecified device error",
}

var cmdNames = map[uint16]string{
	CmdInventoryStart:    "inventory_start",
	CmdInventoryStop:     "inventory_stop",
	CmdInventoryContinue: "inventory_continue",
	CmdGetQueryParams:    "get_query_params",
	CmdSetQueryParams:    "set_query_params",
	CmdSetPower:          "set_power",
	CmdGetPower:          "get_power",
	CmdGetNetwork:        "get_network",
	CmdSetNetwork:        "set_network",
	CmdGetDeviceInfo:     "get_device_info",
	CmdSetAllParams:      "set_all_params",
	CmdGetAllParams:      "get_all_params",
	CmdGetGPIO:           "get_gpio",
	CmdSetGPIO:           "set_gpio",
	CmdRelayControl:      "relay_control",
	CmdGetGateMode:       "get_gate_mode",
	CmdSetGateMode:       "set_gate_mode",
}

// Describe returns a human readable text for a status byte.
func Describe(status byte) string {
	if s, ok := statusText[status]; ok {
		return s
	}
	return "Unknown status"
}

// IsFailure reports whether status belongs to the generic failure bucket.
func IsFailure(status byte) bool {
	switch status {
	case StatusSuccess, StatusInventoryComplete, StatusTagTimeout:
		return false
	default:
		return true
	}
}

// Name returns the symbolic name of a command code.
func Name(code uint16) string {
	if s, ok := cmdNames[code]; ok {
		return s
	}
	return fmt.Sprintf("cmd_%04x", code)
}

// IsInventory reports whether frames with this code carry tag reports.
func IsInventory(code uint16) bool {
	return code == CmdInventoryStart || code == CmdInventoryContinue
}

// Command is an immutable request to the reader.
type Command struct {
	Code    uint16
	Addr    byte
	Payload []byte
}

// Bytes serializes the command into a wire frame.
func (c Command) Bytes() ([]byte, error) {
	return frame.Build(c.Code, c.Payload, c.Addr)
}

func (c Command) String() string {
	return fmt.Sprintf("%s(addr=%02X, %d bytes)", Name(c.Code), c.Addr, len(c.Payload))
}
