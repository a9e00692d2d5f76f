// Package frame implements the reader's binary framing:
//
//	0xCF | addr | cmd_hi | cmd_lo | len | payload(len) | crc_hi | crc_lo
//
// The first payload byte of a device response is its status code.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Head byte = 0xCF

	// HeaderLen covers head, addr, cmd and len.
	HeaderLen = 5
	CRCLen    = 2
	MinLen    = 6

	// BroadcastAddr addresses every reader on the link.
	BroadcastAddr byte = 0xFF

	StatusSuccess byte = 0x00

	crcPreset uint16 = 0xFFFF
	crcPoly   uint16 = 0x8408
)

var (
	ErrProtocol    = errors.New("frame: protocol error")
	ErrShortFrame  = fmt.Errorf("%w: frame shorter than %d bytes", ErrProtocol, MinLen)
	ErrBadHead     = fmt.Errorf("%w: bad head byte", ErrProtocol)
	ErrTruncated   = fmt.Errorf("%w: declared length exceeds buffer", ErrProtocol)
	ErrCRCMismatch = fmt.Errorf("%w: crc mismatch", ErrProtocol)
	ErrTooLarge    = errors.New("frame: payload longer than 255 bytes")
)

// Response is one decoded device frame.
type Response struct {
	Addr    byte
	Cmd     uint16
	Status  byte
	Data    []byte
	Success bool
	// Raw is the complete frame as received.
	Raw []byte
}

// CRC16 is the reflected CRC-16 (preset 0xFFFF, polynomial 0x8408) used by the reader.
func CRC16(b []byte) uint16 {
	crc := crcPreset
	for _, v := range b {
		crc ^= uint16(v)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Build serializes a command frame. Payloads over 255 bytes cannot be expressed
// in the one-byte length field.
func Build(cmd uint16, data []byte, addr byte) ([]byte, error) {
	if len(data) > 0xFF {
		return nil, ErrTooLarge
	}
	buf := make([]byte, 0, HeaderLen+len(data)+CRCLen)
	buf = append(buf, Head, addr, byte(cmd>>8), byte(cmd), byte(len(data)))
	buf = append(buf, data...)
	return binary.BigEndian.AppendUint16(buf, CRC16(buf)), nil
}

// MustBuild is Build for payloads known to fit.
func MustBuild(cmd uint16, data []byte, addr byte) []byte {
	b, err := Build(cmd, data, addr)
	if err != nil {
		panic(err)
	}
	return b
}

// FrameLen reports the total length of the frame starting at buf[0], or false
// when the header is not buffered yet.
func FrameLen(buf []byte) (int, bool) {
	if len(buf) < HeaderLen {
		return 0, false
	}
	return HeaderLen + int(buf[4]) + CRCLen, true
}

// Parse decodes a single frame at the start of buf. Bytes after the frame are ignored.
func Parse(buf []byte, strictCRC bool) (Response, error) {
	if len(buf) < MinLen {
		return Response{}, ErrShortFrame
	}
	if buf[0] != Head {
		return Response{}, ErrBadHead
	}
	n, _ := FrameLen(buf)
	if n > len(buf) {
		return Response{}, ErrTruncated
	}
	if strictCRC {
		want := binary.BigEndian.Uint16(buf[n-CRCLen : n])
		if got := CRC16(buf[:n-CRCLen]); got != want {
			return Response{}, fmt.Errorf("%w: got %04X want %04X", ErrCRCMismatch, got, want)
		}
	}

	r := Response{
		Addr:   buf[1],
		Cmd:    binary.BigEndian.Uint16(buf[2:4]),
		Status: StatusSuccess,
		Raw:    append([]byte(nil), buf[:n]...),
	}
	payload := buf[HeaderLen : n-CRCLen]
	if len(payload) > 0 {
		r.Status = payload[0]
		r.Data = append([]byte(nil), payload[1:]...)
	}
	r.Success = r.Status == StatusSuccess
	return r, nil
}
