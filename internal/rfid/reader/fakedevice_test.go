package reader

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/TagGuard/internal/rfid/command"
	"github.com/BearBump/TagGuard/internal/rfid/frame"
)

// fakeDevice is a TCP peer speaking the reader protocol. handle returns the
// raw chunks to write back for each request frame.
type fakeDevice struct {
	ln       net.Listener
	greeting []byte
	handle   func(cmd uint16, payload []byte) [][]byte

	mu       sync.Mutex
	received []uint16
	payloads map[uint16][]byte
}

func newFakeDevice(t *testing.T, greeting []byte, handle func(cmd uint16, payload []byte) [][]byte) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDevice{
		ln:       ln,
		greeting: greeting,
		handle:   handle,
		payloads: make(map[uint16][]byte),
	}
	t.Cleanup(func() { _ = ln.Close() })
	go d.serve()
	return d
}

func (d *fakeDevice) hostPort() (string, int) {
	addr := d.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.serveConn(conn)
	}
}

func (d *fakeDevice) serveConn(conn net.Conn) {
	defer conn.Close()
	if len(d.greeting) > 0 {
		_, _ = conn.Write(d.greeting)
	}
	s := frame.NewStream(true)
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		_, _ = s.Write(buf[:n])
		for {
			r, ok := s.Next()
			if !ok {
				break
			}
			payload := r.Raw[frame.HeaderLen : len(r.Raw)-frame.CRCLen]
			d.mu.Lock()
			d.received = append(d.received, r.Cmd)
			d.payloads[r.Cmd] = append([]byte(nil), payload...)
			d.mu.Unlock()
			for _, out := range d.handle(r.Cmd, payload) {
				if _, err := conn.Write(out); err != nil {
					return
				}
			}
		}
	}
}

func (d *fakeDevice) count(cmd uint16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.received {
		if c == cmd {
			n++
		}
	}
	return n
}

func (d *fakeDevice) payload(cmd uint16) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.payloads[cmd]
}

func reply(cmd uint16, status byte, data ...byte) []byte {
	return frame.MustBuild(cmd, append([]byte{status}, data...), 0x00)
}

var deviceInfoReply = reply(command.CmdGetDeviceInfo, command.StatusSuccess, 1, 2, 3, 4, 0xAB, 0xCD)

// deviceDefaults answers device info and acknowledges every other command.
func deviceDefaults(cmd uint16, _ []byte) [][]byte {
	if cmd == command.CmdGetDeviceInfo {
		return [][]byte{deviceInfoReply}
	}
	return [][]byte{reply(cmd, command.StatusSuccess)}
}

func testOptions() Options {
	return Options{
		ID:             "gate-1",
		ConnectTimeout: time.Second,
		CommandTimeout: 50 * time.Millisecond,
		MaxRetries:     2,
		DrainTimeout:   30 * time.Millisecond,
		StrictCRC:      true,
	}
}

func connectTo(t *testing.T, d *fakeDevice, opts Options) *Conn {
	t.Helper()
	c := New(opts)
	ip, port := d.hostPort()
	require.NoError(t, c.Connect(t.Context(), ip, port))
	t.Cleanup(c.Disconnect)
	return c
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}
