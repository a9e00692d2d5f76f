// Package reader drives one UHF reader over TCP: link lifecycle, command
// round trips with retries, device operations and the scan loop.
package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TagGuard/internal/rfid/command"
	"github.com/BearBump/TagGuard/internal/rfid/frame"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 2 * time.Second
	DefaultMaxRetries     = 2
	DefaultDrainTimeout   = 100 * time.Millisecond

	readBufSize = 1024
)

type Options struct {
	// ID names the reader in logs and on emitted tag reads.
	ID      string
	Address byte

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRetries     int
	DrainTimeout   time.Duration
	StrictCRC      bool
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	return o
}

// Conn is a single reader link. Every command, manual or from the scan loop,
// goes through one mutex so only one request is in flight at a time.
type Conn struct {
	opts Options

	mu     sync.Mutex
	conn   net.Conn
	addr   string
	stream *frame.Stream

	connected atomic.Bool
	timeouts  atomic.Int64
	reads     atomic.Int64

	handlerMu sync.RWMutex
	handler   func(frame.Response)

	scan scanLoop
}

func New(opts Options) *Conn {
	return &Conn{
		opts:   opts.withDefaults(),
		stream: frame.NewStream(opts.StrictCRC),
		scan:   scanLoop{state: ScanStopped},
	}
}

func (c *Conn) ID() string { return c.opts.ID }

func (c *Conn) Address() byte { return c.opts.Address }

func (c *Conn) IsConnected() bool { return c.connected.Load() }

// ConsecutiveTimeouts counts read timeouts since the last matched response.
func (c *Conn) ConsecutiveTimeouts() int64 { return c.timeouts.Load() }

// TagsRead counts tag reads forwarded by the scan loop.
func (c *Conn) TagsRead() int64 { return c.reads.Load() }

// OnUnsolicited registers a handler for frames that do not answer the
// command in flight and are not consumed by a running scan loop.
func (c *Conn) OnUnsolicited(fn func(frame.Response)) {
	c.handlerMu.Lock()
	c.handler = fn
	c.handlerMu.Unlock()
}

// Connect opens the link, discards whatever the device had queued and checks
// that it answers get_device_info. On any failure the connection is closed
// and the Conn stays disconnected.
func (c *Conn) Connect(ctx context.Context, ip string, port int) error {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	c.mu.Lock()
	c.closeLocked()
	d := net.Dialer{Timeout: c.opts.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Unlock()
		return &ConnectionError{Addr: addr, Err: err}
	}
	c.conn = nc
	c.addr = addr
	c.stream.Reset()
	if n := c.drainLocked(); n > 0 {
		slog.Debug("reader: drained stale bytes", "reader_id", c.opts.ID, "bytes", n)
	}
	c.mu.Unlock()

	info, err := c.GetReaderInfo(ctx)
	if err != nil {
		c.mu.Lock()
		c.closeLocked()
		c.mu.Unlock()
		return &ConnectionError{Addr: addr, Err: err}
	}

	c.timeouts.Store(0)
	c.connected.Store(true)
	slog.Info("reader connected",
		"reader_id", c.opts.ID,
		"addr", addr,
		"hardware", info.Hardware,
		"firmware", info.Firmware,
		"serial", info.Serial,
	)
	return nil
}

// Disconnect stops scanning, then closes the socket. Close errors are
// ignored; the Conn is always disconnected afterwards.
func (c *Conn) Disconnect() {
	c.StopScanning()

	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

// SendCommand writes cmd once and waits for the frame answering it. Each read
// timeout consumes one retry; after maxRetries the call fails with
// ErrCommandTimeout and the link stays up. Frames for other commands are
// routed as unsolicited reports.
func (c *Conn) SendCommand(ctx context.Context, cmd command.Command, maxRetries int) (frame.Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return frame.Response{}, err
	}

	c.mu.Lock()
	resp, extra, err := c.roundTripLocked(ctx, cmd.Code, raw, maxRetries)
	c.mu.Unlock()

	c.dispatch(extra)
	return resp, err
}

// Receive returns the next frame pushed by the device, or ErrReadTimeout when
// none arrives within the command timeout.
func (c *Conn) Receive(ctx context.Context) (frame.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return frame.Response{}, ErrNotConnected
	}
	buf := make([]byte, readBufSize)
	for {
		if r, ok := c.stream.Next(); ok {
			return r, nil
		}
		if err := ctx.Err(); err != nil {
			return frame.Response{}, err
		}
		if err := c.readLocked(ctx, buf); err != nil {
			if isTimeout(err) {
				return frame.Response{}, ErrReadTimeout
			}
			return frame.Response{}, err
		}
	}
}

func (c *Conn) roundTripLocked(ctx context.Context, code uint16, raw []byte, maxRetries int) (frame.Response, []frame.Response, error) {
	if c.conn == nil {
		return frame.Response{}, nil, ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(c.deadline(ctx))
	if _, err := c.conn.Write(raw); err != nil {
		addr := c.addr
		c.closeLocked()
		return frame.Response{}, nil, &ConnectionError{Addr: addr, Err: err}
	}

	var extra []frame.Response
	buf := make([]byte, readBufSize)
	attempts := 0
	for {
		for {
			r, ok := c.stream.Next()
			if !ok {
				break
			}
			if r.Cmd == code {
				c.timeouts.Store(0)
				return r, extra, nil
			}
			extra = append(extra, r)
		}
		if err := ctx.Err(); err != nil {
			return frame.Response{}, extra, err
		}

		err := c.readLocked(ctx, buf)
		if err == nil {
			continue
		}
		if !isTimeout(err) {
			return frame.Response{}, extra, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return frame.Response{}, extra, ctxErr
		}
		attempts++
		c.timeouts.Add(1)
		if attempts > maxRetries {
			return frame.Response{}, extra, fmt.Errorf("%s after %d attempts: %w", command.Name(code), attempts, ErrCommandTimeout)
		}
		slog.Debug("reader: response timeout, waiting again",
			"reader_id", c.opts.ID,
			"cmd", command.Name(code),
			"attempt", attempts,
		)
	}
}

// readLocked reads one chunk into the stream. A text reply at the start of a
// response is reported as ErrWrongProtocol; a broken socket closes the link.
func (c *Conn) readLocked(ctx context.Context, buf []byte) error {
	_ = c.conn.SetReadDeadline(c.deadline(ctx))
	n, err := c.conn.Read(buf)
	if n > 0 {
		if len(c.stream.Buffered()) == 0 && looksLikeText(buf[:n]) {
			c.stream.Reset()
			return ErrWrongProtocol
		}
		_, _ = c.stream.Write(buf[:n])
	}
	if err == nil || isTimeout(err) {
		return err
	}

	addr := c.addr
	c.closeLocked()
	return &ConnectionError{Addr: addr, Err: err}
}

func (c *Conn) drainLocked() int {
	buf := make([]byte, readBufSize)
	total := 0
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.DrainTimeout))
	for {
		n, err := c.conn.Read(buf)
		total += n
		if err != nil {
			break
		}
	}
	_ = c.conn.SetReadDeadline(time.Time{})
	return total
}

func (c *Conn) closeLocked() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Debug("reader: close", "reader_id", c.opts.ID, "error", err.Error())
		}
		c.conn = nil
	}
	c.stream.Reset()
	c.connected.Store(false)
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.opts.CommandTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (c *Conn) dispatch(frames []frame.Response) {
	for _, r := range frames {
		if c.scan.consume(r) {
			continue
		}
		c.handlerMu.RLock()
		h := c.handler
		c.handlerMu.RUnlock()
		if h != nil {
			h(r)
			continue
		}
		slog.Debug("reader: unsolicited frame dropped",
			"reader_id", c.opts.ID,
			"cmd", command.Name(r.Cmd),
			"status", r.Status,
		)
	}
}

func looksLikeText(b []byte) bool {
	return bytes.HasPrefix(b, []byte("HTTP/")) || (len(b) > 0 && b[0] == '{')
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
