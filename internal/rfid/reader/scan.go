package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/command"
	"github.com/BearBump/TagGuard/internal/rfid/frame"
)

type ScanState string

const (
	ScanStopped  ScanState = "STOPPED"
	ScanScanning ScanState = "SCANNING"
)

type ScanMode int

const (
	// ScanActive polls with inventory_continue each cycle.
	ScanActive ScanMode = iota
	// ScanPassive only reads the inventory reports the device pushes.
	ScanPassive
)

func (m ScanMode) String() string {
	if m == ScanPassive {
		return "passive"
	}
	return "active"
}

func ParseScanMode(s string) (ScanMode, error) {
	switch s {
	case "", "active":
		return ScanActive, nil
	case "passive":
		return ScanPassive, nil
	}
	return 0, fmt.Errorf("unknown scan mode %q", s)
}

type ScanOptions struct {
	Mode ScanMode
	// Interval is the pause between active inventory rounds.
	Interval time.Duration
}

type scanLoop struct {
	mu       sync.Mutex
	state    ScanState
	stop     chan struct{}
	done     chan struct{}
	stopping bool
	sink     func(frame.Response)
	err      error
}

// consume hands an inventory frame to the running loop. It reports false when
// no loop is running or the frame carries no tag reports.
func (s *scanLoop) consume(r frame.Response) bool {
	if !command.IsInventory(r.Cmd) {
		return false
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return false
	}
	sink(r)
	return true
}

func (c *Conn) ScanState() ScanState {
	c.scan.mu.Lock()
	defer c.scan.mu.Unlock()
	return c.scan.state
}

func (c *Conn) IsScanning() bool { return c.ScanState() == ScanScanning }

// ScanErr returns the error that ended the last scan loop, if any.
func (c *Conn) ScanErr() error {
	c.scan.mu.Lock()
	defer c.scan.mu.Unlock()
	return c.scan.err
}

// StartScanning runs the scan loop in its own goroutine and forwards every
// decoded tag to out. The returned channel is closed when the loop exits.
func (c *Conn) StartScanning(ctx context.Context, opts ScanOptions, out chan<- models.TagRead) (<-chan struct{}, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	c.scan.mu.Lock()
	defer c.scan.mu.Unlock()
	if c.scan.state == ScanScanning {
		return nil, ErrAlreadyScanning
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.scan.state = ScanScanning
	c.scan.stop = stop
	c.scan.done = done
	c.scan.stopping = false
	c.scan.err = nil
	c.scan.sink = func(r frame.Response) { c.forwardTags(ctx, stop, r, out) }

	slog.Info("reader: scanning started", "reader_id", c.opts.ID, "mode", opts.Mode.String())
	go c.runScan(ctx, opts, stop, done, out)
	return done, nil
}

// StopScanning asks the loop to stop and waits for it. The loop checks the
// request between iterations, so an in-flight read completes first.
func (c *Conn) StopScanning() {
	c.scan.mu.Lock()
	if c.scan.state != ScanScanning {
		c.scan.mu.Unlock()
		return
	}
	if !c.scan.stopping {
		c.scan.stopping = true
		close(c.scan.stop)
	}
	done := c.scan.done
	c.scan.mu.Unlock()

	<-done
}

func (c *Conn) runScan(ctx context.Context, opts ScanOptions, stop <-chan struct{}, done chan<- struct{}, out chan<- models.TagRead) {
	var loopErr error
	defer func() {
		c.scan.mu.Lock()
		c.scan.state = ScanStopped
		c.scan.sink = nil
		c.scan.err = loopErr
		c.scan.mu.Unlock()
		close(done)
		slog.Info("reader: scanning stopped", "reader_id", c.opts.ID)
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		var (
			r   frame.Response
			err error
		)
		if opts.Mode == ScanPassive {
			r, err = c.Receive(ctx)
		} else {
			r, err = c.SendCommand(ctx, command.InventoryContinue(c.opts.Address), c.opts.MaxRetries)
		}

		switch {
		case err == nil:
			c.forwardTags(ctx, stop, r, out)
		case errors.Is(err, ErrReadTimeout), errors.Is(err, ErrCommandTimeout):
			slog.Debug("reader: scan cycle timed out", "reader_id", c.opts.ID)
		case ctx.Err() != nil:
			return
		default:
			slog.Error("reader: scan loop failed", "reader_id", c.opts.ID, "error", err.Error())
			loopErr = err
			return
		}

		if opts.Mode == ScanActive && opts.Interval > 0 {
			t := time.NewTimer(opts.Interval)
			select {
			case <-stop:
				t.Stop()
				return
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

// forwardTags decodes an inventory frame and pushes its tags. Complete and
// tag-timeout statuses mean no tags this cycle.
func (c *Conn) forwardTags(ctx context.Context, stop <-chan struct{}, r frame.Response, out chan<- models.TagRead) {
	if !command.IsInventory(r.Cmd) {
		slog.Debug("reader: non-inventory frame ignored by scan loop", "reader_id", c.opts.ID, "cmd", command.Name(r.Cmd))
		return
	}
	switch r.Status {
	case command.StatusInventoryComplete, command.StatusTagTimeout:
		return
	case command.StatusSuccess:
	default:
		slog.Warn("reader: inventory failed",
			"reader_id", c.opts.ID,
			"status", r.Status,
			"description", command.Describe(r.Status),
		)
		return
	}

	tags, err := command.DecodeInventory(r.Data, time.Now().UTC())
	if err != nil {
		slog.Warn("reader: malformed inventory payload", "reader_id", c.opts.ID, "error", err.Error())
	}
	for _, t := range tags {
		t.ReaderID = c.opts.ID
		select {
		case out <- t:
			c.reads.Add(1)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
