// Package scanner keeps one reader link alive: it connects with backoff,
// runs the scan loop and resets the link when it stops answering.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
)

// Link is the part of *reader.Conn the supervisor drives.
type Link interface {
	ID() string
	Connect(ctx context.Context, ip string, port int) error
	Disconnect()
	IsConnected() bool
	ConsecutiveTimeouts() int64
	TagsRead() int64
	ScanState() reader.ScanState
	ScanErr() error
	StartScanning(ctx context.Context, opts reader.ScanOptions, out chan<- models.TagRead) (<-chan struct{}, error)
	StopScanning()
}

const (
	reasonShutdown = "shutdown"
	reasonPaused   = "paused"
	reasonResumed  = "resumed"
)

type Supervisor struct {
	link Link
	ip   string
	port int
	out  chan<- models.TagRead

	planner *Planner

	scanOpts               reader.ScanOptions
	checkInterval          time.Duration
	maxConsecutiveTimeouts int64

	onState func(readerID string, connected bool)

	triggerCh chan struct{}
	ctrlCh    chan struct{}
	paused    atomic.Bool

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalConnects       atomic.Int64
	totalReconnects     atomic.Int64
	totalErrors         atomic.Int64
	failStreak          atomic.Int32
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(link Link, ip string, port int, out chan<- models.TagRead) *Supervisor {
	return &Supervisor{
		link:                   link,
		ip:                     ip,
		port:                   port,
		out:                    out,
		planner:                DefaultPlanner(),
		scanOpts:               reader.ScanOptions{Mode: reader.ScanActive, Interval: 100 * time.Millisecond},
		checkInterval:          500 * time.Millisecond,
		maxConsecutiveTimeouts: 10,
		triggerCh:              make(chan struct{}, 1),
		ctrlCh:                 make(chan struct{}, 1),
		startedAtUnixNano:      time.Now().UTC().UnixNano(),
	}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (s *Supervisor) WithSettings(scan reader.ScanOptions, checkInterval time.Duration, maxConsecutiveTimeouts int64) *Supervisor {
	s.scanOpts.Mode = scan.Mode
	if scan.Interval > 0 {
		s.scanOpts.Interval = scan.Interval
	}
	if checkInterval > 0 {
		s.checkInterval = checkInterval
	}
	if maxConsecutiveTimeouts > 0 {
		s.maxConsecutiveTimeouts = maxConsecutiveTimeouts
	}
	return s
}

func (s *Supervisor) WithPlanner(cfg PlannerConfig) *Supervisor {
	s.planner = NewPlanner(cfg, nil)
	return s
}

// OnStateChange registers a callback fired when the link goes up or down.
func (s *Supervisor) OnStateChange(fn func(readerID string, connected bool)) *Supervisor {
	s.onState = fn
	return s
}

func (s *Supervisor) ReaderID() string { return s.link.ID() }

// Trigger skips the current reconnect backoff (best-effort, non-blocking).
func (s *Supervisor) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Pause stops scanning but keeps the link open for device commands.
func (s *Supervisor) Pause() {
	s.paused.Store(true)
	s.signal()
}

func (s *Supervisor) Resume() {
	s.paused.Store(false)
	s.signal()
}

func (s *Supervisor) Paused() bool { return s.paused.Load() }

func (s *Supervisor) signal() {
	select {
	case s.ctrlCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	ReaderID            string     `json:"readerId"`
	StartedAt           time.Time  `json:"startedAt"`
	LastCycleAt         *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt       *time.Time `json:"lastTriggerAt,omitempty"`
	Connected           bool       `json:"connected"`
	ScanState           string     `json:"scanState"`
	Paused              bool       `json:"paused"`
	TotalConnects       int64      `json:"totalConnects"`
	TotalReconnects     int64      `json:"totalReconnects"`
	TotalErrors         int64      `json:"totalErrors"`
	TagsRead            int64      `json:"tagsRead"`
	ConsecutiveTimeouts int64      `json:"consecutiveTimeouts"`
	LastError           string     `json:"lastError,omitempty"`
}

func (s *Supervisor) Stats() Stats {
	st := Stats{
		ReaderID:            s.link.ID(),
		StartedAt:           time.Unix(0, s.startedAtUnixNano).UTC(),
		Connected:           s.link.IsConnected(),
		ScanState:           string(s.link.ScanState()),
		Paused:              s.paused.Load(),
		TotalConnects:       s.totalConnects.Load(),
		TotalReconnects:     s.totalReconnects.Load(),
		TotalErrors:         s.totalErrors.Load(),
		TagsRead:            s.link.TagsRead(),
		ConsecutiveTimeouts: s.link.ConsecutiveTimeouts(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

// Run blocks until ctx is cancelled. The link is disconnected on return.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.link.Disconnect()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

		if err := s.runOnce(ctx); err != nil {
			n := s.failStreak.Add(1)
			delay := s.planner.BackoffDelay(n)
			s.recordError(err)
			slog.Warn("reader link failed",
				"reader_id", s.link.ID(),
				"attempt", n,
				"retry_in", delay.String(),
				"error", err.Error(),
			)
			if !s.wait(ctx, delay) {
				return ctx.Err()
			}
		}
	}
}

// runOnce connects, scans until the link must be reset, then disconnects.
// While paused the link stays open and idle.
func (s *Supervisor) runOnce(ctx context.Context) error {
	if err := s.link.Connect(ctx, s.ip, s.port); err != nil {
		return err
	}
	s.failStreak.Store(0)
	s.totalConnects.Add(1)
	s.notify(true)
	defer func() {
		s.link.Disconnect()
		s.notify(false)
	}()

	for {
		var reason string
		if s.paused.Load() {
			reason = s.idle(ctx)
		} else {
			done, err := s.link.StartScanning(ctx, s.scanOpts, s.out)
			if err != nil {
				return err
			}
			reason = s.watch(ctx, done)
		}

		switch reason {
		case reasonPaused:
			s.link.StopScanning()
			slog.Info("scanning paused", "reader_id", s.link.ID())
			continue
		case reasonResumed:
			slog.Info("scanning resumed", "reader_id", s.link.ID())
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		s.totalReconnects.Add(1)
		slog.Warn("reader link reset", "reader_id", s.link.ID(), "reason", reason)
		return s.link.ScanErr()
	}
}

func (s *Supervisor) watch(ctx context.Context, done <-chan struct{}) string {
	t := time.NewTicker(s.checkInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return reasonShutdown
		case <-done:
			return "scan loop ended"
		case <-s.ctrlCh:
			if s.paused.Load() {
				return reasonPaused
			}
		case <-t.C:
			if n := s.link.ConsecutiveTimeouts(); n >= s.maxConsecutiveTimeouts {
				return "consecutive timeouts"
			}
		}
	}
}

func (s *Supervisor) idle(ctx context.Context) string {
	t := time.NewTicker(s.checkInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return reasonShutdown
		case <-s.ctrlCh:
			if !s.paused.Load() {
				return reasonResumed
			}
		case <-t.C:
			if !s.link.IsConnected() {
				return "link lost while paused"
			}
			if n := s.link.ConsecutiveTimeouts(); n >= s.maxConsecutiveTimeouts {
				return "consecutive timeouts"
			}
		}
	}
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-s.triggerCh:
		return true
	}
}

func (s *Supervisor) notify(connected bool) {
	if s.onState != nil {
		s.onState(s.link.ID(), connected)
	}
}

func (s *Supervisor) recordError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
