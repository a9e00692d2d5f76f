package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	scans      int
	stops      int
	connected  bool
	done       chan struct{}
	scanErr    error

	timeouts atomic.Int64
}

func (l *fakeLink) ID() string { return "gate-1" }

func (l *fakeLink) Connect(ctx context.Context, ip string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++
	if l.connectErr != nil {
		return l.connectErr
	}
	l.connected = true
	l.timeouts.Store(0)
	return nil
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	if l.done != nil {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
}

func (l *fakeLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) ConsecutiveTimeouts() int64 { return l.timeouts.Load() }

func (l *fakeLink) TagsRead() int64 { return 0 }

func (l *fakeLink) ScanState() reader.ScanState { return reader.ScanStopped }

func (l *fakeLink) ScanErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scanErr
}

func (l *fakeLink) StartScanning(ctx context.Context, opts reader.ScanOptions, out chan<- models.TagRead) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scans++
	l.done = make(chan struct{})
	return l.done, nil
}

func (l *fakeLink) StopScanning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
	if l.done != nil {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
}

func (l *fakeLink) endScan(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scanErr = err
	close(l.done)
}

func (l *fakeLink) counts() (connects, scans int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects, l.scans
}

func fastPlanner() PlannerConfig {
	return PlannerConfig{Backoff1: time.Millisecond, Backoff2: time.Millisecond, Backoff3: time.Millisecond, Backoff4: time.Millisecond}
}

func TestSupervisor_Run_StopsOnContextCancel(t *testing.T) {
	link := &fakeLink{connectErr: errors.New("connection refused")}
	s := New(link, "127.0.0.1", 2022, make(chan models.TagRead)).WithPlanner(fastPlanner())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	connects, scans := link.counts()
	require.GreaterOrEqual(t, connects, 2)
	require.Zero(t, scans)

	st := s.Stats()
	require.Equal(t, "gate-1", st.ReaderID)
	require.GreaterOrEqual(t, st.TotalErrors, int64(2))
	require.Equal(t, "connection refused", st.LastError)
	require.NotNil(t, st.LastCycleAt)
	require.False(t, st.Connected)
}

func TestSupervisor_ResetsLinkOnConsecutiveTimeouts(t *testing.T) {
	link := &fakeLink{}
	var (
		mu     sync.Mutex
		states []bool
	)
	s := New(link, "127.0.0.1", 2022, make(chan models.TagRead)).
		WithPlanner(fastPlanner()).
		WithSettings(reader.ScanOptions{}, time.Millisecond, 3).
		OnStateChange(func(id string, connected bool) {
			mu.Lock()
			states = append(states, connected)
			mu.Unlock()
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { _, scans := link.counts(); return scans == 1 }, time.Second, time.Millisecond)
	link.timeouts.Store(3)
	require.Eventually(t, func() bool { _, scans := link.counts(); return scans == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	require.GreaterOrEqual(t, len(states), 3)
	require.Equal(t, []bool{true, false, true}, states[:3])
	mu.Unlock()
	require.EqualValues(t, 1, s.Stats().TotalReconnects)
}

func TestSupervisor_ReconnectsWhenScanLoopFails(t *testing.T) {
	link := &fakeLink{}
	s := New(link, "127.0.0.1", 2022, make(chan models.TagRead)).
		WithPlanner(fastPlanner()).
		WithSettings(reader.ScanOptions{}, time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { _, scans := link.counts(); return scans == 1 }, time.Second, time.Millisecond)
	link.endScan(reader.ErrWrongProtocol)
	require.Eventually(t, func() bool { connects, _ := link.counts(); return connects >= 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.Stats().LastError == reader.ErrWrongProtocol.Error() }, time.Second, time.Millisecond)
}

func TestSupervisor_TriggerSkipsBackoff(t *testing.T) {
	link := &fakeLink{connectErr: errors.New("no route to host")}
	s := New(link, "127.0.0.1", 2022, make(chan models.TagRead)).
		WithPlanner(PlannerConfig{Backoff1: time.Hour, Backoff2: time.Hour, Backoff3: time.Hour, Backoff4: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { connects, _ := link.counts(); return connects == 1 }, time.Second, time.Millisecond)
	s.Trigger()
	require.Eventually(t, func() bool { connects, _ := link.counts(); return connects == 2 }, time.Second, time.Millisecond)
	require.NotNil(t, s.Stats().LastTriggerAt)
}

func TestSupervisor_PauseKeepsLinkOpen(t *testing.T) {
	link := &fakeLink{}
	s := New(link, "127.0.0.1", 2022, make(chan models.TagRead)).
		WithPlanner(fastPlanner()).
		WithSettings(reader.ScanOptions{}, time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { _, scans := link.counts(); return scans == 1 }, time.Second, time.Millisecond)

	s.Pause()
	require.Eventually(t, func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return link.stops == 1
	}, time.Second, time.Millisecond)
	require.True(t, link.IsConnected())
	require.True(t, s.Stats().Paused)

	s.Resume()
	require.Eventually(t, func() bool { _, scans := link.counts(); return scans == 2 }, time.Second, time.Millisecond)
	connects, _ := link.counts()
	require.Equal(t, 1, connects)
	require.Zero(t, s.Stats().TotalReconnects)
}
