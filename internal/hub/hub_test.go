package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	id     string
	err    error
	mu     sync.Mutex
	got    []Message
	closed bool
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.got...)
}

func TestBroadcast_PrunesFailingSubscriber(t *testing.T) {
	h := New()
	var subs []*recorder
	for i := 0; i < 4; i++ {
		s := &recorder{id: fmt.Sprintf("s%d", i)}
		subs = append(subs, s)
		h.Connect(s)
	}
	bad := &recorder{id: "bad", err: errors.New("broken pipe")}
	h.Connect(bad)
	require.Equal(t, 5, h.Len())

	n := h.Broadcast(context.Background(), NewMessage(TypeTagScanned, map[string]any{"epc": "ABCD"}))
	require.Equal(t, 4, n)
	require.False(t, h.Has("bad"))
	require.True(t, bad.closed)
	require.Equal(t, 4, h.Len())
	for _, s := range subs {
		got := s.messages()
		require.Len(t, got, 1)
		require.Equal(t, TypeTagScanned, got[0].Type)
	}

	st := h.Stats()
	require.EqualValues(t, 4, st.TotalSent)
	require.EqualValues(t, 1, st.TotalPruned)
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := New()
	s := &recorder{id: "a"}
	h.Connect(s)
	h.Disconnect(s)
	h.Disconnect(s)
	require.Zero(t, h.Len())

	require.Zero(t, h.Broadcast(context.Background(), NewMessage(TypeTheftAlert, nil)))
	require.Empty(t, s.messages())
}

func TestSendPersonal(t *testing.T) {
	h := New()
	ok := &recorder{id: "ok"}
	bad := &recorder{id: "bad", err: errors.New("closed")}
	h.Connect(ok)
	h.Connect(bad)

	require.NoError(t, h.SendPersonal(context.Background(), Message{Type: TypeWelcome}, ok))
	require.Len(t, ok.messages(), 1)

	require.Error(t, h.SendPersonal(context.Background(), Message{Type: TypeWelcome}, bad))
	require.False(t, h.Has("bad"))
	require.True(t, h.Has("ok"))
}

func TestErrorMessage(t *testing.T) {
	m := ErrorMessage("Invalid JSON format")
	require.Equal(t, TypeError, m.Type)
	require.Equal(t, "Invalid JSON format", m.Message)
	require.Nil(t, m.Data)
}
