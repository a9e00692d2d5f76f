package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/TagGuard/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandlerAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch message")
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_ConsumeGateScans_SkipsBadMessages(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Value: []byte("{not json")},
			{Value: []byte(`{"reader_id":"gate-1"}`)},
			{Value: []byte(`{"epc":" e2000001 ","reader_id":"gate-1"}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.GateScanRequested
	err := c.ConsumeGateScans(context.Background(), func(_ context.Context, req messages.GateScanRequested) error {
		got = append(got, req)
		return nil
	})
	require.Error(t, err)
	require.Len(t, fr.committed, 3)
	require.Equal(t, []messages.GateScanRequested{{EPC: "E2000001", ReaderID: "gate-1"}}, got)
}

func TestConsumer_ConsumeGateScans_HandlerErrorKeepsOffset(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Value: []byte(`{"epc":"E1","reader_id":"gate-1"}`)}}}
	c := newConsumerWithReader(fr)

	want := errors.New("db down")
	err := c.ConsumeGateScans(context.Background(), func(context.Context, messages.GateScanRequested) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestDecodeGateScan(t *testing.T) {
	cases := map[string]string{
		"malformed": "[1,2]",
		"no epc":    `{"epc":"  ","reader_id":"gate-1"}`,
		"no reader": `{"epc":"E1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeGateScan([]byte(raw))
			require.Error(t, err)
		})
	}

	req, err := DecodeGateScan([]byte(`{"epc":"abcd","reader_id":"gate-2"}`))
	require.NoError(t, err)
	require.Equal(t, "ABCD", req.EPC)
	require.Equal(t, "gate-2", req.ReaderID)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
