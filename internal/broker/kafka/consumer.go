package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TagGuard/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads exit-gate scan requests published by checkout terminals
// and gate controllers.
type Consumer struct {
	r     messageReader
	topic string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxWait:           time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{r: kafka.NewReader(cfg), topic: topic}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it only after the
// handler succeeds. A handler error stops consumption without committing.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeGateScans decodes gate scan requests and passes the valid ones to
// handler. Malformed or incomplete requests are logged and committed so one
// bad producer cannot stall the partition.
func (c *Consumer) ConsumeGateScans(ctx context.Context, handler func(ctx context.Context, req messages.GateScanRequested) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		req, err := DecodeGateScan(value)
		if err != nil {
			slog.Warn("skipping gate scan message", "error", err.Error(), "topic", c.topic, "key", string(key))
			return nil
		}
		return handler(ctx, req)
	})
}

// DecodeGateScan parses one gate scan request. The EPC is normalized to
// upper-case hex.
func DecodeGateScan(value []byte) (messages.GateScanRequested, error) {
	var req messages.GateScanRequested
	if err := json.Unmarshal(value, &req); err != nil {
		return req, errors.Wrap(err, "decode gate scan")
	}
	req.EPC = strings.ToUpper(strings.TrimSpace(req.EPC))
	req.ReaderID = strings.TrimSpace(req.ReaderID)
	if req.EPC == "" {
		return req, errors.New("gate scan without epc")
	}
	if req.ReaderID == "" {
		return req, errors.New("gate scan without reader_id")
	}
	return req, nil
}
