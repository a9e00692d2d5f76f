// Package mqttchannel publishes alert notifications to per-user MQTT topics
// (<prefix>/<user_id>), for store staff handhelds subscribed to their topic.
package mqttchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
)

const (
	qosAtLeastOnce byte = 1

	defaultPublishTimeout = 5 * time.Second
)

// Publisher is the subset of mqtt.Client used for sending.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Channel struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
}

func New(pub Publisher, prefix string) *Channel {
	if prefix == "" {
		prefix = "tagguard/alerts"
	}
	return &Channel{
		pub:     pub,
		prefix:  strings.TrimRight(prefix, "/"),
		timeout: defaultPublishTimeout,
	}
}

// Dial connects to broker with automatic reconnects enabled.
func Dial(broker, clientID string) (mqtt.Client, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err.Error())
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "mqtt connect")
	}
	return c, nil
}

func (c *Channel) Topic(userID uint64) string {
	return fmt.Sprintf("%s/%d", c.prefix, userID)
}

func (c *Channel) Send(ctx context.Context, user *models.User, p notify.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	token := c.pub.Publish(c.Topic(user.ID), qosAtLeastOnce, false, b)
	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "mqtt publish")
	}
	return nil
}
