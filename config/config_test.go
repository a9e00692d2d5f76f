package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "tagguard"
kafka:
  host: "localhost"
  port: 9092
  tag_scanned_topic_name: "tag.scanned"
  gate_scan_topic_name: "gate.scan"
redis:
  host: "localhost"
  port: 6379
mqtt:
  broker: "tcp://localhost:1883"
readers:
  - id: "gate-1"
    ip: "192.168.1.200"
    port: 2022
    mode: "active"
    type: "GATE"
    location: "Exit A"
    store_id: 3
  - id: "bath-1"
    ip: "192.168.1.201"
    port: 2022
    mode: "passive"
tagguard:
  grpc_addr: ":50051"
  http_addr: ":8080"
  command_timeout_ms: 2000
  strict_crc: true
  notify_channel: "mqtt"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/tagguard?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "tag.scanned", cfg.Kafka.TagScannedTopicName)
	require.Empty(t, cfg.Kafka.TheftAlertTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)

	require.Len(t, cfg.Readers, 2)
	require.Equal(t, "Exit A", cfg.Readers[0].Location)
	require.NotNil(t, cfg.Readers[0].StoreID)
	require.Equal(t, uint64(3), *cfg.Readers[0].StoreID)
	require.Nil(t, cfg.Readers[1].StoreID)
	require.Equal(t, "passive", cfg.Readers[1].Mode)

	require.Equal(t, ":8080", cfg.TagGuard.HTTPAddr)
	require.Equal(t, 2000, cfg.TagGuard.CommandTimeoutMs)
	require.True(t, cfg.TagGuard.StrictCRC)
	require.Equal(t, "mqtt", cfg.TagGuard.NotifyChannel)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("readers: [:"), 0o600))
	_, err = LoadConfig(p)
	require.Error(t, err)
}
