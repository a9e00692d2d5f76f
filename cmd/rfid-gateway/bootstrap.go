package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TagGuard/config"
	"github.com/BearBump/TagGuard/internal/api/rfidapi"
	"github.com/BearBump/TagGuard/internal/broker/kafka"
	"github.com/BearBump/TagGuard/internal/cache"
	"github.com/BearBump/TagGuard/internal/cache/rediscache"
	"github.com/BearBump/TagGuard/internal/hub"
	"github.com/BearBump/TagGuard/internal/integrations/catalog"
	"github.com/BearBump/TagGuard/internal/integrations/labels"
	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/integrations/notify/logchannel"
	"github.com/BearBump/TagGuard/internal/integrations/notify/mqttchannel"
	"github.com/BearBump/TagGuard/internal/integrations/notify/webhook"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/rfid/frame"
	"github.com/BearBump/TagGuard/internal/rfid/reader"
	"github.com/BearBump/TagGuard/internal/services/ingest"
	"github.com/BearBump/TagGuard/internal/services/scanner"
	"github.com/BearBump/TagGuard/internal/services/theft"
	"github.com/BearBump/TagGuard/internal/storage/memstore"
	"github.com/BearBump/TagGuard/internal/storage/pgstore"
	"github.com/pkg/errors"
	"google.golang.org/grpc/health"
)

// gatewayStore is everything the gateway needs from persistence. Both
// *pgstore.Storage and *memstore.Storage satisfy it.
type gatewayStore interface {
	ingest.Store
	theft.Store
	catalog.Store
	labels.Store
	rfidapi.Tags
	UpsertReader(ctx context.Context, g models.GateContext) error
}

type gatewayFactories struct {
	newStore       func(cfg *config.Config) (store gatewayStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) (ingest.Publisher, func())
	newConsumer    func(cfg *config.Config, topic, group string) (kafkaConsumer, func())
	newCache       func(cfg *config.Config) (cache.BytesCache, func())
	newRateLimiter func(cfg *config.Config) (rfidapi.Limiter, func())
	newChannel     func(cfg *config.Config) (notify.Channel, func(), error)
}

func defaultGatewayFactories() gatewayFactories {
	return gatewayFactories{
		newStore: func(cfg *config.Config) (gatewayStore, func(), error) {
			if cfg.Database.Host == "" {
				slog.Warn("database host is not configured, using in-memory store")
				st := memstore.New()
				return st, st.Close, nil
			}
			st, err := openPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (ingest.Publisher, func()) {
			if cfg.Kafka.Host == "" {
				return nil, nil
			}
			p := kafka.NewProducer(kafkaBrokers(cfg))
			return p, func() { _ = p.Close() }
		},
		newConsumer: func(cfg *config.Config, topic, group string) (kafkaConsumer, func()) {
			if cfg.Kafka.Host == "" {
				return nil, nil
			}
			c := kafka.NewConsumer(kafkaBrokers(cfg), topic, group)
			return c, func() { _ = c.Close() }
		},
		newCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil
			}
			rc := rediscache.New(redisAddr(cfg))
			return rc, func() { _ = rc.Close() }
		},
		newRateLimiter: func(cfg *config.Config) (rfidapi.Limiter, func()) {
			if cfg.Redis.Host == "" {
				return nil, nil
			}
			rl := rediscache.NewRateLimiter(redisAddr(cfg))
			return rl, func() { _ = rl.Close() }
		},
		newChannel: func(cfg *config.Config) (notify.Channel, func(), error) {
			switch strings.ToLower(cfg.TagGuard.NotifyChannel) {
			case "", "log":
				return logchannel.New(), nil, nil
			case "webhook":
				if cfg.TagGuard.NotifyWebhookURL == "" {
					return nil, nil, errors.New("notify_webhook_url is required for the webhook channel")
				}
				return webhook.New(cfg.TagGuard.NotifyWebhookURL), nil, nil
			case "mqtt":
				if cfg.MQTT.Broker == "" {
					return nil, nil, errors.New("mqtt.broker is required for the mqtt channel")
				}
				clientID := cfg.MQTT.ClientID
				if clientID == "" {
					clientID = "tagguard-gateway"
				}
				client, err := mqttchannel.Dial(cfg.MQTT.Broker, clientID)
				if err != nil {
					return nil, nil, err
				}
				return mqttchannel.New(client, cfg.MQTT.AlertTopicPrefix), func() { client.Disconnect(250) }, nil
			default:
				return nil, nil, fmt.Errorf("unknown notify channel %q", cfg.TagGuard.NotifyChannel)
			}
		},
	}
}

func kafkaBrokers(cfg *config.Config) []string {
	return []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgstore.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	return nil, fmt.Errorf("postgres is not ready after %s: %w", wait, lastErr)
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// readerOptions maps the shared command settings onto one reader. An unset
// command_max_retries gets reader.DefaultMaxRetries, a negative one disables
// retries.
func readerOptions(cfg *config.Config, id string, addr byte) reader.Options {
	retries := cfg.TagGuard.CommandMaxRetries
	switch {
	case retries == 0:
		retries = reader.DefaultMaxRetries
	case retries < 0:
		retries = 0
	}
	return reader.Options{
		ID:             id,
		Address:        addr,
		ConnectTimeout: millis(cfg.TagGuard.ConnectTimeoutMs),
		CommandTimeout: millis(cfg.TagGuard.CommandTimeoutMs),
		MaxRetries:     retries,
		StrictCRC:      cfg.TagGuard.StrictCRC,
	}
}

// buildGateway wires every component from cfg. The returned close func
// releases whatever the factories opened, in reverse order.
func buildGateway(ctx context.Context, cfg *config.Config, f gatewayFactories) (*gateway, gatewayOpts, func(), error) {
	opts := gatewayOpts{
		grpcAddr:      cfg.TagGuard.GRPCAddr,
		httpAddr:      cfg.TagGuard.HTTPAddr,
		gateScanTopic: cfg.Kafka.GateScanTopicName,
		consumerGroup: cfg.TagGuard.KafkaConsumerGroup,
	}
	if opts.grpcAddr == "" {
		opts.grpcAddr = ":50051"
	}
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.gateScanTopic == "" {
		opts.gateScanTopic = "gate.scan"
	}
	if opts.consumerGroup == "" {
		opts.consumerGroup = "rfid-gateway"
	}
	topics := ingest.Topics{
		TagScanned: cfg.Kafka.TagScannedTopicName,
		TheftAlert: cfg.Kafka.TheftAlertTopicName,
	}
	if topics.TagScanned == "" {
		topics.TagScanned = "tag.scanned"
	}
	if topics.TheftAlert == "" {
		topics.TheftAlert = "theft.alert"
	}
	queueSize := cfg.TagGuard.TagQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	cacheTTL := seconds(cfg.TagGuard.ProductCacheTTLSeconds)
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	keep := func(fn func()) {
		if fn != nil {
			closers = append(closers, fn)
		}
	}
	fail := func(err error) (*gateway, gatewayOpts, func(), error) {
		closeAll()
		return nil, opts, nil, err
	}

	store, closeStore, err := f.newStore(cfg)
	if err != nil {
		return fail(errors.Wrap(err, "open store"))
	}
	keep(closeStore)

	channel, closeChannel, err := f.newChannel(cfg)
	if err != nil {
		return fail(errors.Wrap(err, "notify channel"))
	}
	keep(closeChannel)

	bc, closeCache := f.newCache(cfg)
	keep(closeCache)

	var lr ingest.LabelResolver
	if cfg.TagGuard.LabelKeyHex != "" {
		cipher, err := labels.NewCipher(cfg.TagGuard.LabelKeyHex)
		if err != nil {
			return fail(errors.Wrap(err, "label key"))
		}
		lr = labels.NewResolver(store, cipher)
	}

	cat := catalog.New(store, bc, cacheTTL)
	engine := theft.New(store, cat, channel).WithConcurrency(cfg.TagGuard.NotifyConcurrency)

	h := hub.New()
	tags := make(chan models.TagRead, queueSize)

	pipeline := ingest.New(store, cat, lr, h, engine)
	if pub, closeProducer := f.newProducer(cfg); pub != nil {
		keep(closeProducer)
		pipeline = pipeline.WithExport(pub, topics)
	}

	api := rfidapi.New(engine, store)
	if cfg.TagGuard.CommandRateLimitPerMinute > 0 {
		if rl, closeRL := f.newRateLimiter(cfg); rl != nil {
			keep(closeRL)
			api = api.WithRateLimit(rl, int64(cfg.TagGuard.CommandRateLimitPerMinute))
		}
	}

	ids := make([]string, 0, len(cfg.Readers))
	for _, rc := range cfg.Readers {
		ids = append(ids, rc.ID)
	}
	healthSrv := health.NewServer()
	rh := newReaderHealth(healthSrv, ids)

	planner := scanner.PlannerConfig{
		Backoff1: seconds(cfg.TagGuard.ReconnectBackoff1Seconds),
		Backoff2: seconds(cfg.TagGuard.ReconnectBackoff2Seconds),
		Backoff3: seconds(cfg.TagGuard.ReconnectBackoff3Seconds),
		Backoff4: seconds(cfg.TagGuard.ReconnectBackoff4Seconds),
	}

	seen := make(map[string]bool, len(cfg.Readers))
	supervisors := make([]*scanner.Supervisor, 0, len(cfg.Readers))
	for _, rc := range cfg.Readers {
		if rc.ID == "" || rc.IP == "" {
			return fail(fmt.Errorf("reader %q: id and ip are required", rc.ID))
		}
		if seen[rc.ID] {
			return fail(fmt.Errorf("reader %q: duplicate id", rc.ID))
		}
		seen[rc.ID] = true

		mode, err := reader.ParseScanMode(rc.Mode)
		if err != nil {
			return fail(errors.Wrapf(err, "reader %q", rc.ID))
		}
		port := rc.Port
		if port == 0 {
			port = 4001
		}
		addr := rc.Address
		if addr <= 0 || addr > int(frame.BroadcastAddr) {
			addr = int(frame.BroadcastAddr)
		}

		conn := reader.New(readerOptions(cfg, rc.ID, byte(addr)))
		sup := scanner.New(conn, rc.IP, port, tags).
			WithSettings(
				reader.ScanOptions{Mode: mode, Interval: millis(cfg.TagGuard.ScanIntervalMs)},
				millis(cfg.TagGuard.HealthCheckIntervalMs),
				int64(cfg.TagGuard.MaxConsecutiveTimeouts),
			).
			WithPlanner(planner).
			OnStateChange(rh.set)
		supervisors = append(supervisors, sup)
		api.AddReader(conn, sup)

		gc := models.GateContext{
			ReaderID:   rc.ID,
			ReaderType: models.NormalizeReaderType(rc.Type),
			Location:   rc.Location,
			StoreID:    rc.StoreID,
		}
		if err := store.UpsertReader(ctx, gc); err != nil {
			return fail(errors.Wrapf(err, "register reader %q", rc.ID))
		}
	}
	slog.Info("readers configured", "readers", strings.Join(rh.ids(), ","))

	consumer, closeConsumer := f.newConsumer(cfg, opts.gateScanTopic, opts.consumerGroup)
	keep(closeConsumer)

	g := &gateway{
		hub:         h,
		api:         api,
		engine:      engine,
		pipeline:    pipeline,
		supervisors: supervisors,
		tags:        tags,
		consumer:    consumer,
		healthSrv:   healthSrv,
		health:      rh,
	}
	return g, opts, closeAll, nil
}
