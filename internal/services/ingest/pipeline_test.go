package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TagGuard/internal/broker/messages"
	"github.com/BearBump/TagGuard/internal/hub"
	"github.com/BearBump/TagGuard/internal/integrations/labels"
	"github.com/BearBump/TagGuard/internal/integrations/notify/logchannel"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/services/theft"
	"github.com/BearBump/TagGuard/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

type subscriber struct {
	mu  sync.Mutex
	got []hub.Message
}

func (s *subscriber) ID() string { return "test" }

func (s *subscriber) Send(_ context.Context, msg hub.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return nil
}

func (s *subscriber) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.got))
	for _, m := range s.got {
		out = append(out, m.Type)
	}
	return out
}

type published struct {
	topic string
	key   string
	value any
}

type fakePublisher struct {
	err error
	got []published
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic, key string, v any) error {
	f.got = append(f.got, published{topic: topic, key: key, value: v})
	return f.err
}

type fakeCatalog struct {
	products map[string]*models.Product
	err      error
}

func (c *fakeCatalog) Lookup(_ context.Context, epc string) (*models.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[epc]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

// brokenStore fails the scan history insert so best-effort handling can be
// observed.
type brokenStore struct {
	*memstore.Storage
}

func (b brokenStore) AppendScanHistory(context.Context, models.ScanHistoryEntry) error {
	return errors.New("disk full")
}

// checkoutStore marks the tag paid and sold right before the read is
// recorded, like a checkout landing while the scan loop is ingesting.
type checkoutStore struct {
	*memstore.Storage
	armed bool
}

func (c *checkoutStore) RecordRead(ctx context.Context, read models.TagRead) (*models.TagRecord, error) {
	if c.armed {
		c.armed = false
		if err := c.MarkTagPaid(ctx, read.EPC, true); err != nil {
			return nil, err
		}
		if _, err := c.SetTagStatus(ctx, read.EPC, models.TagStatusSold); err != nil {
			return nil, err
		}
	}
	return c.Storage.RecordRead(ctx, read)
}

type fixture struct {
	store     *memstore.Storage
	hub       *hub.Hub
	sub       *subscriber
	publisher *fakePublisher
	catalog   *fakeCatalog
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		hub:       hub.New(),
		sub:       &subscriber{},
		publisher: &fakePublisher{},
		catalog:   &fakeCatalog{products: map[string]*models.Product{}},
	}
	f.hub.Connect(f.sub)

	engine := theft.New(f.store, f.catalog, logchannel.New())
	f.pipeline = New(f.store, f.catalog, nil, f.hub, engine).
		WithExport(f.publisher, Topics{TagScanned: "tags", TheftAlert: "alerts"})
	return f
}

func read(epc string) models.TagRead {
	return models.TagRead{
		EPC:         epc,
		RSSI:        -55,
		AntennaPort: 2,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ReaderID:    "gate-1",
	}
}

func TestIngest_SameEPCTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pipeline.Ingest(ctx, read("E2001122"))
	second := read("E2001122")
	second.RSSI = -40
	res := f.pipeline.Ingest(ctx, second)

	require.NotNil(t, res.Tag)
	require.Equal(t, int64(2), res.Tag.ReadCount)
	require.Equal(t, 1, f.store.TagCount())
	require.Equal(t, 2, f.store.HistoryCount("E2001122"))

	tag, err := f.store.FindTagByEPC(ctx, "E2001122")
	require.NoError(t, err)
	require.Equal(t, int64(2), tag.ReadCount)
	require.Equal(t, -40, tag.LastRSSI)
	require.Equal(t, models.TagStatusActive, tag.Status)
}

func TestIngest_KeepsConcurrentCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := &checkoutStore{Storage: f.store}
	p := New(st, f.catalog, nil, f.hub, theft.New(f.store, f.catalog, logchannel.New()))

	first := p.Ingest(ctx, read("E2003344"))
	require.NotNil(t, first.Alert)

	st.armed = true
	second := p.Ingest(ctx, read("E2003344"))
	require.NotNil(t, second.Tag)
	require.True(t, second.Tag.IsPaid)
	require.Equal(t, models.TagStatusSold, second.Tag.Status)
	require.Nil(t, second.Alert)

	third := p.Ingest(ctx, read("E2003344"))
	require.Nil(t, third.Alert)

	tag, err := f.store.FindTagByEPC(ctx, "E2003344")
	require.NoError(t, err)
	require.Equal(t, int64(3), tag.ReadCount)
	require.True(t, tag.IsPaid)
	require.Equal(t, models.TagStatusSold, tag.Status)
	require.Equal(t, int64(1), p.Stats().Alerts)
}

func TestIngest_PaidTagBroadcastsOnlyScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := f.store.CreateTag(ctx, &models.TagRecord{EPC: "E2001122", FirstSeen: now, LastSeen: now, IsPaid: true})
	require.NoError(t, err)
	f.catalog.products["E2001122"] = &models.Product{Name: "Scarf", SKU: "SC-1"}

	res := f.pipeline.Ingest(ctx, read("E2001122"))
	require.Nil(t, res.Alert)
	require.True(t, res.Scanned.IsPaid)
	require.Equal(t, "Scarf", res.Scanned.Product.Name)
	require.Equal(t, []string{hub.TypeTagScanned}, f.sub.types())

	require.Len(t, f.publisher.got, 1)
	require.Equal(t, "tags", f.publisher.got[0].topic)
	require.Equal(t, "E2001122", f.publisher.got[0].key)
	msg, ok := f.publisher.got[0].value.(messages.TagScanned)
	require.True(t, ok)
	require.Equal(t, int64(2), msg.ReadCount)
	require.Equal(t, "gate-1", msg.ReaderID)
}

func TestIngest_UnpaidTagRaisesAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertReader(ctx, models.GateContext{ReaderID: "gate-1", ReaderType: "GATE", Location: "exit A"}))
	_, err := f.store.CreateUser(ctx, models.User{Name: "guard", Email: "guard@shop.test", ReceiveAlerts: true})
	require.NoError(t, err)

	res := f.pipeline.Ingest(ctx, read("E2001122"))
	require.NotNil(t, res.Alert)
	require.Equal(t, "exit A", res.Alert.Alert.Location)
	require.Equal(t, 1, res.Alert.Delivered)
	require.Equal(t, []string{hub.TypeTagScanned, hub.TypeTheftAlert}, f.sub.types())

	require.Len(t, f.publisher.got, 2)
	require.Equal(t, "alerts", f.publisher.got[1].topic)
	alert, ok := f.publisher.got[1].value.(messages.TheftAlert)
	require.True(t, ok)
	require.Equal(t, res.Alert.Alert.ID, alert.AlertID)
	require.Equal(t, 1, alert.Recipients)

	stats := f.pipeline.Stats()
	require.Equal(t, int64(1), stats.Ingested)
	require.Equal(t, int64(1), stats.Alerts)
	require.Zero(t, stats.Errors)
}

func TestIngest_CatalogFailureKeepsGoing(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("redis down")

	res := f.pipeline.Ingest(context.Background(), read("E2001122"))
	require.Nil(t, res.Scanned.Product)
	require.NotNil(t, res.Tag)
	require.Contains(t, f.sub.types(), hub.TypeTagScanned)
}

func TestIngest_ExportFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("kafka unavailable")

	res := f.pipeline.Ingest(context.Background(), read("E2001122"))
	require.NotNil(t, res.Tag)
	require.Zero(t, f.pipeline.Stats().Errors)
}

func TestIngest_PersistenceErrorIsIsolated(t *testing.T) {
	f := newFixture(t)
	p := New(brokenStore{f.store}, f.catalog, nil, f.hub, nil)

	res := p.Ingest(context.Background(), read("E2001122"))
	require.NotNil(t, res.Tag)
	require.Equal(t, int64(1), p.Stats().Errors)
	require.Equal(t, []string{hub.TypeTagScanned}, f.sub.types())

	res = p.Ingest(context.Background(), read("E2001122"))
	require.Equal(t, int64(2), res.Tag.ReadCount)
}

func TestIngest_Labels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cipher, err := labels.NewCipher("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	ct, err := cipher.Encrypt("SKU-42 / size M")
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertLabel(ctx, models.EncryptedLabel{EPC: "E2001122", Ciphertext: ct}))
	require.NoError(t, f.store.UpsertLabel(ctx, models.EncryptedLabel{EPC: "E2003344", Ciphertext: "garbage"}))

	p := New(f.store, f.catalog, labels.NewResolver(f.store, cipher), f.hub, nil)

	res := p.Ingest(ctx, read("E2001122"))
	require.True(t, res.Scanned.IsMapped)
	require.NotNil(t, res.Scanned.DecryptedLabel)
	require.Equal(t, "SKU-42 / size M", *res.Scanned.DecryptedLabel)

	res = p.Ingest(ctx, read("E2003344"))
	require.True(t, res.Scanned.IsMapped)
	require.Nil(t, res.Scanned.DecryptedLabel)
	require.NotEmpty(t, res.Scanned.LabelError)

	res = p.Ingest(ctx, read("E2005566"))
	require.False(t, res.Scanned.IsMapped)
}

func TestRun_DrainsUntilClosed(t *testing.T) {
	f := newFixture(t)
	p := New(f.store, f.catalog, nil, f.hub, nil)

	in := make(chan models.TagRead, 3)
	in <- read("E2000001")
	in <- read("E2000002")
	in <- read("E2000001")
	close(in)

	require.NoError(t, p.Run(context.Background(), in))
	require.Equal(t, int64(3), p.Stats().Ingested)
	require.Equal(t, 2, f.store.TagCount())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.pipeline.Run(ctx, make(chan models.TagRead))
	require.ErrorIs(t, err, context.Canceled)
}
