// Package ingest turns raw tag reads into persisted records, real-time
// messages and, for unpaid items, theft alerts.
package ingest

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/TagGuard/internal/broker/messages"
	"github.com/BearBump/TagGuard/internal/hub"
	"github.com/BearBump/TagGuard/internal/integrations/labels"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/BearBump/TagGuard/internal/services/theft"
	"github.com/pkg/errors"
)

type Store interface {
	RecordRead(ctx context.Context, read models.TagRead) (*models.TagRecord, error)
	CreateTag(ctx context.Context, rec *models.TagRecord) (*models.TagRecord, error)
	AppendScanHistory(ctx context.Context, e models.ScanHistoryEntry) error
	GateContext(ctx context.Context, readerID string) (*models.GateContext, error)
}

type Catalog interface {
	Lookup(ctx context.Context, epc string) (*models.Product, error)
}

type LabelResolver interface {
	Resolve(ctx context.Context, epc string) labels.Result
}

type Broadcaster interface {
	Broadcast(ctx context.Context, msg hub.Message) int
}

type Alerter interface {
	RaiseAlert(ctx context.Context, in theft.AlertInput) (*theft.AlertResult, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

// Topics names the Kafka topics broadcast messages are exported to. Empty
// names disable the export.
type Topics struct {
	TagScanned string
	TheftAlert string
}

// Result is what one Ingest call produced. Tag is nil when the record could
// not be loaded or created.
type Result struct {
	Tag     *models.TagRecord
	Scanned messages.TagScanned
	Alert   *theft.AlertResult
}

type Stats struct {
	Ingested int64 `json:"ingested"`
	Errors   int64 `json:"errors"`
	Alerts   int64 `json:"alerts"`
}

type Pipeline struct {
	store   Store
	catalog Catalog
	labels  LabelResolver
	hub     Broadcaster
	alerter Alerter

	publisher Publisher
	topics    Topics

	ingested atomic.Int64
	errs     atomic.Int64
	alerts   atomic.Int64
}

func New(store Store, catalog Catalog, lr LabelResolver, h Broadcaster, alerter Alerter) *Pipeline {
	return &Pipeline{store: store, catalog: catalog, labels: lr, hub: h, alerter: alerter}
}

// WithExport publishes every broadcast message to Kafka as well.
func (p *Pipeline) WithExport(pub Publisher, topics Topics) *Pipeline {
	p.publisher = pub
	p.topics = topics
	return p
}

// Run ingests reads until in is closed or ctx is done.
func (p *Pipeline) Run(ctx context.Context, in <-chan models.TagRead) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case read, ok := <-in:
			if !ok {
				return nil
			}
			p.Ingest(ctx, read)
		}
	}
}

// Ingest processes one read. Every step is best effort: failures are logged
// and counted, and the remaining steps still run.
func (p *Pipeline) Ingest(ctx context.Context, read models.TagRead) Result {
	if read.Timestamp.IsZero() {
		read.Timestamp = time.Now().UTC()
	}
	p.ingested.Add(1)

	tag, err := p.upsertTag(ctx, read)
	if err != nil {
		p.fail("upsert tag", err, read)
	}

	err = p.store.AppendScanHistory(ctx, models.ScanHistoryEntry{
		EPC:         read.EPC,
		ReaderID:    read.ReaderID,
		RSSI:        read.RSSI,
		AntennaPort: read.AntennaPort,
		ScannedAt:   read.Timestamp,
	})
	if err != nil {
		p.fail("append scan history", errors.Wrap(err, "append scan history"), read)
	}

	scanned := messages.TagScanned{
		EPC:         read.EPC,
		ReaderID:    read.ReaderID,
		RSSI:        read.RSSI,
		AntennaPort: read.AntennaPort,
		Timestamp:   read.Timestamp,
		Product:     p.lookupProduct(ctx, read.EPC),
	}
	if tag != nil {
		scanned.ReadCount = tag.ReadCount
		scanned.IsPaid = tag.IsPaid
		scanned.Status = tag.Status
	}
	if p.labels != nil {
		lr := p.labels.Resolve(ctx, read.EPC)
		scanned.IsMapped = lr.Found
		if lr.Ok() {
			label := lr.Label
			scanned.DecryptedLabel = &label
		} else if lr.Err != nil {
			scanned.LabelError = lr.Err.Error()
			slog.Warn("label decrypt failed", "error", lr.Err.Error(), "epc", read.EPC)
		}
	}

	p.publish(ctx, hub.TypeTagScanned, p.topics.TagScanned, read.EPC, scanned)

	res := Result{Tag: tag, Scanned: scanned}
	if tag == nil || tag.IsPaid || p.alerter == nil {
		return res
	}

	in := theft.AlertInput{
		EPC:      read.EPC,
		ReaderID: read.ReaderID,
		Product:  scanned.Product,
	}
	if gate, err := p.store.GateContext(ctx, read.ReaderID); err == nil {
		in.Location = gate.Location
		in.StoreID = gate.StoreID
	} else if !errors.Is(err, models.ErrNotFound) {
		slog.Warn("gate context lookup failed", "error", err.Error(), "reader_id", read.ReaderID)
	}

	alert, err := p.alerter.RaiseAlert(ctx, in)
	if err != nil {
		p.fail("raise alert", err, read)
		return res
	}
	p.alerts.Add(1)
	res.Alert = alert

	p.publish(ctx, hub.TypeTheftAlert, p.topics.TheftAlert, read.EPC, messages.TheftAlert{
		AlertID:            alert.Alert.ID,
		EPC:                alert.Alert.EPC,
		ProductDescription: alert.Alert.ProductDescription,
		Location:           alert.Alert.Location,
		DetectedAt:         alert.Alert.DetectedAt,
		ReaderID:           read.ReaderID,
		Recipients:         alert.Recipients,
		Delivered:          alert.Delivered,
	})
	return res
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Ingested: p.ingested.Load(),
		Errors:   p.errs.Load(),
		Alerts:   p.alerts.Load(),
	}
}

// upsertTag leaves payment, status and product to checkout and the gate
// flows.
func (p *Pipeline) upsertTag(ctx context.Context, read models.TagRead) (*models.TagRecord, error) {
	tag, err := p.store.RecordRead(ctx, read)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, errors.Wrap(err, "record read")
	}
	tag, err = p.store.CreateTag(ctx, &models.TagRecord{
		EPC:         read.EPC,
		ReadCount:   1,
		LastRSSI:    read.RSSI,
		AntennaPort: read.AntennaPort,
		FirstSeen:   read.Timestamp,
		LastSeen:    read.Timestamp,
		Status:      models.TagStatusActive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create tag")
	}
	return tag, nil
}

func (p *Pipeline) lookupProduct(ctx context.Context, epc string) *models.Product {
	if p.catalog == nil {
		return nil
	}
	prod, err := p.catalog.Lookup(ctx, epc)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Warn("product lookup failed", "error", err.Error(), "epc", epc)
		}
		return nil
	}
	return prod
}

func (p *Pipeline) publish(ctx context.Context, typ, topic, key string, data any) {
	if p.hub != nil {
		p.hub.Broadcast(ctx, hub.NewMessage(typ, data))
	}
	if p.publisher == nil || topic == "" {
		return
	}
	if err := p.publisher.PublishJSON(ctx, topic, key, data); err != nil {
		slog.Warn("event export failed", "error", err.Error(), "type", typ, "epc", key)
	}
}

func (p *Pipeline) fail(step string, err error, read models.TagRead) {
	p.errs.Add(1)
	slog.Error("ingest "+step, "error", err.Error(), "epc", read.EPC, "reader_id", read.ReaderID)
}
