// Package memstore is an in-process implementation of the pgstore API, used
// when no database is configured and in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
)

type Storage struct {
	mu sync.RWMutex

	tags       map[string]*models.TagRecord
	history    []models.ScanHistoryEntry
	products   map[uint64]*models.Product
	labels     map[string]models.EncryptedLabel
	readers    map[string]models.GateContext
	users      []*models.User
	alerts     []*models.TheftAlert
	recipients []*models.AlertRecipient

	nextID uint64
}

func New() *Storage {
	return &Storage{
		tags:     make(map[string]*models.TagRecord),
		products: make(map[uint64]*models.Product),
		labels:   make(map[string]models.EncryptedLabel),
		readers:  make(map[string]models.GateContext),
	}
}

func (s *Storage) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Storage) Ping(ctx context.Context) error { return nil }

func (s *Storage) Close() {}

func (s *Storage) FindTagByEPC(ctx context.Context, epc string) (*models.TagRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[epc]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Storage) CreateTag(ctx context.Context, rec *models.TagRecord) (*models.TagRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if t, ok := s.tags[rec.EPC]; ok {
		t.ReadCount++
		t.LastRSSI = rec.LastRSSI
		t.AntennaPort = rec.AntennaPort
		t.LastSeen = rec.LastSeen
		t.UpdatedAt = now
		cp := *t
		return &cp, nil
	}
	t := *rec
	t.ID = s.id()
	if t.ReadCount <= 0 {
		t.ReadCount = 1
	}
	if t.Status == "" {
		t.Status = models.TagStatusActive
	}
	t.CreatedAt, t.UpdatedAt = now, now
	s.tags[t.EPC] = &t
	cp := t
	return &cp, nil
}

func (s *Storage) RecordRead(ctx context.Context, read models.TagRead) (*models.TagRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[read.EPC]
	if !ok {
		return nil, models.ErrNotFound
	}
	t.ReadCount++
	t.LastRSSI = read.RSSI
	t.AntennaPort = read.AntennaPort
	t.LastSeen = read.Timestamp
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (s *Storage) SetTagStatus(ctx context.Context, epc, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[epc]
	if !ok {
		return false, nil
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Storage) MarkTagPaid(ctx context.Context, epc string, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[epc]
	if !ok {
		return models.ErrNotFound
	}
	t.IsPaid = paid
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Storage) AppendScanHistory(ctx context.Context, e models.ScanHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.history = append(s.history, e)
	return nil
}

func (s *Storage) ListScanHistory(ctx context.Context, epc string, limit, offset int) ([]*models.ScanHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ScanHistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].EPC != epc {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		e := s.history[i]
		out = append(out, &e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Storage) ProductByEPC(ctx context.Context, epc string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[epc]
	if !ok || t.ProductID == nil {
		return nil, models.ErrNotFound
	}
	p, ok := s.products[*t.ProductID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Storage) UpsertProduct(ctx context.Context, p models.Product) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.products {
		if existing.SKU == p.SKU {
			p.ID = id
			s.products[id] = &p
			return id, nil
		}
	}
	p.ID = s.id()
	s.products[p.ID] = &p
	return p.ID, nil
}

func (s *Storage) AssignProduct(ctx context.Context, epc string, productID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	t, ok := s.tags[epc]
	if !ok {
		t = &models.TagRecord{ID: s.id(), EPC: epc, Status: models.TagStatusActive, FirstSeen: now, LastSeen: now, CreatedAt: now}
		s.tags[epc] = t
	}
	pid := productID
	t.ProductID = &pid
	t.UpdatedAt = now
	return nil
}

func (s *Storage) FindLabel(ctx context.Context, epc string) (*models.EncryptedLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[epc]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &l, nil
}

func (s *Storage) UpsertLabel(ctx context.Context, l models.EncryptedLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[l.EPC] = l
	return nil
}

func (s *Storage) UpsertReader(ctx context.Context, g models.GateContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ReaderType = models.NormalizeReaderType(g.ReaderType)
	s.readers[g.ReaderID] = g
	return nil
}

func (s *Storage) GateContext(ctx context.Context, readerID string) (*models.GateContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.readers[readerID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &g, nil
}

func (s *Storage) CreateUser(ctx context.Context, u models.User) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.id()
	s.users = append(s.users, &u)
	return u.ID, nil
}

func (s *Storage) ListStakeholders(ctx context.Context, storeID *uint64) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.User
	for _, u := range s.users {
		if !u.ReceiveAlerts {
			continue
		}
		if storeID != nil && u.StoreID != nil && *u.StoreID != *storeID {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Storage) CreateAlert(ctx context.Context, a *models.TheftAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}
	a.ID = s.id()
	cp := *a
	s.alerts = append(s.alerts, &cp)
	return nil
}

func (s *Storage) GetAlert(ctx context.Context, id uint64) (*models.TheftAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Storage) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.TheftAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TheftAlert
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if unresolvedOnly && s.alerts[i].Resolved {
			continue
		}
		cp := *s.alerts[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Storage) ResolveAlert(ctx context.Context, id uint64, resolvedBy *uint64, notes *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			at := at.UTC()
			a.Resolved = true
			a.ResolvedBy = resolvedBy
			a.Notes = notes
			a.ResolvedAt = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *Storage) CreateRecipient(ctx context.Context, r models.AlertRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.recipients {
		if existing.AlertID == r.AlertID && existing.UserID == r.UserID {
			return nil
		}
	}
	s.recipients = append(s.recipients, &r)
	return nil
}

func (s *Storage) MarkDelivered(ctx context.Context, alertID, userID uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recipients {
		if r.AlertID == alertID && r.UserID == userID {
			at := at.UTC()
			r.Delivered = true
			r.DeliveredAt = &at
		}
	}
	return nil
}

func (s *Storage) ListRecipients(ctx context.Context, alertID uint64) ([]*models.AlertRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AlertRecipient
	for _, r := range s.recipients {
		if r.AlertID == alertID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// TagCount and HistoryCount are used by tests to assert on totals.
func (s *Storage) TagCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tags)
}

func (s *Storage) HistoryCount(epc string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.history {
		if e.EPC == epc {
			n++
		}
	}
	return n
}
