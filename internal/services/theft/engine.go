// Package theft evaluates payment status for observed tags, raises theft
// alerts and fans them out to stakeholders.
package theft

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Gate scan outcomes.
const (
	GateSkipped = "skipped"
	GateOK      = "ok"
	GateAlert   = "alert"
)

var ErrAlertNotFound = fmt.Errorf("alert %w", models.ErrNotFound)

type Store interface {
	FindTagByEPC(ctx context.Context, epc string) (*models.TagRecord, error)
	SetTagStatus(ctx context.Context, epc, status string) (bool, error)
	GateContext(ctx context.Context, readerID string) (*models.GateContext, error)
	CreateAlert(ctx context.Context, a *models.TheftAlert) error
	GetAlert(ctx context.Context, id uint64) (*models.TheftAlert, error)
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.TheftAlert, error)
	ResolveAlert(ctx context.Context, id uint64, resolvedBy *uint64, notes *string, at time.Time) error
	ListStakeholders(ctx context.Context, storeID *uint64) ([]*models.User, error)
	CreateRecipient(ctx context.Context, r models.AlertRecipient) error
	MarkDelivered(ctx context.Context, alertID, userID uint64, at time.Time) error
}

type Catalog interface {
	Lookup(ctx context.Context, epc string) (*models.Product, error)
}

// AlertInput describes one theft signal.
type AlertInput struct {
	EPC      string
	Location string
	ReaderID string
	Product  *models.Product
	// StoreID narrows the stakeholder set when the product carries no store.
	StoreID *uint64
}

type AlertResult struct {
	Alert      *models.TheftAlert `json:"alert"`
	Recipients int                `json:"recipients"`
	Delivered  int                `json:"delivered"`
	Failed     int                `json:"failed"`
}

type PaymentCheck struct {
	Known bool
	Paid  bool
	Alert *AlertResult
}

// Clean reports whether the check produced no theft signal.
func (c PaymentCheck) Clean() bool { return c.Alert == nil }

type GateScanResult struct {
	Status     string       `json:"status"`
	ReaderType string       `json:"reader_type,omitempty"`
	Alert      *AlertResult `json:"alert,omitempty"`
}

type Engine struct {
	store       Store
	catalog     Catalog
	channel     notify.Channel
	concurrency int
	now         func() time.Time
}

func New(store Store, catalog Catalog, channel notify.Channel) *Engine {
	return &Engine{
		store:       store,
		catalog:     catalog,
		channel:     channel,
		concurrency: 4,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithConcurrency bounds the number of notifications sent in parallel.
func (e *Engine) WithConcurrency(n int) *Engine {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

// CheckTagPaymentStatus returns true when epc carries no theft signal.
// Tags that were never observed are not alerted on.
func (e *Engine) CheckTagPaymentStatus(ctx context.Context, epc, location string) (bool, error) {
	res, err := e.CheckTagPayment(ctx, epc, location)
	if err != nil {
		return false, err
	}
	return res.Clean(), nil
}

func (e *Engine) CheckTagPayment(ctx context.Context, epc, location string) (PaymentCheck, error) {
	tag, err := e.store.FindTagByEPC(ctx, epc)
	if errors.Is(err, models.ErrNotFound) {
		return PaymentCheck{}, nil
	}
	if err != nil {
		return PaymentCheck{}, errors.Wrap(err, "find tag")
	}
	if tag.IsPaid {
		return PaymentCheck{Known: true, Paid: true}, nil
	}

	alert, err := e.RaiseAlert(ctx, AlertInput{
		EPC:      epc,
		Location: location,
		Product:  e.lookupProduct(ctx, epc),
	})
	if err != nil {
		return PaymentCheck{Known: true}, err
	}
	return PaymentCheck{Known: true, Alert: alert}, nil
}

// CheckGateScan applies exit-gate rules to one read: paid tags are marked
// SOLD, anything else raises an alert and is marked STOLEN.
func (e *Engine) CheckGateScan(ctx context.Context, epc, readerID string) (GateScanResult, error) {
	gate, err := e.store.GateContext(ctx, readerID)
	if errors.Is(err, models.ErrNotFound) {
		return GateScanResult{Status: GateSkipped, ReaderType: models.ReaderTypeUnknown}, nil
	}
	if err != nil {
		return GateScanResult{}, errors.Wrap(err, "gate context")
	}
	if !gate.IsGate() {
		return GateScanResult{Status: GateSkipped, ReaderType: gate.ReaderType}, nil
	}

	tag, err := e.store.FindTagByEPC(ctx, epc)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return GateScanResult{}, errors.Wrap(err, "find tag")
	}

	if tag != nil && tag.IsPaid {
		if _, err := e.store.SetTagStatus(ctx, epc, models.TagStatusSold); err != nil {
			return GateScanResult{}, errors.Wrap(err, "mark sold")
		}
		return GateScanResult{Status: GateOK, ReaderType: gate.ReaderType}, nil
	}

	alert, err := e.RaiseAlert(ctx, AlertInput{
		EPC:      epc,
		Location: gate.Location,
		ReaderID: readerID,
		Product:  e.lookupProduct(ctx, epc),
		StoreID:  gate.StoreID,
	})
	if err != nil {
		return GateScanResult{}, err
	}

	updated, err := e.store.SetTagStatus(ctx, epc, models.TagStatusStolen)
	if err != nil {
		slog.Error("mark stolen", "error", err.Error(), "epc", epc)
	} else if !updated {
		slog.Info("gate alert for unknown tag", "epc", epc, "reader_id", readerID)
	}
	return GateScanResult{Status: GateAlert, ReaderType: gate.ReaderType, Alert: alert}, nil
}

// RaiseAlert persists a new alert and notifies every stakeholder. Delivery
// failures are counted per recipient and never fail the call.
func (e *Engine) RaiseAlert(ctx context.Context, in AlertInput) (*AlertResult, error) {
	desc := "Unknown product"
	storeID := in.StoreID
	if in.Product != nil {
		desc = in.Product.Name
		if in.Product.Description != "" {
			desc = in.Product.Name + " - " + in.Product.Description
		}
		if in.Product.StoreID != nil {
			storeID = in.Product.StoreID
		}
	}
	location := in.Location
	if location == "" {
		location = in.ReaderID
	}

	alert := &models.TheftAlert{
		EPC:                in.EPC,
		ProductDescription: desc,
		DetectedAt:         e.now(),
		Location:           location,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return nil, errors.Wrap(err, "create alert")
	}
	slog.Warn("theft alert raised", "alert_id", alert.ID, "epc", in.EPC, "location", location)

	users, err := e.store.ListStakeholders(ctx, storeID)
	if err != nil {
		slog.Error("list stakeholders", "error", err.Error(), "alert_id", alert.ID)
		return &AlertResult{Alert: alert}, nil
	}

	res := e.fanOut(ctx, alert, users)
	return &res, nil
}

func (e *Engine) fanOut(ctx context.Context, alert *models.TheftAlert, users []*models.User) AlertResult {
	res := AlertResult{Alert: alert, Recipients: len(users)}
	if len(users) == 0 {
		return res
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.concurrency)
	)
	for _, u := range users {
		sem <- struct{}{}
		wg.Add(1)
		go func(user *models.User) {
			defer func() {
				<-sem
				wg.Done()
			}()
			ok := e.deliver(ctx, alert, user)
			mu.Lock()
			if ok {
				res.Delivered++
			} else {
				res.Failed++
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return res
}

func (e *Engine) deliver(ctx context.Context, alert *models.TheftAlert, user *models.User) bool {
	recorded := true
	err := e.store.CreateRecipient(ctx, models.AlertRecipient{
		AlertID: alert.ID,
		UserID:  user.ID,
		SentAt:  e.now(),
	})
	if err != nil {
		recorded = false
		slog.Error("create alert recipient", "error", err.Error(), "alert_id", alert.ID, "user_id", user.ID)
	}

	if e.channel == nil {
		return false
	}
	err = e.channel.Send(ctx, user, notify.Payload{
		NotificationID:     uuid.NewString(),
		AlertID:            alert.ID,
		EPC:                alert.EPC,
		ProductDescription: alert.ProductDescription,
		Location:           alert.Location,
		DetectedAt:         alert.DetectedAt,
		Message:            Message(alert),
	})
	if err != nil {
		slog.Warn("alert delivery failed", "error", err.Error(), "alert_id", alert.ID, "user_id", user.ID)
		return false
	}

	if recorded {
		if err := e.store.MarkDelivered(ctx, alert.ID, user.ID, e.now()); err != nil {
			slog.Error("mark delivered", "error", err.Error(), "alert_id", alert.ID, "user_id", user.ID)
		}
	}
	return true
}

// Message is the human readable alert text sent to stakeholders.
func Message(a *models.TheftAlert) string {
	return fmt.Sprintf("Unpaid item %s (%s) detected at %s", a.ProductDescription, a.EPC, a.Location)
}

// ResolveAlert marks the alert resolved. Resolving again overwrites the audit
// fields.
func (e *Engine) ResolveAlert(ctx context.Context, id uint64, resolvedBy *uint64, notes *string) (*models.TheftAlert, error) {
	if id == 0 {
		return nil, errors.New("alert id is required")
	}
	err := e.store.ResolveAlert(ctx, id, resolvedBy, notes, e.now())
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "resolve alert")
	}
	a, err := e.store.GetAlert(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrAlertNotFound
	}
	return a, err
}

func (e *Engine) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.TheftAlert, error) {
	return e.store.ListAlerts(ctx, unresolvedOnly, limit)
}

func (e *Engine) lookupProduct(ctx context.Context, epc string) *models.Product {
	if e.catalog == nil {
		return nil
	}
	p, err := e.catalog.Lookup(ctx, epc)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Warn("product lookup failed", "error", err.Error(), "epc", epc)
		return nil
	}
	return p
}
