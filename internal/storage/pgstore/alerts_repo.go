package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const alertColumns = `
  id, epc, product_description, detected_at, location,
  resolved, resolved_by, resolved_at, notes`

func scanAlert(row pgx.Row) (*models.TheftAlert, error) {
	var a models.TheftAlert
	if err := row.Scan(
		&a.ID, &a.EPC, &a.ProductDescription, &a.DetectedAt, &a.Location,
		&a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.Notes,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) CreateAlert(ctx context.Context, a *models.TheftAlert) error {
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx, `
INSERT INTO theft_alerts (epc, product_description, detected_at, location)
VALUES ($1,$2,$3,$4)
RETURNING id
`, a.EPC, a.ProductDescription, a.DetectedAt.UTC(), a.Location).Scan(&a.ID)
	if err != nil {
		return errors.Wrap(err, "insert alert")
	}
	return nil
}

func (s *Storage) GetAlert(ctx context.Context, id uint64) (*models.TheftAlert, error) {
	a, err := scanAlert(s.db.QueryRow(ctx, `SELECT`+alertColumns+` FROM theft_alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select alert")
	}
	return a, nil
}

func (s *Storage) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.TheftAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT`+alertColumns+`
FROM theft_alerts
WHERE NOT $1 OR NOT resolved
ORDER BY detected_at DESC, id DESC
LIMIT $2
`, unresolvedOnly, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select alerts")
	}
	defer rows.Close()

	var out []*models.TheftAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ResolveAlert overwrites the resolution fields; resolving twice keeps the
// last call's values.
func (s *Storage) ResolveAlert(ctx context.Context, id uint64, resolvedBy *uint64, notes *string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE theft_alerts
SET resolved = TRUE, resolved_by = $2, notes = $3, resolved_at = $4
WHERE id = $1
`, id, resolvedBy, notes, at.UTC())
	if err != nil {
		return errors.Wrap(err, "resolve alert")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListStakeholders returns users opted in to alerts. With a store id, users
// bound to another store are excluded; users without a store always match.
func (s *Storage) ListStakeholders(ctx context.Context, storeID *uint64) ([]*models.User, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, email, phone, store_id, receive_alerts
FROM users
WHERE receive_alerts AND ($1::bigint IS NULL OR store_id IS NULL OR store_id = $1)
ORDER BY id
`, storeID)
	if err != nil {
		return nil, errors.Wrap(err, "select stakeholders")
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.StoreID, &u.ReceiveAlerts); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		out = append(out, &u)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateUser(ctx context.Context, u models.User) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO users (name, email, phone, store_id, receive_alerts)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, u.Name, u.Email, u.Phone, u.StoreID, u.ReceiveAlerts).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert user")
	}
	return id, nil
}

func (s *Storage) CreateRecipient(ctx context.Context, r models.AlertRecipient) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO alert_recipients (alert_id, user_id, sent_at)
VALUES ($1,$2,$3)
ON CONFLICT (alert_id, user_id) DO NOTHING
`, r.AlertID, r.UserID, r.SentAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert recipient")
	}
	return nil
}

func (s *Storage) MarkDelivered(ctx context.Context, alertID, userID uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE alert_recipients SET delivered = TRUE, delivered_at = $3
WHERE alert_id = $1 AND user_id = $2
`, alertID, userID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "mark delivered")
	}
	return nil
}

func (s *Storage) ListRecipients(ctx context.Context, alertID uint64) ([]*models.AlertRecipient, error) {
	rows, err := s.db.Query(ctx, `
SELECT alert_id, user_id, sent_at, delivered, delivered_at, is_read
FROM alert_recipients
WHERE alert_id = $1
ORDER BY user_id
`, alertID)
	if err != nil {
		return nil, errors.Wrap(err, "select recipients")
	}
	defer rows.Close()

	var out []*models.AlertRecipient
	for rows.Next() {
		var r models.AlertRecipient
		if err := rows.Scan(&r.AlertID, &r.UserID, &r.SentAt, &r.Delivered, &r.DeliveredAt, &r.IsRead); err != nil {
			return nil, errors.Wrap(err, "scan recipient")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
