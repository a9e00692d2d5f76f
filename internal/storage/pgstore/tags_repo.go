package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const tagColumns = `
  id, epc, product_id, read_count, last_rssi, antenna_port,
  first_seen, last_seen, is_paid, status, created_at, updated_at`

func scanTag(row pgx.Row) (*models.TagRecord, error) {
	var t models.TagRecord
	if err := row.Scan(
		&t.ID, &t.EPC, &t.ProductID, &t.ReadCount, &t.LastRSSI, &t.AntennaPort,
		&t.FirstSeen, &t.LastSeen, &t.IsPaid, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) FindTagByEPC(ctx context.Context, epc string) (*models.TagRecord, error) {
	t, err := scanTag(s.db.QueryRow(ctx, `SELECT`+tagColumns+` FROM tags WHERE epc = $1`, epc))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tag")
	}
	return t, nil
}

// CreateTag inserts a new record. If another writer created the same EPC in
// the meantime the insert counts as one more read of that record.
func (s *Storage) CreateTag(ctx context.Context, rec *models.TagRecord) (*models.TagRecord, error) {
	now := time.Now().UTC()
	status := rec.Status
	if status == "" {
		status = models.TagStatusActive
	}
	readCount := rec.ReadCount
	if readCount <= 0 {
		readCount = 1
	}

	t, err := scanTag(s.db.QueryRow(ctx, `
INSERT INTO tags (
  epc, product_id, read_count, last_rssi, antenna_port,
  first_seen, last_seen, is_paid, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (epc) DO UPDATE SET
  read_count = tags.read_count + 1,
  last_rssi = EXCLUDED.last_rssi,
  antenna_port = EXCLUDED.antenna_port,
  last_seen = EXCLUDED.last_seen,
  updated_at = EXCLUDED.updated_at
RETURNING`+tagColumns,
		rec.EPC, rec.ProductID, readCount, rec.LastRSSI, rec.AntennaPort,
		rec.FirstSeen.UTC(), rec.LastSeen.UTC(), rec.IsPaid, status, now,
	))
	if err != nil {
		return nil, errors.Wrap(err, "insert tag")
	}
	return t, nil
}

// RecordRead counts one more read of an existing record and refreshes its
// signal fields. Payment, status and product stay as they are.
func (s *Storage) RecordRead(ctx context.Context, read models.TagRead) (*models.TagRecord, error) {
	t, err := scanTag(s.db.QueryRow(ctx, `
UPDATE tags
SET
  read_count = read_count + 1,
  last_rssi = $2,
  antenna_port = $3,
  last_seen = $4,
  updated_at = now()
WHERE epc = $1
RETURNING`+tagColumns,
		read.EPC, read.RSSI, read.AntennaPort, read.Timestamp.UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "record tag read")
	}
	return t, nil
}

// SetTagStatus changes the lifecycle status. It reports false when no
// record exists for epc.
func (s *Storage) SetTagStatus(ctx context.Context, epc, status string) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE tags SET status = $2, updated_at = now() WHERE epc = $1`, epc, status)
	if err != nil {
		return false, errors.Wrap(err, "update tag status")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTagPaid is called by checkout once the item has been paid for.
func (s *Storage) MarkTagPaid(ctx context.Context, epc string, paid bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE tags SET is_paid = $2, updated_at = now() WHERE epc = $1`, epc, paid)
	if err != nil {
		return errors.Wrap(err, "update tag paid")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Storage) AppendScanHistory(ctx context.Context, e models.ScanHistoryEntry) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO scan_history (epc, reader_id, rssi, antenna_port, scanned_at)
VALUES ($1,$2,$3,$4,$5)
`, e.EPC, e.ReaderID, e.RSSI, e.AntennaPort, e.ScannedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert scan history")
	}
	return nil
}

func (s *Storage) ListScanHistory(ctx context.Context, epc string, limit, offset int) ([]*models.ScanHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, epc, reader_id, rssi, antenna_port, scanned_at
FROM scan_history
WHERE epc = $1
ORDER BY scanned_at DESC, id DESC
LIMIT $2 OFFSET $3
`, epc, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select scan history")
	}
	defer rows.Close()

	var out []*models.ScanHistoryEntry
	for rows.Next() {
		var e models.ScanHistoryEntry
		if err := rows.Scan(&e.ID, &e.EPC, &e.ReaderID, &e.RSSI, &e.AntennaPort, &e.ScannedAt); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
