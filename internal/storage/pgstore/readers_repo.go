package pgstore

import (
	"context"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) UpsertReader(ctx context.Context, g models.GateContext) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO readers (id, reader_type, location, store_id, updated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (id) DO UPDATE SET
  reader_type = EXCLUDED.reader_type,
  location = EXCLUDED.location,
  store_id = EXCLUDED.store_id,
  updated_at = now()
`, g.ReaderID, models.NormalizeReaderType(g.ReaderType), g.Location, g.StoreID)
	if err != nil {
		return errors.Wrap(err, "upsert reader")
	}
	return nil
}

func (s *Storage) GateContext(ctx context.Context, readerID string) (*models.GateContext, error) {
	var g models.GateContext
	err := s.db.QueryRow(ctx, `SELECT id, reader_type, location, store_id FROM readers WHERE id = $1`, readerID).
		Scan(&g.ReaderID, &g.ReaderType, &g.Location, &g.StoreID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select reader")
	}
	return &g, nil
}
