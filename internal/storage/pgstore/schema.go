package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS products (
  id BIGSERIAL PRIMARY KEY,
  sku TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price NUMERIC(12,2) NOT NULL DEFAULT 0,
  store_id BIGINT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS tags (
  id BIGSERIAL PRIMARY KEY,
  epc TEXT NOT NULL UNIQUE,
  product_id BIGINT NULL REFERENCES products(id) ON DELETE SET NULL,
  read_count BIGINT NOT NULL DEFAULT 1,
  last_rssi INT NOT NULL DEFAULT 0,
  antenna_port INT NOT NULL DEFAULT 0,
  first_seen TIMESTAMPTZ NOT NULL,
  last_seen TIMESTAMPTZ NOT NULL,
  is_paid BOOLEAN NOT NULL DEFAULT FALSE,
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// No foreign key to tags: reads of unknown tags are kept too.
		`
CREATE TABLE IF NOT EXISTS scan_history (
  id BIGSERIAL PRIMARY KEY,
  epc TEXT NOT NULL,
  reader_id TEXT NOT NULL DEFAULT '',
  rssi INT NOT NULL,
  antenna_port INT NOT NULL,
  scanned_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_history_epc_scanned_at ON scan_history(epc, scanned_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS tag_label_mappings (
  epc TEXT PRIMARY KEY,
  ciphertext TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS readers (
  id TEXT PRIMARY KEY,
  reader_type TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  store_id BIGINT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  phone TEXT NULL,
  store_id BIGINT NULL,
  receive_alerts BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`
CREATE TABLE IF NOT EXISTS theft_alerts (
  id BIGSERIAL PRIMARY KEY,
  epc TEXT NOT NULL,
  product_description TEXT NOT NULL DEFAULT '',
  detected_at TIMESTAMPTZ NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  resolved BOOLEAN NOT NULL DEFAULT FALSE,
  resolved_by BIGINT NULL,
  resolved_at TIMESTAMPTZ NULL,
  notes TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_theft_alerts_unresolved ON theft_alerts(detected_at DESC) WHERE NOT resolved`,
		`
CREATE TABLE IF NOT EXISTS alert_recipients (
  alert_id BIGINT NOT NULL REFERENCES theft_alerts(id) ON DELETE CASCADE,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  sent_at TIMESTAMPTZ NOT NULL,
  delivered BOOLEAN NOT NULL DEFAULT FALSE,
  delivered_at TIMESTAMPTZ NULL,
  is_read BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (alert_id, user_id)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
