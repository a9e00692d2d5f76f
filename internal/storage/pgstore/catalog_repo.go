package pgstore

import (
	"context"

	"github.com/BearBump/TagGuard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ProductByEPC returns the product a tag is associated with.
func (s *Storage) ProductByEPC(ctx context.Context, epc string) (*models.Product, error) {
	var (
		p     models.Product
		price string
	)
	err := s.db.QueryRow(ctx, `
SELECT p.id, p.sku, p.name, p.description, p.price::text, p.store_id
FROM tags t
JOIN products p ON p.id = t.product_id
WHERE t.epc = $1
`, epc).Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &price, &p.StoreID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select product by epc")
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, errors.Wrap(err, "parse price")
	}
	return &p, nil
}

func (s *Storage) UpsertProduct(ctx context.Context, p models.Product) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO products (sku, name, description, price, store_id)
VALUES ($1,$2,$3,$4::numeric,$5)
ON CONFLICT (sku) DO UPDATE SET
  name = EXCLUDED.name,
  description = EXCLUDED.description,
  price = EXCLUDED.price,
  store_id = EXCLUDED.store_id
RETURNING id
`, p.SKU, p.Name, p.Description, p.Price.String(), p.StoreID).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "upsert product")
	}
	return id, nil
}

// AssignProduct links a tag to a product, creating the tag record if needed.
func (s *Storage) AssignProduct(ctx context.Context, epc string, productID uint64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO tags (epc, product_id, read_count, first_seen, last_seen, created_at, updated_at)
VALUES ($1,$2,0,now(),now(),now(),now())
ON CONFLICT (epc) DO UPDATE SET product_id = EXCLUDED.product_id, updated_at = now()
`, epc, productID)
	if err != nil {
		return errors.Wrap(err, "assign product")
	}
	return nil
}

func (s *Storage) FindLabel(ctx context.Context, epc string) (*models.EncryptedLabel, error) {
	var l models.EncryptedLabel
	err := s.db.QueryRow(ctx, `SELECT epc, ciphertext FROM tag_label_mappings WHERE epc = $1`, epc).
		Scan(&l.EPC, &l.Ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select label")
	}
	return &l, nil
}

func (s *Storage) UpsertLabel(ctx context.Context, l models.EncryptedLabel) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO tag_label_mappings (epc, ciphertext)
VALUES ($1,$2)
ON CONFLICT (epc) DO UPDATE SET ciphertext = EXCLUDED.ciphertext
`, l.EPC, l.Ciphertext)
	if err != nil {
		return errors.Wrap(err, "upsert label")
	}
	return nil
}
