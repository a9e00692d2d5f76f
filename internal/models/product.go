package models

import "github.com/shopspring/decimal"

type Product struct {
	ID          uint64          `json:"id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	StoreID     *uint64         `json:"store_id,omitempty"`
}

// EncryptedLabel is the ciphertext stored for a tag-to-label mapping.
type EncryptedLabel struct {
	EPC        string `json:"epc"`
	Ciphertext string `json:"ciphertext"`
}
