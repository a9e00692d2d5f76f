package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/TagGuard/internal/cache/rediscache"
	"github.com/BearBump/TagGuard/internal/models"
)

type fakeStore struct {
	products map[string]*models.Product
	err      error
	calls    int
}

func (s *fakeStore) ProductByEPC(ctx context.Context, epc string) (*models.Product, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[epc]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func TestCatalog_Lookup_CachesHitsAndMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	store := &fakeStore{products: map[string]*models.Product{
		"E200AA": {ID: 1, SKU: "SKU-1", Name: "Jacket", Price: decimal.RequireFromString("49.90")},
	}}
	c := New(store, rediscache.New(mr.Addr()), time.Minute)
	ctx := context.Background()

	p, err := c.Lookup(ctx, "e200aa")
	require.NoError(t, err)
	require.Equal(t, "Jacket", p.Name)

	p, err = c.Lookup(ctx, "E200AA")
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("49.9").Equal(p.Price))
	require.Equal(t, 1, store.calls)

	_, err = c.Lookup(ctx, "FFFF")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = c.Lookup(ctx, "FFFF")
	require.ErrorIs(t, err, models.ErrNotFound)
	require.Equal(t, 2, store.calls)

	require.NoError(t, c.Invalidate(ctx, "E200AA"))
	_, err = c.Lookup(ctx, "E200AA")
	require.NoError(t, err)
	require.Equal(t, 3, store.calls)
}

func TestCatalog_Lookup_StoreErrorNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	store := &fakeStore{err: errors.New("db down")}
	c := New(store, rediscache.New(mr.Addr()), time.Minute)

	_, err := c.Lookup(context.Background(), "E200AA")
	require.Error(t, err)
	require.False(t, mr.Exists("product:epc:E200AA"))
}

func TestCatalog_Lookup_NoCache(t *testing.T) {
	store := &fakeStore{products: map[string]*models.Product{"AB": {ID: 2}}}
	c := New(store, nil, 0)

	p, err := c.Lookup(context.Background(), "AB")
	require.NoError(t, err)
	require.Equal(t, uint64(2), p.ID)
	require.NoError(t, c.Invalidate(context.Background(), "AB"))
}
