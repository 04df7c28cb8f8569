package product

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	"github.com/velora-commerce/storefront-backend/pkg/pagination"
)

func setupProductTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  price NUMERIC NOT NULL,
  image_url TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  stock INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	t.Cleanup(func() {
		db.Exec("DELETE FROM products")
	})
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price int64, stock int, active bool, createdAt time.Time) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:        uuid.New(),
		Name:      name,
		Price:     decimal.NewFromInt(price),
		IsActive:  active,
		Stock:     stock,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestDecrementStockGuardsAvailability(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	p := seedProduct(t, db, "Desk Lamp", 600, 3, true, time.Now().UTC())

	ok, err := repo.DecrementStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementStock(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "decrement below zero must be rejected")

	reloaded, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Stock)
}

func TestDecrementStockRejectsInactiveProduct(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	p := seedProduct(t, db, "Retired SKU", 100, 10, false, time.Now().UTC())

	ok, err := repo.DecrementStock(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementStockRestoresQuantity(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	p := seedProduct(t, db, "Notebook", 250, 5, true, time.Now().UTC())
	require.NoError(t, repo.IncrementStock(ctx, p.ID, 4))

	reloaded, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, reloaded.Stock)
}

func TestListProductsPagesNewestFirst(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedProduct(t, db, fmt.Sprintf("Item %d", i), 100, 1, true, base.Add(time.Duration(i)*time.Minute))
	}
	seedProduct(t, db, "Hidden", 100, 1, false, base.Add(time.Hour))

	page, err := repo.List(ctx, pagination.Params{Limit: 3}, ListFilters{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "Item 4", page.Items[0].Name)

	next, err := repo.List(ctx, pagination.Params{Limit: 3, Cursor: page.NextCursor}, ListFilters{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, next.Items, 2)
	assert.Empty(t, next.NextCursor)
	assert.Equal(t, "Item 0", next.Items[1].Name)
}

func TestListProductsSearchFilter(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	seedProduct(t, db, "Ceramic Mug", 150, 2, true, now)
	seedProduct(t, db, "Steel Bottle", 300, 2, true, now.Add(time.Second))

	page, err := repo.List(ctx, pagination.Params{Limit: 10}, ListFilters{Search: "mug"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Ceramic Mug", page.Items[0].Name)
}

func TestCreatePersistsInactiveFlag(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Product{
		ID:       uuid.New(),
		Name:     "Draft Listing",
		Price:    decimal.NewFromInt(120),
		IsActive: false,
		Stock:    4,
	})
	require.NoError(t, err)

	reloaded, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive, "inactive flag must survive the insert, not fall back to the column default")

	page, err := repo.List(ctx, pagination.Params{Limit: 10}, ListFilters{ActiveOnly: true})
	require.NoError(t, err)
	for _, item := range page.Items {
		assert.NotEqual(t, created.ID, item.ID, "inactive product must stay out of the active listing")
	}
}

func TestFindByIDsSkipsUnknown(t *testing.T) {
	db := setupProductTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	p := seedProduct(t, db, "Poster", 90, 1, true, time.Now().UTC())

	found, err := repo.FindByIDs(ctx, []uuid.UUID{p.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID, found[0].ID)
}
