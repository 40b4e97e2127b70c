package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hawyaa/alora-backend/internal/catalog"
	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *catalog.Repository {
	repo, err := catalog.NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.RunMigrations("./migrations"))
	return repo
}

func TestResolveProduct_Seeded(t *testing.T) {
	repo := setupTestDB(t)

	p, err := repo.ResolveProduct(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Glossy Lip Gloss", p.Name)
	assert.Equal(t, "24.99", p.Price.StringFixed(2))
	assert.True(t, p.InStock)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestResolveProduct_OutOfStockFlag(t *testing.T) {
	repo := setupTestDB(t)

	p, err := repo.ResolveProduct(context.Background(), "6")
	require.NoError(t, err)
	assert.False(t, p.InStock)
}

func TestResolveProduct_NotFound(t *testing.T) {
	repo := setupTestDB(t)

	p, err := repo.ResolveProduct(context.Background(), "does-not-exist")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	repo := setupTestDB(t)
	assert.NoError(t, repo.RunMigrations("./migrations"))
}

func TestResolveProduct_WithContext(t *testing.T) {
	repo := setupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := repo.ResolveProduct(ctx, "2")
	assert.NoError(t, err)
}
