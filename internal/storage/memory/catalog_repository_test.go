package memory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/memory"
)

func TestProductRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()

	water := domain.Product{ID: "p-1", Name: "Water", Price: decimal.RequireFromString("2.50"), CategoryID: "drinks"}
	chips := domain.Product{ID: "p-2", Name: "Chips", Price: decimal.RequireFromString("3.00"), CategoryID: "snacks"}
	require.NoError(t, repo.Create(ctx, water))
	require.NoError(t, repo.Create(ctx, chips))

	require.ErrorIs(t, repo.Create(ctx, domain.Product{ID: "p-3", Name: "WATER"}), domain.ErrProductNameTaken)

	found, err := repo.FindByName(ctx, "water")
	require.NoError(t, err)
	require.Equal(t, "p-1", found.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Chips", all[0].Name)

	drinks, err := repo.ListByCategory(ctx, "drinks")
	require.NoError(t, err)
	require.Len(t, drinks, 1)

	water.Price = decimal.RequireFromString("3.00")
	require.NoError(t, repo.Update(ctx, water))
	stored, err := repo.Get(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, stored.Price.Equal(decimal.RequireFromString("3.00")))

	chips.Name = "water"
	require.ErrorIs(t, repo.Update(ctx, chips), domain.ErrProductNameTaken)

	require.NoError(t, repo.Delete(ctx, "p-1"))
	_, err = repo.Get(ctx, "p-1")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "p-1"), domain.ErrProductNotFound)
}

func TestCategoryRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCategoryRepository()

	require.NoError(t, repo.Create(ctx, domain.Category{ID: "c-1", Name: "Drinks"}))
	require.NoError(t, repo.Create(ctx, domain.Category{ID: "c-2", Name: "Hot drinks", ParentID: "c-1"}))
	require.ErrorIs(t, repo.Create(ctx, domain.Category{ID: "c-3", Name: "drinks"}), domain.ErrCategoryNameTaken)

	children, err := repo.ListChildren(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "c-2", children[0].ID)

	require.ErrorIs(t, repo.Update(ctx, domain.Category{ID: "missing", Name: "X"}), domain.ErrCategoryNotFound)
	require.NoError(t, repo.Delete(ctx, "c-2"))
	_, err = repo.Get(ctx, "c-2")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
}
