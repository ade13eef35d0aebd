package order

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// ItemInput: позиция во входящем запросе на создание или изменение заказа.
type ItemInput struct {
	ProductID string
	Quantity  int
}

// Input: данные заказа, которые задаёт покупатель.
type Input struct {
	BuyerEmail string
	SeatLetter string
	SeatNumber int
	Items      []ItemInput
}

// productLookup возвращает товар по идентификатору или ошибку с меткой domain.ErrNotFound.
type productLookup func(ctx context.Context, id string) (domain.Product, error)

// validateInput проверяет правила по порядку и возвращает первое нарушение.
// При успехе возвращает найденные товары по их идентификаторам.
func validateInput(ctx context.Context, in Input, lookup productLookup) (map[string]domain.Product, error) {
	if strings.TrimSpace(in.SeatLetter) == "" || in.SeatNumber <= 0 {
		return nil, domain.ErrMissingSeat
	}
	if len(in.Items) == 0 {
		return nil, domain.ErrItemsRequired
	}

	products := make(map[string]domain.Product, len(in.Items))
	for i, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, errors.Wrapf(domain.ErrInvalidProductReference, "item %d", i)
		}
		if _, ok := products[item.ProductID]; ok {
			continue
		}
		product, err := lookup(ctx, item.ProductID)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil, errors.Wrapf(domain.ErrInvalidProductReference, "item %d: product %q", i, item.ProductID)
			}
			return nil, errors.Wrapf(err, "load product %q", item.ProductID)
		}
		products[item.ProductID] = product
	}

	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, errors.Wrapf(domain.ErrNonPositiveQuantity, "item %d", i)
		}
	}

	seen := make(map[string]struct{}, len(in.Items))
	for _, item := range in.Items {
		if _, dup := seen[item.ProductID]; dup {
			return nil, errors.Wrapf(domain.ErrDuplicateProduct, "product %q", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}

	return products, nil
}
