package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product: позиция бортового каталога.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	ImageURL   string
	CategoryID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Category: узел дерева категорий. Подкатегории не хранятся,
// а выбираются по ParentID.
type Category struct {
	ID          string
	Name        string
	Description string
	ParentID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
