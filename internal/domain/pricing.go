package domain

import "github.com/shopspring/decimal"

// MoneyScale: количество знаков после запятой у денежных сумм.
const MoneyScale = 2

// CalculateTotal считает сумму заказа как Σ price × qty в точной десятичной арифметике.
// Порядок позиций на результат не влияет.
func CalculateTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(MoneyScale)
}

// IsValidPrice проверяет, что цена неотрицательна и содержит не больше двух знаков после запятой.
func IsValidPrice(price decimal.Decimal) bool {
	if price.IsNegative() {
		return false
	}
	return price.Equal(price.Round(MoneyScale))
}
