package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает состояние исполнения заказа.
type OrderStatus string

const (
	// OrderStatusOpen: заказ создан и ещё не оплачен.
	OrderStatusOpen OrderStatus = "OPEN"
	// OrderStatusFinished: заказ оплачен онлайн или офлайн.
	OrderStatusFinished OrderStatus = "FINISHED"
)

// ParseOrderStatus проверяет, что строка является известным статусом заказа.
func ParseOrderStatus(value string) (OrderStatus, error) {
	switch status := OrderStatus(value); status {
	case OrderStatusOpen, OrderStatusFinished:
		return status, nil
	default:
		return "", ErrUnknownOrderStatus
	}
}

// OrderItem: позиция заказа. Ссылается на товар по идентификатору.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int
	// UnitPrice: цена товара на момент создания или изменения заказа.
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}

// Order: агрегат заказа вместе с позициями.
type Order struct {
	ID             string
	BuyerEmail     string
	SeatLetter     string
	SeatNumber     int
	Items          []OrderItem
	TotalPrice     decimal.Decimal
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentGateway string
	CardToken      string
	PaymentDate    *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone возвращает копию заказа, не разделяющую слайс позиций и дату оплаты.
func (o Order) Clone() Order {
	clone := o
	if o.Items != nil {
		clone.Items = make([]OrderItem, len(o.Items))
		copy(clone.Items, o.Items)
	}
	if o.PaymentDate != nil {
		paid := *o.PaymentDate
		clone.PaymentDate = &paid
	}
	return clone
}

// ValidateInvariants проверяет инварианты уже собранного агрегата и возвращает список замечаний.
// Проверки, требующие каталога (существование товаров), выполняет сервис заказов.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.SeatLetter == "" || o.SeatNumber <= 0 {
		errs = append(errs, ErrMissingSeat)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if _, err := ParseOrderStatus(string(o.Status)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParsePaymentStatus(string(o.PaymentStatus)); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrNonPositiveQuantity)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrNegativeUnitPrice)
		}
		if _, dup := seen[item.ProductID]; dup {
			errs = append(errs, ErrDuplicateProduct)
		}
		seen[item.ProductID] = struct{}{}
	}

	// Итог обязан совпадать с суммой позиций: qty * price.
	if !CalculateTotal(o.Items).Equal(o.TotalPrice) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
