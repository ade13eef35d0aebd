package domain

import "github.com/cockroachdb/errors"

// Базовые категории ошибок. Конкретная ошибка относится к категории через
// таблицу kinds ниже или через errors.Mark на месте возникновения; транспортный
// слой проверяет только категорию (Kind, HasKind).
// Сообщения всех sentinel-ошибок уникальны: errors.Is в cockroachdb/errors
// сравнивает ошибки в том числе по тексту.
var (
	// ErrNotFound: запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidOrder: заказ не прошёл валидацию.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrPaymentRejected: оплата запрещена текущим состоянием заказа.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrPaymentProcessingFailed: платёжный шлюз отклонил списание или вернул ошибку.
	ErrPaymentProcessingFailed = errors.New("payment processing failed")
	// ErrConflict: конкурентное изменение или нарушение уникальности.
	ErrConflict = errors.New("conflict")
	// ErrInvalidProduct: товар не прошёл валидацию.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrInvalidCategory: категория не прошла валидацию.
	ErrInvalidCategory = errors.New("invalid category")
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// Ошибки валидации заказа, по одной на правило.
var (
	ErrMissingSeat             = errors.New("missing seat position")
	ErrItemsRequired           = errors.New("order must have at least one item")
	ErrInvalidProductReference = errors.New("invalid product reference")
	ErrNonPositiveQuantity     = errors.New("non-positive quantity")
	ErrDuplicateProduct        = errors.New("duplicate product")
	ErrUnknownOrderStatus      = errors.New("unknown order status")
	ErrTotalMismatch           = errors.New("order total does not match items sum")
	ErrNegativeUnitPrice       = errors.New("item unit price must be non-negative")
	ErrUnknownPaymentStatus    = errors.New("unknown payment status")
	ErrOrderAlreadyPaid        = errors.New("order already paid")
	ErrOrderAlreadySettled     = errors.New("order already settled")
	ErrOrderVersionConflict    = errors.New("order version conflict")
	ErrOrderLocked             = errors.New("order is locked by another operation")
	ErrOrderAlreadyExists      = errors.New("order already exists")
)

// Ошибки каталога.
var (
	ErrProductNameRequired  = errors.New("product name is required")
	ErrProductPriceInvalid  = errors.New("product price must be non-negative with at most two decimals")
	ErrProductNameTaken     = errors.New("product name already exists")
	ErrCategoryNameRequired = errors.New("category name is required")
	ErrCategoryCycle        = errors.New("category parent would create a cycle")
	ErrCategoryNameTaken    = errors.New("category name already exists")
	ErrCategoryInUse        = errors.New("category has products or subcategories")
)

// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
var ErrOutboxPublish = errors.New("outbox publish failed")

// kinds перечисляет категории в порядке приоритета вместе с их конкретными ошибками.
// Ошибки валидации идут раньше NotFound: ссылка на несуществующую сущность
// во входных данных остаётся ошибкой валидации.
var kinds = []struct {
	kind    error
	members []error
}{
	{ErrInvalidOrder, []error{
		ErrMissingSeat, ErrItemsRequired, ErrInvalidProductReference, ErrNonPositiveQuantity,
		ErrDuplicateProduct, ErrUnknownOrderStatus, ErrTotalMismatch, ErrNegativeUnitPrice,
		ErrUnknownPaymentStatus,
	}},
	{ErrInvalidProduct, []error{ErrProductNameRequired, ErrProductPriceInvalid}},
	{ErrInvalidCategory, []error{ErrCategoryNameRequired, ErrCategoryCycle}},
	{ErrPaymentRejected, []error{ErrOrderAlreadyPaid, ErrOrderAlreadySettled}},
	{ErrPaymentProcessingFailed, nil},
	{ErrNotFound, []error{ErrOrderNotFound, ErrProductNotFound, ErrCategoryNotFound}},
	{ErrConflict, []error{
		ErrOrderVersionConflict, ErrOrderLocked, ErrOrderAlreadyExists,
		ErrProductNameTaken, ErrCategoryNameTaken, ErrCategoryInUse,
	}},
}

// Kind возвращает категорию ошибки или nil, если err не относится ни к одной.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if matchesKind(err, k.kind, k.members) {
			return k.kind
		}
	}
	return nil
}

// HasKind сообщает, относится ли err к категории kind.
// В отличие от Kind, не учитывает приоритет категорий.
func HasKind(err, kind error) bool {
	if err == nil {
		return false
	}
	for _, k := range kinds {
		if k.kind == kind {
			return matchesKind(err, k.kind, k.members)
		}
	}
	return errors.Is(err, kind)
}

func matchesKind(err, kind error, members []error) bool {
	if errors.Is(err, kind) {
		return true
	}
	for _, m := range members {
		if errors.Is(err, m) {
			return true
		}
	}
	return false
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет принадлежность ошибки к категории ErrNotFound.
func IsNotFound(err error) bool {
	return HasKind(err, ErrNotFound)
}
