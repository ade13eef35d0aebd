package domain

// PaymentStatus описывает состояние расчёта по заказу.
type PaymentStatus string

const (
	// PaymentStatusFailed: начальное состояние и результат неудачной онлайн-оплаты.
	PaymentStatusFailed PaymentStatus = "PAYMENT_FAILED"
	// PaymentStatusPaid: онлайн-оплата подтверждена шлюзом.
	PaymentStatusPaid PaymentStatus = "PAID"
	// PaymentStatusOffline: заказ оплачен на борту (наличные, терминал).
	PaymentStatusOffline PaymentStatus = "OFFLINE_PAYMENT"
)

// Метки способа расчёта, сохраняемые в Order.PaymentGateway.
const (
	PaymentGatewayOnline  = "ONLINE_PAYMENT"
	PaymentGatewayOffline = "OFFLINE_PAYMENT"
)

// ParsePaymentStatus проверяет, что строка является известным статусом оплаты.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	switch status := PaymentStatus(value); status {
	case PaymentStatusFailed, PaymentStatusPaid, PaymentStatusOffline:
		return status, nil
	default:
		return "", ErrUnknownPaymentStatus
	}
}

// IsSettled сообщает, закрыт ли расчёт по заказу любым способом.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusOffline
}
