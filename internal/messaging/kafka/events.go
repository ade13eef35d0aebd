package kafka

// Topics для Kafka
const (
	TopicOrderEvents     = "skyshop.order.events"
	TopicDeadLetterQueue = "skyshop.dlq"
)

// Заголовки сообщений. Позволяют маршрутизировать событие без разбора payload.
const (
	HeaderMessageID     = "x-message-id"
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
)
