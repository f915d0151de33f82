package enums

// OutboxAggregateType is stored in outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateSerialUnit OutboxAggregateType = "serial_unit"
	AggregateOrderItem  OutboxAggregateType = "order_item"
)

var aggregateTypes = []OutboxAggregateType{AggregateSerialUnit, AggregateOrderItem}

func (a OutboxAggregateType) IsValid() bool {
	_, err := ParseOutboxAggregateType(string(a))
	return err == nil
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType is stored in outbox_events.event_type. Completion events go
// to the order subsystem; the rest are lifecycle notifications.
type OutboxEventType string

const (
	EventOrderItemCompleted   OutboxEventType = "order_item_completed"
	EventSerialUnitsAssigned  OutboxEventType = "serial_units_assigned"
	EventSerialUnitsAllocated OutboxEventType = "serial_units_allocated"
	EventSerialUnitSold       OutboxEventType = "serial_unit_sold"
	EventSerialUnitOverridden OutboxEventType = "serial_unit_overridden"
)

var eventTypes = []OutboxEventType{
	EventOrderItemCompleted,
	EventSerialUnitsAssigned,
	EventSerialUnitsAllocated,
	EventSerialUnitSold,
	EventSerialUnitOverridden,
}

func (e OutboxEventType) IsValid() bool {
	_, err := ParseOutboxEventType(string(e))
	return err == nil
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}

// OutboxDLQErrorReason records why an outbox row stopped being retried.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonRejected     OutboxDLQErrorReason = "rejected_by_receiver"
)

var dlqReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonRejected,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	_, err := parse("dlq reason", string(r), dlqReasons)
	return err == nil
}
