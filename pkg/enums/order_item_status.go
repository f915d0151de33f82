package enums

// OrderItemStatus is the status vocabulary understood by the order subsystem.
type OrderItemStatus string

const (
	OrderItemStatusPending   OrderItemStatus = "pending"
	OrderItemStatusCompleted OrderItemStatus = "completed"
	OrderItemStatusCancelled OrderItemStatus = "cancelled"
)
