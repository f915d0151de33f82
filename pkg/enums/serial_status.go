package enums

// SerialStatus is stored in serial_units.status.
type SerialStatus string

const (
	SerialStatusAvailable         SerialStatus = "available"
	SerialStatusReservedForOrder  SerialStatus = "reserved_for_order"
	SerialStatusAllocatedToDealer SerialStatus = "allocated_to_dealer"
	SerialStatusSold              SerialStatus = "sold"
)

// lifecycle order
var serialStatuses = []SerialStatus{
	SerialStatusAvailable,
	SerialStatusReservedForOrder,
	SerialStatusAllocatedToDealer,
	SerialStatusSold,
}

func (s SerialStatus) String() string { return string(s) }

func (s SerialStatus) IsValid() bool {
	_, err := ParseSerialStatus(string(s))
	return err == nil
}

// LinksOrderItem is true for the statuses that must reference an order item.
func (s SerialStatus) LinksOrderItem() bool {
	return s == SerialStatusReservedForOrder || s == SerialStatusAllocatedToDealer
}

// SerialStatuses returns a copy of every status in lifecycle order.
func SerialStatuses() []SerialStatus {
	return append([]SerialStatus(nil), serialStatuses...)
}

func ParseSerialStatus(value string) (SerialStatus, error) {
	return parse("serial status", value, serialStatuses)
}
