package models

type Tab string

const (
	TabNone      Tab = ""
	TabPending   Tab = "pending"
	TabActive    Tab = "active"
	TabCompleted Tab = "completed"
)

func ParseTab(s string) (Tab, bool) {
	switch t := Tab(s); t {
	case TabPending, TabActive, TabCompleted:
		return t, true
	}
	return TabNone, false
}

func IsActive(st ShipmentStatus) bool {
	return st != ShipmentStatusDelivered && st != ShipmentStatusCompleted && st != ShipmentStatusCancelled
}

func IsCompleted(st ShipmentStatus) bool {
	return st == ShipmentStatusDelivered || st == ShipmentStatusCompleted
}

// Classify puts a booking/shipment pair into one of the back-office tabs.
// shipmentStatus is nil while no shipment exists. Cancelled shipments get TabNone.
func Classify(bookingStatus BookingStatus, shipmentStatus *ShipmentStatus) Tab {
	if bookingStatus == BookingStatusPendingReview {
		return TabPending
	}
	if shipmentStatus == nil {
		return TabNone
	}
	switch {
	case IsCompleted(*shipmentStatus):
		return TabCompleted
	case IsActive(*shipmentStatus):
		return TabActive
	}
	return TabNone
}
