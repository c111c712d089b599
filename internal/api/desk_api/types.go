package desk_api

import (
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
)

type ListBookingRequestsRequest struct {
	// Status filters by booking status; empty lists every booking.
	Status string `json:"status,omitempty"`
}

type ListBookingRequestsResponse struct {
	Bookings []*models.BookingRequest `json:"bookings"`
}

type GetBookingRequestRequest struct {
	BookingID string `json:"bookingId"`
}

type ApproveBookingRequest struct {
	BookingID      string                `json:"bookingId"`
	Carrier        string                `json:"carrier"`
	CarrierContact models.CarrierContact `json:"carrierContact"`
	Notes          string                `json:"notes,omitempty"`
}

type ApproveBookingResponse struct {
	Shipment *models.Shipment `json:"shipment"`
}

type RejectBookingRequest struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

type RequestBookingInfoRequest struct {
	BookingID string `json:"bookingId"`
	Question  string `json:"question"`
}

type BookingResponse struct {
	Booking *models.BookingRequest `json:"booking"`
}

type ListShipmentsRequest struct {
	Tab    string `json:"tab,omitempty"`
	Status string `json:"status,omitempty"`
}

type ListShipmentsResponse struct {
	Shipments []*models.Shipment `json:"shipments"`
}

type GetShipmentRequest struct {
	ShipmentID string `json:"shipmentId"`
}

type AddShipmentMilestoneRequest struct {
	ShipmentID string     `json:"shipmentId"`
	Type       string     `json:"type"`
	Location   *string    `json:"location,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type AssignCarrierRequest struct {
	ShipmentID string `json:"shipmentId"`
	Name       string `json:"name"`
	Contact    string `json:"contact,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	ProNumber  string `json:"proNumber,omitempty"`
	DriverName string `json:"driverName,omitempty"`
}

type ShipmentResponse struct {
	Shipment *models.Shipment `json:"shipment"`
}

type ListCarriersRequest struct{}

type ListCarriersResponse struct {
	Carriers []models.Carrier `json:"carriers"`
	// Source is "directory" or "fallback".
	Source string `json:"source"`
}
