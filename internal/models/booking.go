package models

import "time"

type BookingStatus string

// Статусы заявки. approved и rejected терминальные.
const (
	BookingStatusPendingReview BookingStatus = "pending_review"
	BookingStatusApproved      BookingStatus = "approved"
	BookingStatusRejected      BookingStatus = "rejected"
	BookingStatusNeedsInfo     BookingStatus = "needs_info"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch st := BookingStatus(s); st {
	case BookingStatusPendingReview, BookingStatusApproved, BookingStatusRejected, BookingStatusNeedsInfo:
		return st, true
	}
	return "", false
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusApproved || s == BookingStatusRejected
}

// CanTransition reports whether a booking in status s may move to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	switch s {
	case BookingStatusPendingReview:
		return next == BookingStatusApproved || next == BookingStatusRejected || next == BookingStatusNeedsInfo
	case BookingStatusNeedsInfo:
		return next == BookingStatusApproved || next == BookingStatusRejected || next == BookingStatusPendingReview
	default:
		return false
	}
}

type Location struct {
	Company      string     `json:"company"`
	City         string     `json:"city"`
	State        string     `json:"state"`
	Zip          string     `json:"zip"`
	ReadyDate    *time.Time `json:"readyDate,omitempty"`
	RequiredDate *time.Time `json:"requiredDate,omitempty"`
}

type BookingCargo struct {
	TotalWeight float64 `json:"totalWeight"`
	TotalPieces int     `json:"totalPieces"`
	Description string  `json:"description"`
}

type Pricing struct {
	Total   float64 `json:"total"`
	Carrier *string `json:"carrier,omitempty"`
}

type CarrierContact struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	ProNumber string `json:"proNumber"`
}

type BookingRequest struct {
	ID            string        `json:"id"`
	RequestNumber string        `json:"requestNumber"`
	CustomerID    string        `json:"customerId"`
	CustomerEmail string        `json:"customerEmail"`
	Pickup        Location      `json:"pickup"`
	Delivery      Location      `json:"delivery"`
	Cargo         BookingCargo  `json:"cargo"`
	Pricing       Pricing       `json:"pricing"`
	Notes         string        `json:"notes"`
	Status        BookingStatus `json:"status"`

	Carrier          *string         `json:"carrier,omitempty"`
	CarrierContact   *CarrierContact `json:"carrierContact,omitempty"`
	ReviewNotes      *string         `json:"reviewNotes,omitempty"`
	RejectionReason  *string         `json:"rejectionReason,omitempty"`
	InfoRequest      *string         `json:"infoRequest,omitempty"`
	CustomerResponse *string         `json:"customerResponse,omitempty"`
	ReviewedBy       *string         `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time      `json:"reviewedAt,omitempty"`
	ShipmentID       *string         `json:"shipmentId,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so stores never share pointers with callers.
func (b *BookingRequest) Clone() *BookingRequest {
	if b == nil {
		return nil
	}
	c := *b
	c.Pickup.ReadyDate = cloneTime(b.Pickup.ReadyDate)
	c.Pickup.RequiredDate = cloneTime(b.Pickup.RequiredDate)
	c.Delivery.ReadyDate = cloneTime(b.Delivery.ReadyDate)
	c.Delivery.RequiredDate = cloneTime(b.Delivery.RequiredDate)
	c.Pricing.Carrier = cloneString(b.Pricing.Carrier)
	c.Carrier = cloneString(b.Carrier)
	if b.CarrierContact != nil {
		cc := *b.CarrierContact
		c.CarrierContact = &cc
	}
	c.ReviewNotes = cloneString(b.ReviewNotes)
	c.RejectionReason = cloneString(b.RejectionReason)
	c.InfoRequest = cloneString(b.InfoRequest)
	c.CustomerResponse = cloneString(b.CustomerResponse)
	c.ReviewedBy = cloneString(b.ReviewedBy)
	c.ReviewedAt = cloneTime(b.ReviewedAt)
	c.ShipmentID = cloneString(b.ShipmentID)
	return &c
}

// BookingReviewUpdate is a compare-and-set write of the review state of a booking.
// It is applied only if the stored booking still has ExpectedStatus and ExpectedVersion.
type BookingReviewUpdate struct {
	BookingID       string
	ExpectedStatus  BookingStatus
	ExpectedVersion int64

	// Booking holds the new review state; only status and review fields are written.
	Booking *BookingRequest

	Event *OutboxEvent
}

type BookingCreateInput struct {
	RequestNumber string
	CustomerID    string
	CustomerEmail string
	Pickup        Location
	Delivery      Location
	Cargo         BookingCargo
	Pricing       Pricing
	Notes         string
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func Ptr[T any](v T) *T { return &v }
