package messages

import (
	"encoding/json"
	"time"
)

// CustomerEvent arrives from the customer portal on the customer events topic.
// Exactly one of Submitted / Responded is set, according to Type.
type CustomerEvent struct {
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Submitted  *BookingSubmitted `json:"submitted,omitempty"`
	Responded  *BookingResponded `json:"responded,omitempty"`
}

type BookingSubmitted struct {
	RequestNumber string          `json:"request_number"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	Pickup        json.RawMessage `json:"pickup"`
	Delivery      json.RawMessage `json:"delivery"`
	Cargo         json.RawMessage `json:"cargo"`
	Pricing       json.RawMessage `json:"pricing"`
	Notes         string          `json:"notes,omitempty"`
}

type BookingResponded struct {
	BookingID string `json:"booking_id"`
	Response  string `json:"response"`
}
