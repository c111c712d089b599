package messages

import (
	"encoding/json"
	"time"
)

// DeskEvent is the envelope published to the desk events topic for every outbox record.
type DeskEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

type BookingReviewed struct {
	BookingID     string    `json:"booking_id"`
	RequestNumber string    `json:"request_number"`
	Status        string    `json:"status"`
	PrevStatus    string    `json:"prev_status"`
	ReviewedBy    string    `json:"reviewed_by,omitempty"`
	Carrier       *string   `json:"carrier,omitempty"`
	Reason        *string   `json:"reason,omitempty"`
	Question      *string   `json:"question,omitempty"`
	ShipmentID    *string   `json:"shipment_id,omitempty"`
	At            time.Time `json:"at"`
}

type ShipmentCreated struct {
	ShipmentID      string    `json:"shipment_id"`
	ShipmentNumber  string    `json:"shipment_number"`
	BookingID       string    `json:"booking_id"`
	Carrier         string    `json:"carrier"`
	CarrierVerified bool      `json:"carrier_verified"`
	At              time.Time `json:"at"`
}

type MilestoneAdded struct {
	ShipmentID string    `json:"shipment_id"`
	Seq        int       `json:"seq"`
	Type       string    `json:"type"`
	PrevStatus string    `json:"prev_status"`
	Location   *string   `json:"location,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RecordedBy string    `json:"recorded_by,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
}

type CarrierAssigned struct {
	ShipmentID string    `json:"shipment_id"`
	Carrier    string    `json:"carrier"`
	ProNumber  string    `json:"pro_number,omitempty"`
	DriverName string    `json:"driver_name,omitempty"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	At         time.Time `json:"at"`
}
