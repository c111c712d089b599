package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	EventBookingApproved           = "booking.approved"
	EventBookingRejected           = "booking.rejected"
	EventBookingInfoRequested      = "booking.info_requested"
	EventBookingReviewResumed      = "booking.review_resumed"
	EventBookingApprovalRolledBack = "booking.approval_rolled_back"
	EventBookingSubmitted          = "booking.submitted"
	EventShipmentCreated           = "shipment.created"
	EventShipmentMilestoneAdded    = "shipment.milestone_added"
	EventShipmentCarrierAssigned   = "shipment.carrier_assigned"
)

// OutboxEvent is a domain event stored together with the change that produced it.
type OutboxEvent struct {
	ID          string
	Type        string
	AggregateID string
	Payload     json.RawMessage
	OccurredAt  time.Time

	PublishedAt *time.Time
	LeaseUntil  *time.Time
	Attempts    int32
}

func NewOutboxEvent(typ, aggregateID string, payload any, at time.Time) (*OutboxEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", typ)
	}
	return &OutboxEvent{
		ID:          uuid.NewString(),
		Type:        typ,
		AggregateID: aggregateID,
		Payload:     b,
		OccurredAt:  at.UTC(),
	}, nil
}
