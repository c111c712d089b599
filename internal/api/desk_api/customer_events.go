package desk_api

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/models"
)

const (
	CustomerEventBookingSubmitted = "booking.submitted"
	CustomerEventBookingResponded = "booking.responded"
)

// HandleCustomerEvent applies one message from the customer portal.
// Messages that can never succeed are logged and skipped; a nil error commits
// the offset. Dependency failures are returned so the message is redelivered.
func (a *DeskAPI) HandleCustomerEvent(ctx context.Context, msg kafka.Message) error {
	var ev messages.CustomerEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		slog.Warn("skip malformed customer event", "offset", msg.Offset, "err", err)
		return nil
	}

	err := a.applyCustomerEvent(ctx, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrDependencyUnavailable):
		return err
	default:
		slog.Warn("skip customer event", "type", ev.Type, "offset", msg.Offset, "code", models.ErrorCode(err), "err", err)
		return nil
	}
}

func (a *DeskAPI) applyCustomerEvent(ctx context.Context, ev messages.CustomerEvent) error {
	switch ev.Type {
	case CustomerEventBookingSubmitted:
		if ev.Submitted == nil {
			return errors.Wrap(models.ErrInvalidArgument, "submitted payload is missing")
		}
		in, err := toCreateInput(ev.Submitted)
		if err != nil {
			return err
		}
		_, err = a.bookings.Submit(ctx, in)
		return err
	case CustomerEventBookingResponded:
		if ev.Responded == nil {
			return errors.Wrap(models.ErrInvalidArgument, "responded payload is missing")
		}
		_, err := a.bookings.ResumeReview(ctx, ev.Responded.BookingID, ev.Responded.Response)
		return err
	}
	return errors.Wrapf(models.ErrInvalidArgument, "unknown customer event type %q", ev.Type)
}

func toCreateInput(m *messages.BookingSubmitted) (models.BookingCreateInput, error) {
	in := models.BookingCreateInput{
		RequestNumber: m.RequestNumber,
		CustomerID:    m.CustomerID,
		CustomerEmail: m.CustomerEmail,
		Notes:         m.Notes,
	}
	parts := []struct {
		name string
		raw  json.RawMessage
		dst  any
	}{
		{"pickup", m.Pickup, &in.Pickup},
		{"delivery", m.Delivery, &in.Delivery},
		{"cargo", m.Cargo, &in.Cargo},
		{"pricing", m.Pricing, &in.Pricing},
	}
	for _, p := range parts {
		if len(p.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(p.raw, p.dst); err != nil {
			return in, errors.Wrapf(models.ErrInvalidArgument, "decode %s: %v", p.name, err)
		}
	}
	return in, nil
}
