package desk_api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/FreightDesk/internal/broker/kafka"
	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/models"
)

func customerMessage(t *testing.T, ev messages.CustomerEvent) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Topic: "customer-events", Value: b}
}

func submittedEvent(number string) messages.CustomerEvent {
	return messages.CustomerEvent{
		Type: CustomerEventBookingSubmitted,
		Submitted: &messages.BookingSubmitted{
			RequestNumber: number,
			CustomerID:    "cust-9",
			CustomerEmail: "a@b.test",
			Pickup:        json.RawMessage(`{"company":"Acme","city":"Dallas","state":"TX","zip":"75001"}`),
			Delivery:      json.RawMessage(`{"company":"Beta","city":"Austin","state":"TX","zip":"73301"}`),
			Cargo:         json.RawMessage(`{"totalWeight":1200,"totalPieces":3,"description":"pallets"}`),
			Pricing:       json.RawMessage(`{"total":950}`),
		},
	}
}

func TestHandleCustomerEvent_Submitted(t *testing.T) {
	d := newTestDesk(t)
	ctx := context.Background()

	msg := customerMessage(t, submittedEvent("BR-77"))
	require.NoError(t, d.api.HandleCustomerEvent(ctx, msg))
	require.NoError(t, d.api.HandleCustomerEvent(ctx, msg))

	list, err := d.api.ListBookingRequests(ctx, &ListBookingRequestsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Bookings, 1)
	b := list.Bookings[0]
	require.Equal(t, "BR-77", b.RequestNumber)
	require.Equal(t, models.BookingStatusPendingReview, b.Status)
	require.Equal(t, "Dallas", b.Pickup.City)
	require.Equal(t, 950.0, b.Pricing.Total)
}

func TestHandleCustomerEvent_Responded(t *testing.T) {
	d := newTestDesk(t)
	ctx := context.Background()
	b := d.submit(t, "BR-78")
	_, err := d.api.RequestBookingInfo(ctx, &RequestBookingInfoRequest{BookingID: b.ID, Question: "dock hours?"})
	require.NoError(t, err)

	msg := customerMessage(t, messages.CustomerEvent{
		Type:      CustomerEventBookingResponded,
		Responded: &messages.BookingResponded{BookingID: b.ID, Response: "8-17"},
	})
	require.NoError(t, d.api.HandleCustomerEvent(ctx, msg))

	got, err := d.books.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusPendingReview, got.Status)
	require.Equal(t, "8-17", *got.CustomerResponse)
	require.Equal(t, "dock hours?", *got.InfoRequest)

	// повтор для уже возвращённой в очередь заявки пропускается
	require.NoError(t, d.api.HandleCustomerEvent(ctx, msg))
}

func TestHandleCustomerEvent_SkipsPoison(t *testing.T) {
	d := newTestDesk(t)
	ctx := context.Background()

	require.NoError(t, d.api.HandleCustomerEvent(ctx, kafka.Message{Value: []byte("{not json")}))
	require.NoError(t, d.api.HandleCustomerEvent(ctx, customerMessage(t, messages.CustomerEvent{Type: "booking.exploded"})))
	require.NoError(t, d.api.HandleCustomerEvent(ctx, customerMessage(t, messages.CustomerEvent{Type: CustomerEventBookingSubmitted})))
	require.NoError(t, d.api.HandleCustomerEvent(ctx, customerMessage(t, messages.CustomerEvent{
		Type:      CustomerEventBookingResponded,
		Responded: &messages.BookingResponded{BookingID: "missing"},
	})))

	bad := submittedEvent("BR-79")
	bad.Submitted.Cargo = json.RawMessage(`"heavy"`)
	require.NoError(t, d.api.HandleCustomerEvent(ctx, customerMessage(t, bad)))

	list, err := d.api.ListBookingRequests(ctx, &ListBookingRequestsRequest{})
	require.NoError(t, err)
	require.Empty(t, list.Bookings)
}

func TestHandleCustomerEvent_StoreDownIsRetried(t *testing.T) {
	d := newTestDesk(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.api.HandleCustomerEvent(ctx, customerMessage(t, submittedEvent("BR-80")))
	require.ErrorIs(t, err, models.ErrDependencyUnavailable)
}
