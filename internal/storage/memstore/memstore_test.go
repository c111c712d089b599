package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/stretchr/testify/require"
)

func newBooking(id, number string, at time.Time) *models.BookingRequest {
	return &models.BookingRequest{
		ID:            id,
		RequestNumber: number,
		CustomerID:    "cust-1",
		Status:        models.BookingStatusPendingReview,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func newShipment(id, bookingID string, at time.Time) *models.Shipment {
	return &models.Shipment{
		ID:             id,
		ShipmentNumber: "SHP-" + id,
		BookingID:      bookingID,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestStore_BookingCreateGetList(t *testing.T) {
	ctx := context.Background()
	st := New()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateBooking(ctx, newBooking("b1", "BR-1", t0), nil))
	require.NoError(t, st.CreateBooking(ctx, newBooking("b2", "BR-2", t0.Add(time.Minute)), nil))

	err := st.CreateBooking(ctx, newBooking("b3", "BR-1", t0), nil)
	require.ErrorIs(t, err, models.ErrVersionConflict)

	got, err := st.GetBooking(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)

	byNum, err := st.GetBookingByRequestNumber(ctx, "BR-2")
	require.NoError(t, err)
	require.Equal(t, "b2", byNum.ID)

	_, err = st.GetBooking(ctx, "nope")
	require.ErrorIs(t, err, models.ErrNotFound)

	all, err := st.ListBookings(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b2", all[0].ID)

	approved := models.BookingStatusApproved
	none, err := st.ListBookings(ctx, &approved)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStore_UpdateBookingReview_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := New()
	require.NoError(t, st.CreateBooking(ctx, newBooking("b1", "BR-1", time.Now()), nil))

	next := newBooking("b1", "BR-1", time.Now())
	next.Status = models.BookingStatusApproved
	next.Carrier = models.Ptr("XPO Logistics")

	upd := models.BookingReviewUpdate{
		BookingID:       "b1",
		ExpectedStatus:  models.BookingStatusPendingReview,
		ExpectedVersion: 1,
		Booking:         next,
		Event:           &models.OutboxEvent{ID: "e1", Type: models.EventBookingApproved, AggregateID: "b1"},
	}
	out, err := st.UpdateBookingReview(ctx, upd)
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusApproved, out.Status)
	require.Equal(t, int64(2), out.Version)
	require.Equal(t, "XPO Logistics", *out.Carrier)

	// повтор с тем же ожиданием проигрывает
	_, err = st.UpdateBookingReview(ctx, upd)
	require.ErrorIs(t, err, models.ErrVersionConflict)

	_, err = st.UpdateBookingReview(ctx, models.BookingReviewUpdate{BookingID: "missing", Booking: next})
	require.ErrorIs(t, err, models.ErrNotFound)

	evs := st.Events()
	require.Len(t, evs, 1)
	require.Equal(t, "e1", evs[0].ID)
}

func TestStore_UpdateBookingReview_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := New()
	require.NoError(t, st.CreateBooking(ctx, newBooking("b1", "BR-1", time.Now()), nil))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := newBooking("b1", "BR-1", time.Now())
			next.Status = models.BookingStatusApproved
			_, err := st.UpdateBookingReview(ctx, models.BookingReviewUpdate{
				BookingID:       "b1",
				ExpectedStatus:  models.BookingStatusPendingReview,
				ExpectedVersion: 1,
				Booking:         next,
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestStore_ShipmentUniquePerBooking(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Now().UTC()

	require.NoError(t, st.CreateShipment(ctx, newShipment("s1", "b1", now), &models.OutboxEvent{ID: "e1"}))
	err := st.CreateShipment(ctx, newShipment("s2", "b1", now), nil)
	require.ErrorIs(t, err, models.ErrVersionConflict)

	sh, err := st.GetShipmentByBooking(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "s1", sh.ID)

	_, err = st.GetShipmentByBooking(ctx, "b9")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_AppendMilestone_SeqCompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Now().UTC()
	require.NoError(t, st.CreateShipment(ctx, newShipment("s1", "b1", now), nil))

	m := models.Milestone{Seq: 1, Type: models.ShipmentStatusDispatched, Timestamp: now, RecordedAt: now}
	require.NoError(t, st.AppendMilestone(ctx, models.MilestoneAppend{ShipmentID: "s1", Milestone: m}))

	err := st.AppendMilestone(ctx, models.MilestoneAppend{ShipmentID: "s1", Milestone: m})
	require.ErrorIs(t, err, models.ErrVersionConflict)

	m.Seq = 2
	m.Type = models.ShipmentStatusOnsite
	m.Location = models.Ptr("Dock 4")
	require.NoError(t, st.AppendMilestone(ctx, models.MilestoneAppend{ShipmentID: "s1", Milestone: m}))

	// изменение исходного значения не должно протекать в хранилище
	*m.Location = "changed"

	sh, err := st.GetShipment(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sh.Milestones, 2)
	require.Equal(t, models.ShipmentStatusOnsite, sh.Status())
	require.Equal(t, "Dock 4", *sh.Milestones[1].Location)

	err = st.AppendMilestone(ctx, models.MilestoneAppend{ShipmentID: "nope", Milestone: m})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_UpdateCarrier(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Now().UTC()
	require.NoError(t, st.CreateShipment(ctx, newShipment("s1", "b1", now), nil))

	err := st.UpdateCarrier(ctx, models.CarrierUpdate{ShipmentID: "s1", ExpectedSeq: 1, Carrier: models.CarrierAssignment{Name: "X"}})
	require.ErrorIs(t, err, models.ErrVersionConflict)

	require.NoError(t, st.UpdateCarrier(ctx, models.CarrierUpdate{ShipmentID: "s1", Carrier: models.CarrierAssignment{Name: "Estes Express"}}))
	sh, err := st.GetShipment(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "Estes Express", sh.Carrier.Name)
}

func TestStore_ListShipments_Filter(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Now().UTC()
	require.NoError(t, st.CreateShipment(ctx, newShipment("s1", "b1", now), nil))
	require.NoError(t, st.CreateShipment(ctx, newShipment("s2", "b2", now.Add(time.Second)), nil))
	require.NoError(t, st.AppendMilestone(ctx, models.MilestoneAppend{
		ShipmentID: "s2",
		Milestone:  models.Milestone{Seq: 1, Type: models.ShipmentStatusCancelled, Timestamp: now, RecordedAt: now},
	}))

	active, err := st.ListShipments(ctx, models.ShipmentFilter{Tab: models.TabActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "s1", active[0].ID)

	done, err := st.ListShipments(ctx, models.ShipmentFilter{Tab: models.TabCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.Equal(t, "s2", done[0].ID)

	all, err := st.ListShipments(ctx, models.ShipmentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "s2", all[0].ID)
}

func TestStore_OutboxClaimLeaseAndPublish(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Now().UTC()
	require.NoError(t, st.CreateShipment(ctx, newShipment("s1", "b1", now), &models.OutboxEvent{ID: "e1", Type: models.EventShipmentCreated, AggregateID: "s1"}))
	require.NoError(t, st.CreateShipment(ctx, newShipment("s2", "b2", now), &models.OutboxEvent{ID: "e2", Type: models.EventShipmentCreated, AggregateID: "s2"}))

	got, err := st.ClaimPendingEvents(ctx, now, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e1", got[0].ID)
	require.Equal(t, int32(1), got[0].Attempts)

	// e1 под lease, берём e2
	got, err = st.ClaimPendingEvents(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e2", got[0].ID)

	require.NoError(t, st.MarkEventsPublished(ctx, []string{"e2"}, now))

	// после истечения lease e1 снова доступен, e2 уже опубликован
	got, err = st.ClaimPendingEvents(ctx, now.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e1", got[0].ID)
	require.Equal(t, int32(2), got[0].Attempts)

	// перенос повтора на будущее прячет событие до этого момента
	retryAt := now.Add(10 * time.Minute)
	require.NoError(t, st.RescheduleEvents(ctx, []string{"e1"}, retryAt))
	got, err = st.ClaimPendingEvents(ctx, now.Add(5*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, got)
	got, err = st.ClaimPendingEvents(ctx, retryAt, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStore_OutboxClaimOnlyAggregateHead(t *testing.T) {
	ctx := context.Background()
	st := New()
	now := time.Now().UTC()
	require.NoError(t, st.CreateShipment(ctx, newShipment("s1", "b1", now), &models.OutboxEvent{ID: "e1", Type: models.EventShipmentCreated, AggregateID: "s1"}))
	for i, id := range []string{"e2", "e3"} {
		require.NoError(t, st.AppendMilestone(ctx, models.MilestoneAppend{
			ShipmentID: "s1",
			Milestone:  models.Milestone{Seq: i + 1, Type: models.ShipmentStatusInTransit, Timestamp: now, RecordedAt: now},
			Event:      &models.OutboxEvent{ID: id, Type: models.EventShipmentMilestoneAdded, AggregateID: "s1"},
		}))
	}
	require.NoError(t, st.CreateShipment(ctx, newShipment("s2", "b2", now), &models.OutboxEvent{ID: "f1", Type: models.EventShipmentCreated, AggregateID: "s2"}))

	got, err := st.ClaimPendingEvents(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "f1"}, eventIDs(got))

	// e1 перенесён: хвост s1 ждёт, даже когда свободен
	require.NoError(t, st.RescheduleEvents(ctx, []string{"e1"}, now.Add(10*time.Minute)))
	got, err = st.ClaimPendingEvents(ctx, now.Add(2*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = st.ClaimPendingEvents(ctx, now.Add(10*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"e1"}, eventIDs(got))
	require.NoError(t, st.MarkEventsPublished(ctx, []string{"e1"}, now))

	got, err = st.ClaimPendingEvents(ctx, now.Add(10*time.Minute), 10, time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"e2"}, eventIDs(got))
}

func eventIDs(evs []*models.OutboxEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	return out
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := New()
	_, err := st.GetBooking(ctx, "b1")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, st.CreateShipment(ctx, newShipment("s1", "b1", time.Now()), nil), context.Canceled)
}
