package shipments

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/cache/rediscache"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/storage/memstore"
)

var ops = models.Actor{Name: "dana", Role: "ops"}

type flakyRepo struct {
	*memstore.Store

	mu         sync.Mutex
	appendErrs []error
	getErr     error
}

func (f *flakyRepo) AppendMilestone(ctx context.Context, a models.MilestoneAppend) error {
	f.mu.Lock()
	var err error
	if len(f.appendErrs) > 0 {
		err, f.appendErrs = f.appendErrs[0], f.appendErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.AppendMilestone(ctx, a)
}

func (f *flakyRepo) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.GetShipment(ctx, id)
}

// pausingRepo останавливает первое чтение после arm до закрытия resume.
type pausingRepo struct {
	*memstore.Store

	armed  atomic.Bool
	once   sync.Once
	paused chan struct{}
	resume chan struct{}
}

func (p *pausingRepo) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	sh, err := p.Store.GetShipment(ctx, id)
	if p.armed.Load() {
		p.once.Do(func() {
			close(p.paused)
			<-p.resume
		})
	}
	return sh, err
}

func approvedBooking(id string) *models.BookingRequest {
	ready := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return &models.BookingRequest{
		ID:            id,
		RequestNumber: "BR-" + id,
		CustomerID:    "cust-1",
		CustomerEmail: "ops@acme.test",
		Pickup:        models.Location{Company: "Acme", City: "Dallas", State: "TX", Zip: "75001", ReadyDate: &ready},
		Delivery:      models.Location{Company: "Beta", City: "Austin", State: "TX", Zip: "73301"},
		Cargo:         models.BookingCargo{TotalWeight: 1200, TotalPieces: 3, Description: "pallets"},
		Pricing:       models.Pricing{Total: 950},
		Status:        models.BookingStatusApproved,
	}
}

func newShipment(t *testing.T, svc *Service, bookingID string) *models.Shipment {
	t.Helper()
	sh, err := svc.CreateFromBooking(context.Background(), CreateInput{
		Booking: approvedBooking(bookingID),
		Carrier: models.CarrierAssignment{Name: "XPO Logistics", Verified: true},
		Actor:   ops,
	})
	require.NoError(t, err)
	return sh
}

func add(svc *Service, id string, typ models.ShipmentStatus) (*models.Shipment, error) {
	return svc.AddMilestone(context.Background(), AddMilestoneInput{ShipmentID: id, Type: typ, Actor: ops})
}

func TestCreateFromBooking_SeedsShipment(t *testing.T) {
	st := memstore.New()
	svc := New(st, nil, 0)

	sh := newShipment(t, svc, "b1")
	require.Equal(t, models.ShipmentStatusCreated, sh.Status())
	require.Empty(t, sh.Milestones)
	require.Equal(t, "b1", sh.BookingID)
	require.Equal(t, "Dallas", sh.Origin.City)
	require.Equal(t, "Austin", sh.Destination.City)
	require.Equal(t, 3, sh.Cargo.Pieces)
	require.Equal(t, 950.0, sh.Costs.CustomerPrice)
	require.NotNil(t, sh.ScheduledPickup)
	require.Regexp(t, `^SHP-[0-9A-F]{8}$`, sh.ShipmentNumber)

	evs := st.Events()
	require.Len(t, evs, 1)
	require.Equal(t, models.EventShipmentCreated, evs[0].Type)

	// второй раз по той же заявке нельзя
	_, err := svc.CreateFromBooking(context.Background(), CreateInput{
		Booking: approvedBooking("b1"),
		Carrier: models.CarrierAssignment{Name: "XPO Logistics"},
	})
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCreateFromBooking_Validation(t *testing.T) {
	svc := New(memstore.New(), nil, 0)

	_, err := svc.CreateFromBooking(context.Background(), CreateInput{})
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	pending := approvedBooking("b1")
	pending.Status = models.BookingStatusPendingReview
	_, err = svc.CreateFromBooking(context.Background(), CreateInput{Booking: pending, Carrier: models.CarrierAssignment{Name: "X"}})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.CreateFromBooking(context.Background(), CreateInput{Booking: approvedBooking("b1"), Carrier: models.CarrierAssignment{Name: "  "}})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestAddMilestone_SkipAheadThenBackwardsRejected(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	sh := newShipment(t, svc, "b1")

	for _, typ := range []models.ShipmentStatus{models.ShipmentStatusDispatched, models.ShipmentStatusOnsite, models.ShipmentStatusInTransit} {
		_, err := add(svc, sh.ID, typ)
		require.NoError(t, err, typ)
	}

	_, err := add(svc, sh.ID, models.ShipmentStatusLoading)
	require.ErrorIs(t, err, models.ErrOutOfOrderMilestone)

	st, err := svc.CurrentStatus(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusInTransit, st)

	got, err := svc.Get(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Len(t, got.Milestones, 3)
	for i, m := range got.Milestones {
		require.Equal(t, i+1, m.Seq)
		require.Equal(t, "dana", m.RecordedBy)
	}
}

func TestAddMilestone_FullProgressionThenTerminal(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	sh := newShipment(t, svc, "b1")

	for _, typ := range models.Progression()[1:] {
		out, err := add(svc, sh.ID, typ)
		require.NoError(t, err, typ)
		require.Equal(t, typ, out.Status())
	}

	for _, typ := range append(models.Progression()[1:], models.ShipmentStatusCancelled) {
		_, err := add(svc, sh.ID, typ)
		require.ErrorIs(t, err, models.ErrInvalidTransition, typ)
	}
}

func TestAddMilestone_CancelFromEveryNonTerminalState(t *testing.T) {
	for i, target := range models.Progression() {
		if target.IsTerminal() {
			continue
		}
		svc := New(memstore.New(), nil, 0)
		sh := newShipment(t, svc, "b1")
		for _, typ := range models.Progression()[1 : i+1] {
			_, err := add(svc, sh.ID, typ)
			require.NoError(t, err)
		}

		out, err := add(svc, sh.ID, models.ShipmentStatusCancelled)
		require.NoError(t, err, "cancel from %s", target)
		require.Equal(t, models.ShipmentStatusCancelled, out.Status())

		_, err = add(svc, sh.ID, models.ShipmentStatusDispatched)
		require.ErrorIs(t, err, models.ErrInvalidTransition)
	}
}

func TestAddMilestone_CreatedIsNotAppendable(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	sh := newShipment(t, svc, "b1")

	_, err := add(svc, sh.ID, models.ShipmentStatusCreated)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = add(svc, sh.ID, models.ShipmentStatus("LOST"))
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = add(svc, "missing", models.ShipmentStatusDispatched)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestAddMilestone_EarlierTimestampAcceptedWithWarning(t *testing.T) {
	st := memstore.New()
	svc := New(st, nil, 0)
	sh := newShipment(t, svc, "b1")

	t1 := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)
	_, err := svc.AddMilestone(context.Background(), AddMilestoneInput{ShipmentID: sh.ID, Type: models.ShipmentStatusDispatched, Timestamp: &t1})
	require.NoError(t, err)

	t0 := t1.Add(-2 * time.Hour)
	out, err := svc.AddMilestone(context.Background(), AddMilestoneInput{ShipmentID: sh.ID, Type: models.ShipmentStatusOnsite, Timestamp: &t0})
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusOnsite, out.Status())
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "earlier than previous milestone DISPATCHED")
	require.Equal(t, t0, out.Milestones[1].Timestamp)

	// предупреждение не сохраняется, но уходит в событие
	stored, err := st.GetShipment(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Warnings)

	evs := st.Events()
	var added messages.MilestoneAdded
	require.NoError(t, json.Unmarshal(evs[len(evs)-1].Payload, &added))
	require.Equal(t, "ONSITE", added.Type)
	require.Equal(t, "DISPATCHED", added.PrevStatus)
	require.Len(t, added.Warnings, 1)
}

func TestAddMilestone_DefaultTimestampIsAcceptanceTime(t *testing.T) {
	fixed := time.Date(2026, 5, 3, 9, 30, 0, 0, time.UTC)
	svc := New(memstore.New(), nil, 0).WithClock(func() time.Time { return fixed })
	sh := newShipment(t, svc, "b1")

	out, err := svc.AddMilestone(context.Background(), AddMilestoneInput{
		ShipmentID: sh.ID,
		Type:       models.ShipmentStatusDispatched,
		Location:   models.Ptr("  Dallas yard "),
		Notes:      models.Ptr("   "),
	})
	require.NoError(t, err)
	m := out.Milestones[0]
	require.Equal(t, fixed, m.Timestamp)
	require.Equal(t, fixed, m.RecordedAt)
	require.Equal(t, "Dallas yard", *m.Location)
	require.Nil(t, m.Notes)
	require.Empty(t, out.Warnings)
	require.Equal(t, "anonymous", m.RecordedBy)
}

func TestAddMilestone_ConcurrentAppendsKeepContiguousSeq(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	sh := newShipment(t, svc, "b1")
	_, err := add(svc, sh.ID, models.ShipmentStatusInTransit)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := add(svc, sh.ID, models.ShipmentStatusInTransit)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.Get(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Len(t, got.Milestones, 21)
	for i, m := range got.Milestones {
		require.Equal(t, i+1, m.Seq)
	}
	require.Zero(t, svc.locks.size())
}

func TestAddMilestone_RetriesSeqConflict(t *testing.T) {
	repo := &flakyRepo{Store: memstore.New()}
	svc := New(repo, nil, 0)
	sh := newShipment(t, svc, "b1")

	repo.appendErrs = []error{errors.Wrap(models.ErrVersionConflict, "race")}
	out, err := add(svc, sh.ID, models.ShipmentStatusDispatched)
	require.NoError(t, err)
	require.Len(t, out.Milestones, 1)

	repo.appendErrs = []error{models.ErrVersionConflict, models.ErrVersionConflict, models.ErrVersionConflict}
	_, err = add(svc, sh.ID, models.ShipmentStatusOnsite)
	require.ErrorIs(t, err, models.ErrDependencyUnavailable)
}

func TestAddMilestone_StoreFailureIsUnavailable(t *testing.T) {
	repo := &flakyRepo{Store: memstore.New()}
	svc := New(repo, nil, 0)
	sh := newShipment(t, svc, "b1")

	repo.appendErrs = []error{errors.New("connection reset")}
	_, err := add(svc, sh.ID, models.ShipmentStatusDispatched)
	require.ErrorIs(t, err, models.ErrDependencyUnavailable)

	repo.getErr = errors.New("connection reset")
	_, err = svc.CurrentStatus(context.Background(), sh.ID)
	require.ErrorIs(t, err, models.ErrDependencyUnavailable)
}

func TestAssignCarrier_LockedAfterDispatched(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	sh := newShipment(t, svc, "b1")

	out, err := svc.AssignCarrier(context.Background(), AssignCarrierInput{
		ShipmentID: sh.ID,
		Carrier:    models.CarrierAssignment{Name: "Old Dominion", ProNumber: "PRO-1"},
		Actor:      ops,
	})
	require.NoError(t, err)
	require.Equal(t, "Old Dominion", out.Carrier.Name)

	_, err = add(svc, sh.ID, models.ShipmentStatusDispatched)
	require.NoError(t, err)
	_, err = svc.AssignCarrier(context.Background(), AssignCarrierInput{ShipmentID: sh.ID, Carrier: models.CarrierAssignment{Name: "Estes Express"}})
	require.NoError(t, err)

	_, err = add(svc, sh.ID, models.ShipmentStatusOnsite)
	require.NoError(t, err)
	_, err = svc.AssignCarrier(context.Background(), AssignCarrierInput{ShipmentID: sh.ID, Carrier: models.CarrierAssignment{Name: "FedEx Freight"}})
	require.ErrorIs(t, err, models.ErrCarrierLocked)

	got, err := svc.Get(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, "Estes Express", got.Carrier.Name)
	require.Equal(t, models.ShipmentStatusOnsite, got.Status())
}

func TestAssignCarrier_Validation(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	_, err := svc.AssignCarrier(context.Background(), AssignCarrierInput{ShipmentID: "x"})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
	_, err = svc.AssignCarrier(context.Background(), AssignCarrierInput{ShipmentID: "x", Carrier: models.CarrierAssignment{Name: "X"}})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestList_ByTab(t *testing.T) {
	svc := New(memstore.New(), nil, 0)
	a := newShipment(t, svc, "b1")
	b := newShipment(t, svc, "b2")
	_, err := add(svc, b.ID, models.ShipmentStatusCancelled)
	require.NoError(t, err)

	active, err := svc.List(context.Background(), models.ShipmentFilter{Tab: models.TabActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a.ID, active[0].ID)

	pending, err := svc.List(context.Background(), models.ShipmentFilter{Tab: models.TabPending})
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestGet_MissRefillDoesNotOverwriteNewerMilestone(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	repo := &pausingRepo{Store: memstore.New(), paused: make(chan struct{}), resume: make(chan struct{})}
	svc := New(repo, rc, time.Minute)
	sh := newShipment(t, svc, "b1")
	mr.Del(currentKey(sh.ID))
	repo.armed.Store(true)

	getDone := make(chan error, 1)
	go func() {
		_, err := svc.Get(context.Background(), sh.ID)
		getDone <- err
	}()
	<-repo.paused

	addDone := make(chan error, 1)
	go func() {
		_, err := add(svc, sh.ID, models.ShipmentStatusDispatched)
		addDone <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(repo.resume)
	require.NoError(t, <-getDone)
	require.NoError(t, <-addDone)

	got, err := svc.Get(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, models.ShipmentStatusDispatched, got.Status())
	require.Len(t, got.Milestones, 1)

	raw, err := mr.Get(currentKey(sh.ID))
	require.NoError(t, err)
	var cached models.Shipment
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	require.Equal(t, models.ShipmentStatusDispatched, cached.Status())
	require.Zero(t, svc.locks.size())
}
