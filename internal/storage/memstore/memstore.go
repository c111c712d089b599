// Package memstore keeps bookings, shipments and outbox events in process memory.
// It honours the same compare-and-set contract as the Postgres storage and is
// used by tests and by the api when storage_driver is "memory".
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/pkg/errors"
)

type Store struct {
	mu sync.RWMutex

	bookings         map[string]*models.BookingRequest
	bookingsByNumber map[string]string
	shipments        map[string]*models.Shipment
	shipmentByBook   map[string]string
	outbox           []*models.OutboxEvent

	now func() time.Time
}

func New() *Store {
	return &Store{
		bookings:         make(map[string]*models.BookingRequest),
		bookingsByNumber: make(map[string]string),
		shipments:        make(map[string]*models.Shipment),
		shipmentByBook:   make(map[string]string),
		now:              time.Now,
	}
}

func (s *Store) Close() {}

func alive(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *Store) addEvent(ev *models.OutboxEvent) {
	if ev == nil {
		return
	}
	c := *ev
	c.Payload = append([]byte(nil), ev.Payload...)
	c.PublishedAt = nil
	c.LeaseUntil = nil
	c.Attempts = 0
	s.outbox = append(s.outbox, &c)
}

func (s *Store) CreateBooking(ctx context.Context, b *models.BookingRequest, ev *models.OutboxEvent) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[b.ID]; ok {
		return errors.Wrapf(models.ErrVersionConflict, "booking %s already exists", b.ID)
	}
	if _, ok := s.bookingsByNumber[b.RequestNumber]; ok {
		return errors.Wrapf(models.ErrVersionConflict, "request number %s already exists", b.RequestNumber)
	}
	c := b.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.bookings[c.ID] = c
	s.bookingsByNumber[c.RequestNumber] = c.ID
	s.addEvent(ev)
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.BookingRequest, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "booking %s", id)
	}
	return b.Clone(), nil
}

func (s *Store) GetBookingByRequestNumber(ctx context.Context, number string) (*models.BookingRequest, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bookingsByNumber[number]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "booking %s", number)
	}
	return s.bookings[id].Clone(), nil
}

// ListBookings returns bookings newest first.
func (s *Store) ListBookings(ctx context.Context, status *models.BookingStatus) ([]*models.BookingRequest, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.BookingRequest, 0, len(s.bookings))
	for _, b := range s.bookings {
		if status != nil && b.Status != *status {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateBookingReview(ctx context.Context, upd models.BookingReviewUpdate) (*models.BookingRequest, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bookings[upd.BookingID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "booking %s", upd.BookingID)
	}
	if cur.Status != upd.ExpectedStatus || cur.Version != upd.ExpectedVersion {
		return nil, errors.Wrapf(models.ErrVersionConflict, "booking %s is %s v%d, expected %s v%d",
			cur.ID, cur.Status, cur.Version, upd.ExpectedStatus, upd.ExpectedVersion)
	}

	next := cur.Clone()
	applyReview(next, upd.Booking)
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()

	s.bookings[next.ID] = next
	s.addEvent(upd.Event)
	return next.Clone(), nil
}

// applyReview copies the status and review fields only.
func applyReview(dst, src *models.BookingRequest) {
	r := src.Clone()
	dst.Status = r.Status
	dst.Carrier = r.Carrier
	dst.CarrierContact = r.CarrierContact
	dst.ReviewNotes = r.ReviewNotes
	dst.RejectionReason = r.RejectionReason
	dst.InfoRequest = r.InfoRequest
	dst.CustomerResponse = r.CustomerResponse
	dst.ReviewedBy = r.ReviewedBy
	dst.ReviewedAt = r.ReviewedAt
	dst.ShipmentID = r.ShipmentID
}

func (s *Store) CreateShipment(ctx context.Context, sh *models.Shipment, ev *models.OutboxEvent) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shipments[sh.ID]; ok {
		return errors.Wrapf(models.ErrVersionConflict, "shipment %s already exists", sh.ID)
	}
	if other, ok := s.shipmentByBook[sh.BookingID]; ok {
		return errors.Wrapf(models.ErrVersionConflict, "booking %s already has shipment %s", sh.BookingID, other)
	}
	c := sh.Clone()
	c.Warnings = nil
	s.shipments[c.ID] = c
	s.shipmentByBook[c.BookingID] = c.ID
	s.addEvent(ev)
	return nil
}

func (s *Store) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.shipments[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", id)
	}
	return sh.Clone(), nil
}

func (s *Store) GetShipmentByBooking(ctx context.Context, bookingID string) (*models.Shipment, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.shipmentByBook[bookingID]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment for booking %s", bookingID)
	}
	return s.shipments[id].Clone(), nil
}

// ListShipments returns shipments newest first.
func (s *Store) ListShipments(ctx context.Context, filter models.ShipmentFilter) ([]*models.Shipment, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Shipment, 0, len(s.shipments))
	for _, sh := range s.shipments {
		if !filter.Match(sh) {
			continue
		}
		out = append(out, sh.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AppendMilestone(ctx context.Context, a models.MilestoneAppend) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[a.ShipmentID]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "shipment %s", a.ShipmentID)
	}
	if len(sh.Milestones) != a.Milestone.Seq-1 {
		return errors.Wrapf(models.ErrVersionConflict, "shipment %s has %d milestones, append expects seq %d",
			sh.ID, len(sh.Milestones), a.Milestone.Seq)
	}

	next := sh.Clone()
	next.Milestones = append(next.Milestones, a.Milestone)
	next.UpdatedAt = a.Milestone.RecordedAt
	s.shipments[next.ID] = next.Clone()
	s.addEvent(a.Event)
	return nil
}

func (s *Store) UpdateCarrier(ctx context.Context, u models.CarrierUpdate) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[u.ShipmentID]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "shipment %s", u.ShipmentID)
	}
	if len(sh.Milestones) != u.ExpectedSeq {
		return errors.Wrapf(models.ErrVersionConflict, "shipment %s has %d milestones, expected %d",
			sh.ID, len(sh.Milestones), u.ExpectedSeq)
	}

	next := sh.Clone()
	ca := u.Carrier
	next.Carrier = &ca
	next.UpdatedAt = s.now().UTC()
	s.shipments[next.ID] = next
	s.addEvent(u.Event)
	return nil
}

// ClaimPendingEvents leases up to limit unpublished events whose lease is free,
// oldest first. Only the oldest unpublished event of each aggregate is
// eligible, so a deferred event holds back everything after it.
func (s *Store) ClaimPendingEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	leaseUntil := now.Add(lease)
	seen := make(map[string]struct{})
	var out []*models.OutboxEvent
	for _, ev := range s.outbox {
		if len(out) >= limit {
			break
		}
		if ev.PublishedAt != nil {
			continue
		}
		if _, ok := seen[ev.AggregateID]; ok {
			continue
		}
		seen[ev.AggregateID] = struct{}{}
		if ev.LeaseUntil != nil && ev.LeaseUntil.After(now) {
			continue
		}
		lu := leaseUntil
		ev.LeaseUntil = &lu
		ev.Attempts++
		c := *ev
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, ev := range s.outbox {
		if _, ok := want[ev.ID]; !ok {
			continue
		}
		t := at.UTC()
		ev.PublishedAt = &t
		ev.LeaseUntil = nil
	}
	return nil
}

// Events returns a snapshot of the outbox, including published entries.
func (s *Store) Events() []models.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.OutboxEvent, 0, len(s.outbox))
	for _, ev := range s.outbox {
		out = append(out, *ev)
	}
	return out
}

// RescheduleEvents moves the lease of unpublished events to at.
func (s *Store) RescheduleEvents(ctx context.Context, ids []string, at time.Time) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, ev := range s.outbox {
		if _, ok := want[ev.ID]; !ok || ev.PublishedAt != nil {
			continue
		}
		t := at.UTC()
		ev.LeaseUntil = &t
	}
	return nil
}
