package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/cache"
	"github.com/BearBump/FreightDesk/internal/models"
)

// maxAttempts bounds the read-validate-write loop when the store reports a concurrent append.
const maxAttempts = 3

type Repository interface {
	CreateShipment(ctx context.Context, sh *models.Shipment, ev *models.OutboxEvent) error
	GetShipment(ctx context.Context, id string) (*models.Shipment, error)
	GetShipmentByBooking(ctx context.Context, bookingID string) (*models.Shipment, error)
	ListShipments(ctx context.Context, filter models.ShipmentFilter) ([]*models.Shipment, error)
	AppendMilestone(ctx context.Context, a models.MilestoneAppend) error
	UpdateCarrier(ctx context.Context, u models.CarrierUpdate) error
}

type CreateInput struct {
	Booking *models.BookingRequest
	Carrier models.CarrierAssignment
	Actor   models.Actor
}

type AddMilestoneInput struct {
	ShipmentID string
	Type       models.ShipmentStatus
	Location   *string
	Notes      *string
	// Timestamp defaults to the acceptance time.
	Timestamp *time.Time
	Actor     models.Actor
}

type AssignCarrierInput struct {
	ShipmentID string
	Carrier    models.CarrierAssignment
	Actor      models.Actor
}

type Service struct {
	repo         Repository
	cache        cache.BytesCache
	cacheTTL     time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	locks        *keyedMutex
}

func New(repo Repository, c cache.BytesCache, cacheTTL time.Duration) *Service {
	return &Service{
		repo:         repo,
		cache:        c,
		cacheTTL:     cacheTTL,
		storeTimeout: 5 * time.Second,
		now:          time.Now,
		locks:        newKeyedMutex(),
	}
}

// WithStoreTimeout bounds every store call; zero leaves only the caller's deadline.
func (s *Service) WithStoreTimeout(d time.Duration) *Service {
	s.storeTimeout = d
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateFromBooking seeds a shipment from an approved booking. The milestone log
// starts empty, so the shipment is CREATED.
func (s *Service) CreateFromBooking(ctx context.Context, in CreateInput) (*models.Shipment, error) {
	b := in.Booking
	if b == nil || b.ID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "booking is required")
	}
	if b.Status != models.BookingStatusApproved {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s is %s, not approved", b.ID, b.Status)
	}
	if strings.TrimSpace(in.Carrier.Name) == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "carrier name is required")
	}

	now := s.now().UTC()
	id := uuid.NewString()
	ca := in.Carrier
	sh := &models.Shipment{
		ID:                id,
		ShipmentNumber:    shipmentNumber(id),
		BookingID:         b.ID,
		CustomerID:        b.CustomerID,
		CustomerEmail:     b.CustomerEmail,
		Origin:            stopFrom(b.Pickup),
		Destination:       stopFrom(b.Delivery),
		Cargo:             models.ShipmentCargo{Pieces: b.Cargo.TotalPieces, Weight: b.Cargo.TotalWeight, Description: b.Cargo.Description},
		Costs:             models.Costs{CustomerPrice: b.Pricing.Total},
		Carrier:           &ca,
		ScheduledPickup:   b.Pickup.ReadyDate,
		ScheduledDelivery: b.Delivery.RequiredDate,
		Milestones:        []models.Milestone{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	ev, err := models.NewOutboxEvent(models.EventShipmentCreated, sh.ID, messages.ShipmentCreated{
		ShipmentID:      sh.ID,
		ShipmentNumber:  sh.ShipmentNumber,
		BookingID:       b.ID,
		Carrier:         ca.Name,
		CarrierVerified: ca.Verified,
		At:              now,
	}, now)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.CreateShipment(sctx, sh, ev); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s already has a shipment", b.ID)
		}
		return nil, models.Unavailable("create shipment", err)
	}

	slog.Info("shipment created",
		"shipment_id", sh.ID,
		"shipment_number", sh.ShipmentNumber,
		"booking_id", b.ID,
		"carrier", ca.Name,
		"carrier_verified", ca.Verified,
		"actor", in.Actor.String(),
	)
	s.refreshCache(ctx, sh)
	return sh.Clone(), nil
}

// AddMilestone appends one milestone under the shipment's lock. A concurrent
// writer in another process surfaces as a seq conflict and the append is
// revalidated against the fresh log.
func (s *Service) AddMilestone(ctx context.Context, in AddMilestoneInput) (*models.Shipment, error) {
	if in.ShipmentID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "shipment id is required")
	}
	if !in.Type.Valid() || in.Type == models.ShipmentStatusCreated {
		return nil, errors.Wrapf(models.ErrInvalidArgument, "milestone type %q is not appendable", in.Type)
	}

	unlock, err := s.lock(ctx, in.ShipmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		sh, err := s.load(ctx, in.ShipmentID)
		if err != nil {
			return nil, err
		}
		prev := sh.Status()
		if err := models.CheckMilestone(prev, in.Type); err != nil {
			return nil, errors.Wrapf(err, "shipment %s", sh.ID)
		}

		now := s.now().UTC()
		ts := now
		if in.Timestamp != nil && !in.Timestamp.IsZero() {
			ts = in.Timestamp.UTC()
		}

		var warnings []string
		if last := sh.LastMilestone(); last != nil && ts.Before(last.Timestamp) {
			w := fmt.Sprintf("timestamp %s is earlier than previous milestone %s at %s",
				ts.Format(time.RFC3339), last.Type, last.Timestamp.Format(time.RFC3339))
			warnings = append(warnings, w)
			slog.Warn("milestone timestamp goes backwards",
				"shipment_id", sh.ID,
				"type", in.Type,
				"timestamp", ts,
				"previous_type", last.Type,
				"previous_timestamp", last.Timestamp,
			)
		}

		m := models.Milestone{
			Seq:        len(sh.Milestones) + 1,
			Type:       in.Type,
			Location:   trimmed(in.Location),
			Notes:      trimmed(in.Notes),
			Timestamp:  ts,
			RecordedBy: in.Actor.String(),
			RecordedAt: now,
		}
		ev, err := models.NewOutboxEvent(models.EventShipmentMilestoneAdded, sh.ID, messages.MilestoneAdded{
			ShipmentID: sh.ID,
			Seq:        m.Seq,
			Type:       string(m.Type),
			PrevStatus: string(prev),
			Location:   m.Location,
			Notes:      m.Notes,
			Timestamp:  m.Timestamp,
			RecordedBy: m.RecordedBy,
			Warnings:   warnings,
		}, now)
		if err != nil {
			return nil, err
		}

		sctx, cancel := s.storeCtx(ctx)
		err = s.repo.AppendMilestone(sctx, models.MilestoneAppend{ShipmentID: sh.ID, Milestone: m, Event: ev})
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, models.ErrVersionConflict) && attempt < maxAttempts:
			slog.Debug("milestone append conflict, retrying", "shipment_id", sh.ID, "attempt", attempt)
			continue
		case errors.Is(err, models.ErrNotFound):
			return nil, err
		default:
			return nil, models.Unavailable("append milestone", err)
		}

		sh.Milestones = append(sh.Milestones, m)
		sh.UpdatedAt = now
		slog.Info("milestone added",
			"shipment_id", sh.ID,
			"seq", m.Seq,
			"type", m.Type,
			"prev_status", prev,
			"actor", m.RecordedBy,
		)
		s.refreshCache(ctx, sh)

		out := sh.Clone()
		out.Warnings = warnings
		return out, nil
	}
}

// AssignCarrier replaces the carrier while the shipment is still CREATED or DISPATCHED.
func (s *Service) AssignCarrier(ctx context.Context, in AssignCarrierInput) (*models.Shipment, error) {
	if in.ShipmentID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "shipment id is required")
	}
	ca := in.Carrier
	ca.Name = strings.TrimSpace(ca.Name)
	if ca.Name == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "carrier name is required")
	}

	unlock, err := s.lock(ctx, in.ShipmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		sh, err := s.load(ctx, in.ShipmentID)
		if err != nil {
			return nil, err
		}
		if st := sh.Status(); !models.CarrierAssignable(st) {
			return nil, errors.Wrapf(models.ErrCarrierLocked, "shipment %s is %s", sh.ID, st)
		}

		now := s.now().UTC()
		ev, err := models.NewOutboxEvent(models.EventShipmentCarrierAssigned, sh.ID, messages.CarrierAssigned{
			ShipmentID: sh.ID,
			Carrier:    ca.Name,
			ProNumber:  ca.ProNumber,
			DriverName: ca.DriverName,
			AssignedBy: in.Actor.String(),
			At:         now,
		}, now)
		if err != nil {
			return nil, err
		}

		sctx, cancel := s.storeCtx(ctx)
		err = s.repo.UpdateCarrier(sctx, models.CarrierUpdate{
			ShipmentID:  sh.ID,
			ExpectedSeq: len(sh.Milestones),
			Carrier:     ca,
			Event:       ev,
		})
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, models.ErrVersionConflict) && attempt < maxAttempts:
			continue
		case errors.Is(err, models.ErrNotFound):
			return nil, err
		default:
			return nil, models.Unavailable("update carrier", err)
		}

		sh.Carrier = &ca
		sh.UpdatedAt = now
		slog.Info("carrier assigned", "shipment_id", sh.ID, "carrier", ca.Name, "actor", in.Actor.String())
		s.refreshCache(ctx, sh)
		return sh.Clone(), nil
	}
}

// CurrentStatus reads the log fresh from the store.
func (s *Service) CurrentStatus(ctx context.Context, id string) (models.ShipmentStatus, error) {
	sh, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	return sh.Status(), nil
}

// Get serves from the cache when possible. Cache errors are misses. A miss is
// refilled under the shipment's lock so it cannot overwrite a newer document
// written by a concurrent mutation.
func (s *Service) Get(ctx context.Context, id string) (*models.Shipment, error) {
	if id == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "shipment id is required")
	}
	if s.cacheEnabled() {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil && sh.ID == id {
				return &sh, nil
			}
		}
	}

	if !s.cacheEnabled() {
		return s.load(ctx, id)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	sh, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, sh)
	return sh, nil
}

func (s *Service) GetByBooking(ctx context.Context, bookingID string) (*models.Shipment, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sh, err := s.repo.GetShipmentByBooking(sctx, bookingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, models.Unavailable("get shipment by booking", err)
	}
	return sh, nil
}

func (s *Service) List(ctx context.Context, filter models.ShipmentFilter) ([]*models.Shipment, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := s.repo.ListShipments(sctx, filter)
	if err != nil {
		return nil, models.Unavailable("list shipments", err)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Shipment, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sh, err := s.repo.GetShipment(sctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, models.Unavailable("get shipment", err)
	}
	return sh, nil
}

func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "wait for shipment %s", id)
	}
	return unlock, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

// refreshCache кладёт актуальное состояние в кэш; ошибки кэша не влияют на результат.
func (s *Service) refreshCache(ctx context.Context, sh *models.Shipment) {
	if !s.cacheEnabled() {
		return
	}
	c := sh.Clone()
	c.Warnings = nil
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, currentKey(sh.ID), b, s.cacheTTL); err != nil {
		slog.Debug("shipment cache set failed", "shipment_id", sh.ID, "error", err.Error())
	}
}

func currentKey(id string) string {
	return fmt.Sprintf("shipment:%s:current", id)
}

func shipmentNumber(id string) string {
	return "SHP-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}

func stopFrom(l models.Location) models.Stop {
	return models.Stop{Company: l.Company, City: l.City, State: l.State, Zip: l.Zip}
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
