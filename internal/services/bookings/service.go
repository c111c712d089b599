package bookings

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
	"github.com/BearBump/FreightDesk/internal/integrations/carrier"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/shipments"
)

const (
	defaultDirectoryTimeout = 2 * time.Second
	defaultStoreTimeout     = 5 * time.Second
)

type Repository interface {
	CreateBooking(ctx context.Context, b *models.BookingRequest, ev *models.OutboxEvent) error
	GetBooking(ctx context.Context, id string) (*models.BookingRequest, error)
	GetBookingByRequestNumber(ctx context.Context, number string) (*models.BookingRequest, error)
	ListBookings(ctx context.Context, status *models.BookingStatus) ([]*models.BookingRequest, error)
	UpdateBookingReview(ctx context.Context, upd models.BookingReviewUpdate) (*models.BookingRequest, error)
}

// ShipmentCreator is the part of the shipment engine approval depends on.
type ShipmentCreator interface {
	CreateFromBooking(ctx context.Context, in shipments.CreateInput) (*models.Shipment, error)
	GetByBooking(ctx context.Context, bookingID string) (*models.Shipment, error)
}

type ApproveInput struct {
	BookingID      string
	Carrier        string
	CarrierContact models.CarrierContact
	Notes          string
	Actor          models.Actor
}

type Service struct {
	repo      Repository
	shipments ShipmentCreator
	directory carrier.Directory

	directoryTimeout time.Duration
	storeTimeout     time.Duration
	now              func() time.Time
}

// New builds the booking engine. directory may be nil, then every carrier is
// accepted unvalidated.
func New(repo Repository, sh ShipmentCreator, directory carrier.Directory) *Service {
	return &Service{
		repo:             repo,
		shipments:        sh,
		directory:        directory,
		directoryTimeout: defaultDirectoryTimeout,
		storeTimeout:     defaultStoreTimeout,
		now:              time.Now,
	}
}

func (s *Service) WithTimeouts(directory, store time.Duration) *Service {
	if directory > 0 {
		s.directoryTimeout = directory
	}
	if store > 0 {
		s.storeTimeout = store
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Approve moves a pending booking to approved and creates its shipment. If the
// shipment cannot be created the booking is put back to its prior state, so a
// caller never observes an approved booking without a shipment.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (*models.Shipment, error) {
	name := strings.TrimSpace(in.Carrier)
	if in.BookingID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "booking id is required")
	}
	if name == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "carrier is required")
	}

	b, err := s.get(ctx, in.BookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransition(models.BookingStatusApproved) {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s is %s", b.ID, b.Status)
	}

	resolved, verified, err := s.resolveCarrier(ctx, name)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	contact := in.CarrierContact
	next := b.Clone()
	next.Status = models.BookingStatusApproved
	next.Carrier = &resolved.Name
	next.CarrierContact = &contact
	next.ReviewNotes = optional(in.Notes)
	next.ReviewedBy = models.Ptr(in.Actor.String())
	next.ReviewedAt = &now

	approved, err := s.review(ctx, b, next, models.EventBookingApproved, messages.BookingReviewed{Carrier: next.Carrier})
	if err != nil {
		return nil, err
	}

	sh, err := s.shipments.CreateFromBooking(ctx, shipments.CreateInput{
		Booking: approved,
		Carrier: models.CarrierAssignment{
			Name:       resolved.Name,
			Contact:    contact.Name,
			Phone:      contact.Phone,
			Email:      contact.Email,
			ProNumber:  contact.ProNumber,
			DriverName: contact.Name,
			Verified:   verified,
		},
		Actor: in.Actor,
	})
	if err != nil {
		// создание могло закоммититься, а ответ потеряться: проверяем до отката
		existing, lookupErr := s.findShipment(ctx, b.ID)
		switch {
		case lookupErr == nil:
			sh = existing
		case !errors.Is(lookupErr, models.ErrNotFound) && errors.Is(err, models.ErrDependencyUnavailable):
			// исход создания неизвестен: откат мог бы оставить отгрузку без одобренной заявки
			slog.Error("approval left pending shipment check",
				"booking_id", b.ID,
				"create_error", err.Error(),
				"lookup_error", lookupErr.Error(),
			)
			return nil, models.Unavailable("check shipment of approved booking", errors.Wrap(lookupErr, err.Error()))
		default:
			if rbErr := s.rollbackApproval(ctx, approved, b); rbErr != nil {
				slog.Error("approval rollback failed",
					"booking_id", b.ID,
					"create_error", err.Error(),
					"rollback_error", rbErr.Error(),
				)
				return nil, models.Unavailable("rollback approval", errors.Wrap(err, rbErr.Error()))
			}
			return nil, errors.Wrapf(err, "approve booking %s", b.ID)
		}
	}

	s.linkShipment(ctx, approved, sh.ID)

	slog.Info("booking approved",
		"booking_id", b.ID,
		"request_number", b.RequestNumber,
		"shipment_id", sh.ID,
		"carrier", resolved.Name,
		"carrier_verified", verified,
		"actor", in.Actor.String(),
	)
	return sh, nil
}

func (s *Service) Reject(ctx context.Context, bookingID, reason string, actor models.Actor) (*models.BookingRequest, error) {
	if bookingID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "booking id is required")
	}
	b, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransition(models.BookingStatusRejected) {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s is %s", b.ID, b.Status)
	}

	now := s.now().UTC()
	next := b.Clone()
	next.Status = models.BookingStatusRejected
	next.RejectionReason = optional(reason)
	next.ReviewedBy = models.Ptr(actor.String())
	next.ReviewedAt = &now

	out, err := s.review(ctx, b, next, models.EventBookingRejected, messages.BookingReviewed{Reason: next.RejectionReason})
	if err != nil {
		return nil, err
	}
	slog.Info("booking rejected", "booking_id", b.ID, "actor", actor.String())
	return out, nil
}

func (s *Service) RequestInfo(ctx context.Context, bookingID, question string, actor models.Actor) (*models.BookingRequest, error) {
	if bookingID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "booking id is required")
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "question is required")
	}
	b, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.CanTransition(models.BookingStatusNeedsInfo) {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s is %s", b.ID, b.Status)
	}

	now := s.now().UTC()
	next := b.Clone()
	next.Status = models.BookingStatusNeedsInfo
	next.InfoRequest = &q
	next.ReviewedBy = models.Ptr(actor.String())
	next.ReviewedAt = &now

	out, err := s.review(ctx, b, next, models.EventBookingInfoRequested, messages.BookingReviewed{Question: next.InfoRequest})
	if err != nil {
		return nil, err
	}
	slog.Info("booking info requested", "booking_id", b.ID, "actor", actor.String())
	return out, nil
}

// ResumeReview returns a needs_info booking to the review queue once the
// customer has answered. The original question is kept.
func (s *Service) ResumeReview(ctx context.Context, bookingID, response string) (*models.BookingRequest, error) {
	if bookingID == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "booking id is required")
	}
	b, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusNeedsInfo {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s is %s", b.ID, b.Status)
	}

	next := b.Clone()
	next.Status = models.BookingStatusPendingReview
	next.CustomerResponse = optional(response)

	out, err := s.review(ctx, b, next, models.EventBookingReviewResumed, messages.BookingReviewed{})
	if err != nil {
		return nil, err
	}
	slog.Info("booking back in review", "booking_id", b.ID)
	return out, nil
}

// Submit stores a new booking in pending_review. A request number seen before
// returns the stored booking unchanged.
func (s *Service) Submit(ctx context.Context, in models.BookingCreateInput) (*models.BookingRequest, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "customer id is required")
	}

	now := s.now().UTC()
	id := uuid.NewString()
	number := strings.TrimSpace(in.RequestNumber)
	if number == "" {
		number = "BR-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
	}
	b := &models.BookingRequest{
		ID:            id,
		RequestNumber: number,
		CustomerID:    in.CustomerID,
		CustomerEmail: in.CustomerEmail,
		Pickup:        in.Pickup,
		Delivery:      in.Delivery,
		Cargo:         in.Cargo,
		Pricing:       in.Pricing,
		Notes:         in.Notes,
		Status:        models.BookingStatusPendingReview,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ev, err := models.NewOutboxEvent(models.EventBookingSubmitted, b.ID, messages.BookingReviewed{
		BookingID:     b.ID,
		RequestNumber: b.RequestNumber,
		Status:        string(b.Status),
		At:            now,
	}, now)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.CreateBooking(sctx, b, ev); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			existing, gerr := s.repo.GetBookingByRequestNumber(sctx, number)
			if gerr == nil {
				return existing, nil
			}
		}
		return nil, models.Unavailable("create booking", err)
	}
	slog.Info("booking submitted", "booking_id", b.ID, "request_number", b.RequestNumber, "customer_id", b.CustomerID)
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.BookingRequest, error) {
	if id == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "booking id is required")
	}
	return s.get(ctx, id)
}

func (s *Service) List(ctx context.Context, status *models.BookingStatus) ([]*models.BookingRequest, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := s.repo.ListBookings(sctx, status)
	if err != nil {
		return nil, models.Unavailable("list bookings", err)
	}
	return out, nil
}

// resolveCarrier matches name against the directory. An unreachable or empty
// directory is not an error: the name is accepted as free text and flagged unverified.
func (s *Service) resolveCarrier(ctx context.Context, name string) (models.Carrier, bool, error) {
	if s.directory == nil {
		return models.Carrier{Name: name}, false, nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	list, err := s.directory.ListCarriers(dctx)
	if err != nil || len(list) == 0 {
		reason := "empty directory"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("carrier directory unavailable, accepting unvalidated carrier",
			"carrier", name,
			"reason", reason,
		)
		return models.Carrier{Name: name}, false, nil
	}

	c, ok := carrier.Resolve(list, name)
	if !ok {
		return models.Carrier{}, false, errors.Wrapf(models.ErrUnknownCarrier, "%q", name)
	}
	return c, true, nil
}

// review applies a compare-and-set transition from cur to next and records the event.
// Losing the race to another reviewer is an invalid transition, not a conflict.
func (s *Service) review(ctx context.Context, cur, next *models.BookingRequest, eventType string, payload messages.BookingReviewed) (*models.BookingRequest, error) {
	now := s.now().UTC()
	payload.BookingID = cur.ID
	payload.RequestNumber = cur.RequestNumber
	payload.Status = string(next.Status)
	payload.PrevStatus = string(cur.Status)
	payload.ReviewedBy = stringOr(next.ReviewedBy)
	payload.At = now
	ev, err := models.NewOutboxEvent(eventType, cur.ID, payload, now)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := s.repo.UpdateBookingReview(sctx, models.BookingReviewUpdate{
		BookingID:       cur.ID,
		ExpectedStatus:  cur.Status,
		ExpectedVersion: cur.Version,
		Booking:         next,
		Event:           ev,
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, models.ErrVersionConflict):
		return nil, errors.Wrapf(models.ErrInvalidTransition, "booking %s changed concurrently", cur.ID)
	case errors.Is(err, models.ErrNotFound):
		return nil, err
	default:
		return nil, models.Unavailable("update booking", err)
	}
}

// rollbackApproval restores the pre-approval review state. It runs detached from
// the caller's cancellation so an abandoned request cannot leave the booking approved.
func (s *Service) rollbackApproval(ctx context.Context, approved, prior *models.BookingRequest) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	now := s.now().UTC()
	ev, err := models.NewOutboxEvent(models.EventBookingApprovalRolledBack, prior.ID, messages.BookingReviewed{
		BookingID:     prior.ID,
		RequestNumber: prior.RequestNumber,
		Status:        string(prior.Status),
		PrevStatus:    string(approved.Status),
		Carrier:       approved.Carrier,
		At:            now,
	}, now)
	if err != nil {
		return err
	}

	_, err = s.repo.UpdateBookingReview(rctx, models.BookingReviewUpdate{
		BookingID:       approved.ID,
		ExpectedStatus:  approved.Status,
		ExpectedVersion: approved.Version,
		Booking:         prior,
		Event:           ev,
	})
	if err != nil {
		return err
	}
	slog.Warn("booking approval rolled back", "booking_id", prior.ID, "status", prior.Status)
	return nil
}

// findShipment отличает "отгрузки нет" (ErrNotFound) от недоступного хранилища.
func (s *Service) findShipment(ctx context.Context, bookingID string) (*models.Shipment, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	return s.shipments.GetByBooking(fctx, bookingID)
}

// linkShipment записывает id отгрузки в заявку. Ошибка не отменяет одобрение:
// связь однозначно восстанавливается по booking_id отгрузки.
func (s *Service) linkShipment(ctx context.Context, approved *models.BookingRequest, shipmentID string) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	next := approved.Clone()
	next.ShipmentID = &shipmentID
	_, err := s.repo.UpdateBookingReview(lctx, models.BookingReviewUpdate{
		BookingID:       approved.ID,
		ExpectedStatus:  approved.Status,
		ExpectedVersion: approved.Version,
		Booking:         next,
	})
	if err != nil {
		slog.Warn("link shipment to booking failed", "booking_id", approved.ID, "shipment_id", shipmentID, "error", err.Error())
	}
}

func (s *Service) get(ctx context.Context, id string) (*models.BookingRequest, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	b, err := s.repo.GetBooking(sctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, models.Unavailable("get booking", err)
	}
	return b, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func stringOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
