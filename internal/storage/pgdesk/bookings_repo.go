package pgdesk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/models"
)

const bookingColumns = `
  id, request_number, customer_id, customer_email,
  pickup, delivery, cargo, pricing, notes, status,
  carrier, carrier_contact, review_notes, rejection_reason,
  info_request, customer_response, reviewed_by, reviewed_at,
  shipment_id, version, created_at, updated_at`

func (s *Storage) CreateBooking(ctx context.Context, b *models.BookingRequest, ev *models.OutboxEvent) error {
	pickup, delivery, cargo, pricing, err := marshalBookingDetails(b)
	if err != nil {
		return err
	}
	contact, err := marshalNullable(b.CarrierContact)
	if err != nil {
		return err
	}
	version := b.Version
	if version == 0 {
		version = 1
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO booking_requests (`+bookingColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
`,
		b.ID, b.RequestNumber, b.CustomerID, b.CustomerEmail,
		pickup, delivery, cargo, pricing, b.Notes, string(b.Status),
		b.Carrier, contact, b.ReviewNotes, b.RejectionReason,
		b.InfoRequest, b.CustomerResponse, b.ReviewedBy, utcPtr(b.ReviewedAt),
		b.ShipmentID, version, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(models.ErrVersionConflict, "booking %s / %s already exists", b.ID, b.RequestNumber)
		}
		return errors.Wrap(err, "insert booking")
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) GetBooking(ctx context.Context, id string) (*models.BookingRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "booking %s", id)
	}
	return b, err
}

func (s *Storage) GetBookingByRequestNumber(ctx context.Context, number string) (*models.BookingRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE request_number = $1`, number)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "booking %s", number)
	}
	return b, err
}

func (s *Storage) ListBookings(ctx context.Context, status *models.BookingStatus) ([]*models.BookingRequest, error) {
	var st *string
	if status != nil {
		v := string(*status)
		st = &v
	}

	rows, err := s.db.Query(ctx, `
SELECT `+bookingColumns+`
FROM booking_requests
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC, id DESC
`, st)
	if err != nil {
		return nil, errors.Wrap(err, "select bookings")
	}
	defer rows.Close()

	out := make([]*models.BookingRequest, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// UpdateBookingReview пишет статус и поля ревью, только если в базе всё ещё
// ожидаемые статус и версия. Проигравший получает ErrVersionConflict.
func (s *Storage) UpdateBookingReview(ctx context.Context, upd models.BookingReviewUpdate) (*models.BookingRequest, error) {
	b := upd.Booking
	contact, err := marshalNullable(b.CarrierContact)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
UPDATE booking_requests
SET
  status = $4,
  carrier = $5,
  carrier_contact = $6,
  review_notes = $7,
  rejection_reason = $8,
  info_request = $9,
  customer_response = $10,
  reviewed_by = $11,
  reviewed_at = $12,
  shipment_id = $13,
  version = version + 1,
  updated_at = now()
WHERE id = $1 AND status = $2 AND version = $3
RETURNING `+bookingColumns,
		upd.BookingID, string(upd.ExpectedStatus), upd.ExpectedVersion,
		string(b.Status), b.Carrier, contact, b.ReviewNotes, b.RejectionReason,
		b.InfoRequest, b.CustomerResponse, b.ReviewedBy, utcPtr(b.ReviewedAt), b.ShipmentID,
	)
	out, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM booking_requests WHERE id = $1)`, upd.BookingID).Scan(&exists); err != nil {
			return nil, errors.Wrap(err, "check booking")
		}
		if !exists {
			return nil, errors.Wrapf(models.ErrNotFound, "booking %s", upd.BookingID)
		}
		return nil, errors.Wrapf(models.ErrVersionConflict, "booking %s is no longer %s v%d",
			upd.BookingID, upd.ExpectedStatus, upd.ExpectedVersion)
	}
	if err != nil {
		return nil, err
	}

	if err := insertEvent(ctx, tx, upd.Event); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return out, nil
}

func scanBooking(row pgx.Row) (*models.BookingRequest, error) {
	var b models.BookingRequest
	var status string
	var pickup, delivery, cargo, pricing, contact []byte
	if err := row.Scan(
		&b.ID, &b.RequestNumber, &b.CustomerID, &b.CustomerEmail,
		&pickup, &delivery, &cargo, &pricing, &b.Notes, &status,
		&b.Carrier, &contact, &b.ReviewNotes, &b.RejectionReason,
		&b.InfoRequest, &b.CustomerResponse, &b.ReviewedBy, &b.ReviewedAt,
		&b.ShipmentID, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan booking")
	}
	b.Status = models.BookingStatus(status)

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{pickup, &b.Pickup},
		{delivery, &b.Delivery},
		{cargo, &b.Cargo},
		{pricing, &b.Pricing},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, errors.Wrap(err, "decode booking details")
		}
	}
	if len(contact) > 0 {
		var cc models.CarrierContact
		if err := json.Unmarshal(contact, &cc); err != nil {
			return nil, errors.Wrap(err, "decode carrier contact")
		}
		b.CarrierContact = &cc
	}
	return &b, nil
}

func marshalBookingDetails(b *models.BookingRequest) (pickup, delivery, cargo, pricing []byte, err error) {
	if pickup, err = json.Marshal(b.Pickup); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "encode pickup")
	}
	if delivery, err = json.Marshal(b.Delivery); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "encode delivery")
	}
	if cargo, err = json.Marshal(b.Cargo); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "encode cargo")
	}
	if pricing, err = json.Marshal(b.Pricing); err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "encode pricing")
	}
	return pickup, delivery, cargo, pricing, nil
}

// marshalNullable возвращает nil для nil-указателя, чтобы в колонку ушёл NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "encode json")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
