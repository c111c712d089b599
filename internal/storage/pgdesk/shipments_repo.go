package pgdesk

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/models"
)

const shipmentColumns = `
  s.id, s.shipment_number, s.booking_id, s.customer_id, s.customer_email,
  s.origin, s.destination, s.cargo, s.customer_price, s.carrier_cost,
  s.carrier, s.scheduled_pickup, s.scheduled_delivery, s.created_at, s.updated_at`

// currentStatusExpr выводит статус из последнего milestone, CREATED при пустом логе.
const currentStatusExpr = `COALESCE((
  SELECT m.type FROM shipment_milestones m
  WHERE m.shipment_id = s.id
  ORDER BY m.seq DESC
  LIMIT 1
), 'CREATED')`

func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment, ev *models.OutboxEvent) error {
	origin, err := json.Marshal(sh.Origin)
	if err != nil {
		return errors.Wrap(err, "encode origin")
	}
	destination, err := json.Marshal(sh.Destination)
	if err != nil {
		return errors.Wrap(err, "encode destination")
	}
	cargo, err := json.Marshal(sh.Cargo)
	if err != nil {
		return errors.Wrap(err, "encode cargo")
	}
	carrier, err := marshalNullable(sh.Carrier)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO shipments (
  id, shipment_number, booking_id, customer_id, customer_email,
  origin, destination, cargo, customer_price, carrier_cost,
  carrier, scheduled_pickup, scheduled_delivery, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		sh.ID, sh.ShipmentNumber, sh.BookingID, sh.CustomerID, sh.CustomerEmail,
		origin, destination, cargo, sh.Costs.CustomerPrice, sh.Costs.CarrierCost,
		carrier, utcPtr(sh.ScheduledPickup), utcPtr(sh.ScheduledDelivery), sh.CreatedAt.UTC(), sh.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(models.ErrVersionConflict, "shipment for booking %s already exists", sh.BookingID)
		}
		return errors.Wrap(err, "insert shipment")
	}

	for _, m := range sh.Milestones {
		if err := insertMilestone(ctx, tx, sh.ID, m); err != nil {
			return err
		}
	}
	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	return s.getShipmentWhere(ctx, "s.id = $1", id)
}

func (s *Storage) GetShipmentByBooking(ctx context.Context, bookingID string) (*models.Shipment, error) {
	return s.getShipmentWhere(ctx, "s.booking_id = $1", bookingID)
}

func (s *Storage) getShipmentWhere(ctx context.Context, where, arg string) (*models.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments s WHERE `+where, arg)
	sh, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", arg)
	}
	if err != nil {
		return nil, err
	}

	byID, err := s.loadMilestones(ctx, []string{sh.ID})
	if err != nil {
		return nil, err
	}
	sh.Milestones = byID[sh.ID]
	return sh, nil
}

// ListShipments фильтрует по выведенному статусу прямо в SQL; вкладка
// раскладывается в набор статусов на стороне Go.
func (s *Storage) ListShipments(ctx context.Context, filter models.ShipmentFilter) ([]*models.Shipment, error) {
	statuses := statusesFor(filter)
	if statuses != nil && len(statuses) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments s
WHERE ($1::text[] IS NULL OR `+currentStatusExpr+` = ANY($1))
ORDER BY s.created_at DESC, s.id DESC
`, statuses)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0)
	ids := make([]string, 0)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
		ids = append(ids, sh.ID)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	byID, err := s.loadMilestones(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, sh := range out {
		sh.Milestones = byID[sh.ID]
	}
	return out, nil
}

// statusesFor возвращает nil, если фильтра нет.
func statusesFor(filter models.ShipmentFilter) []string {
	if filter.Tab == models.TabNone && filter.Status == nil {
		return nil
	}
	out := make([]string, 0)
	candidates := append(models.Progression(), models.ShipmentStatusCancelled)
	for _, st := range candidates {
		sample := &models.Shipment{Milestones: []models.Milestone{{Type: st}}}
		if filter.Match(sample) {
			out = append(out, string(st))
		}
	}
	return out
}

func (s *Storage) loadMilestones(ctx context.Context, ids []string) (map[string][]models.Milestone, error) {
	out := make(map[string][]models.Milestone, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT shipment_id, seq, type, location, notes, occurred_at, recorded_by, recorded_at
FROM shipment_milestones
WHERE shipment_id = ANY($1)
ORDER BY shipment_id, seq
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select milestones")
	}
	defer rows.Close()

	for rows.Next() {
		var shipmentID, typ string
		var m models.Milestone
		if err := rows.Scan(&shipmentID, &m.Seq, &typ, &m.Location, &m.Notes, &m.Timestamp, &m.RecordedBy, &m.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan milestone")
		}
		m.Type = models.ShipmentStatus(typ)
		m.Timestamp = m.Timestamp.UTC()
		m.RecordedAt = m.RecordedAt.UTC()
		out[shipmentID] = append(out[shipmentID], m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// lockShipment берёт строку отгрузки FOR UPDATE и возвращает текущую длину лога.
func lockShipment(ctx context.Context, tx pgx.Tx, id string) (int, error) {
	var locked string
	err := tx.QueryRow(ctx, `SELECT id FROM shipments WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(models.ErrNotFound, "shipment %s", id)
	}
	if err != nil {
		return 0, errors.Wrap(err, "lock shipment")
	}

	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM shipment_milestones WHERE shipment_id = $1`, id).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count milestones")
	}
	return n, nil
}

func (s *Storage) AppendMilestone(ctx context.Context, a models.MilestoneAppend) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := lockShipment(ctx, tx, a.ShipmentID)
	if err != nil {
		return err
	}
	if n != a.Milestone.Seq-1 {
		return errors.Wrapf(models.ErrVersionConflict, "shipment %s has %d milestones, append expects seq %d",
			a.ShipmentID, n, a.Milestone.Seq)
	}

	if err := insertMilestone(ctx, tx, a.ShipmentID, a.Milestone); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE shipments SET updated_at = $2 WHERE id = $1`, a.ShipmentID, a.Milestone.RecordedAt.UTC()); err != nil {
		return errors.Wrap(err, "touch shipment")
	}
	if err := insertEvent(ctx, tx, a.Event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) UpdateCarrier(ctx context.Context, u models.CarrierUpdate) error {
	carrier, err := json.Marshal(u.Carrier)
	if err != nil {
		return errors.Wrap(err, "encode carrier")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := lockShipment(ctx, tx, u.ShipmentID)
	if err != nil {
		return err
	}
	if n != u.ExpectedSeq {
		return errors.Wrapf(models.ErrVersionConflict, "shipment %s has %d milestones, expected %d",
			u.ShipmentID, n, u.ExpectedSeq)
	}

	if _, err := tx.Exec(ctx, `UPDATE shipments SET carrier = $2, updated_at = now() WHERE id = $1`, u.ShipmentID, carrier); err != nil {
		return errors.Wrap(err, "update carrier")
	}
	if err := insertEvent(ctx, tx, u.Event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func insertMilestone(ctx context.Context, tx pgx.Tx, shipmentID string, m models.Milestone) error {
	_, err := tx.Exec(ctx, `
INSERT INTO shipment_milestones (shipment_id, seq, type, location, notes, occurred_at, recorded_by, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, shipmentID, m.Seq, string(m.Type), m.Location, m.Notes, m.Timestamp.UTC(), m.RecordedBy, m.RecordedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(models.ErrVersionConflict, "milestone %s/%d already exists", shipmentID, m.Seq)
		}
		return errors.Wrap(err, "insert milestone")
	}
	return nil
}

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var origin, destination, cargo, carrier []byte
	if err := row.Scan(
		&sh.ID, &sh.ShipmentNumber, &sh.BookingID, &sh.CustomerID, &sh.CustomerEmail,
		&origin, &destination, &cargo, &sh.Costs.CustomerPrice, &sh.Costs.CarrierCost,
		&carrier, &sh.ScheduledPickup, &sh.ScheduledDelivery, &sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan shipment")
	}

	if err := json.Unmarshal(origin, &sh.Origin); err != nil {
		return nil, errors.Wrap(err, "decode origin")
	}
	if err := json.Unmarshal(destination, &sh.Destination); err != nil {
		return nil, errors.Wrap(err, "decode destination")
	}
	if err := json.Unmarshal(cargo, &sh.Cargo); err != nil {
		return nil, errors.Wrap(err, "decode cargo")
	}
	if len(carrier) > 0 {
		var ca models.CarrierAssignment
		if err := json.Unmarshal(carrier, &ca); err != nil {
			return nil, errors.Wrap(err, "decode carrier")
		}
		sh.Carrier = &ca
	}
	sh.Milestones = []models.Milestone{}
	return &sh, nil
}
