package pgdesk

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/models"
)

// ClaimPendingEvents выбирает пачку неопубликованных событий и "бронирует" их
// на время lease, чтобы параллельные воркеры не взяли их повторно.
// Берётся только голова очереди каждого агрегата: событие не выдаётся, пока
// раньше него есть неопубликованное событие того же агрегата (даже под lease
// или перенесённое). Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimPendingEvents(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT e.id, e.type, e.aggregate_id, e.payload, e.occurred_at, e.published_at, e.lease_until, e.attempts
FROM outbox_events e
WHERE e.published_at IS NULL
  AND (e.lease_until IS NULL OR e.lease_until <= $1)
  AND NOT EXISTS (
    SELECT 1 FROM outbox_events p
    WHERE p.aggregate_id = e.aggregate_id
      AND p.published_at IS NULL
      AND p.seq < e.seq
  )
ORDER BY e.seq ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending events")
	}
	defer rows.Close()

	var picked []*models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AggregateID, &payload, &ev.OccurredAt, &ev.PublishedAt, &ev.LeaseUntil, &ev.Attempts); err != nil {
			return nil, errors.Wrap(err, "scan pending event")
		}
		ev.Payload = payload
		picked = append(picked, &ev)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	if len(picked) == 0 {
		return picked, nil
	}

	leaseUntil := now.UTC().Add(lease)
	ids := make([]string, 0, len(picked))
	for _, ev := range picked {
		ids = append(ids, ev.ID)
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET lease_until = $2, attempts = attempts + 1 WHERE id = ANY($1)`, ids, leaseUntil); err != nil {
		return nil, errors.Wrap(err, "lease events")
	}
	for _, ev := range picked {
		lu := leaseUntil
		ev.LeaseUntil = &lu
		ev.Attempts++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE outbox_events SET published_at = $2, lease_until = NULL WHERE id = ANY($1)`, ids, at.UTC())
	return errors.Wrap(err, "mark events published")
}

// RescheduleEvents сдвигает lease неопубликованных событий, чтобы повтор случился не раньше at.
func (s *Storage) RescheduleEvents(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE outbox_events SET lease_until = $2 WHERE id = ANY($1) AND published_at IS NULL`, ids, at.UTC())
	return errors.Wrap(err, "reschedule events")
}
