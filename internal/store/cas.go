package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
)

// updateIf runs an atomic UPDATE ... WHERE <predicate> and reports the
// number of rows modified. setSQL is rendered first (it appears first in
// the UPDATE statement), so its placeholders must have been added to p
// before whereSQL's.
func (s *Store) updateIf(ctx context.Context, table, setSQL, whereSQL string, p *params) (int64, error) {
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, s.dialect.quote(table), setSQL, whereSQL)
	res, err := s.db.ExecContext(ctx, q, p.args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", table, err)
	}
	return res.RowsAffected()
}

const selectColumns = `id, consumer_group, content, created_at, consumed, delivery_count, reserved_until, last_delivery_at, last_error, scheduled_at`

// ReserveByID atomically reserves a specific message: the row must be
// unconsumed, and either never reserved or its reservation must have
// lapsed, and either unscheduled or its scheduled time must have passed.
// On success it increments the delivery count, sets reservedUntil to
// now+visibility and lastDeliveryAt to now, and returns the new state.
//
// The UPDATE and the subsequent SELECT run inside one transaction so no
// concurrent ack/nack can be observed between "we won the CAS" and
// "we read back what we wrote".
func (s *Store) ReserveByID(ctx context.Context, group, id string, now time.Time, visibility time.Duration) (*model.Message, error) {
	table, err := safeTableName(group)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning reserve transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMS := now.UnixMilli()
	reservedUntil := now.Add(visibility).UnixMilli()

	p := newParams(s.dialect)
	setSQL := fmt.Sprintf(`delivery_count = delivery_count + 1, reserved_until = %s, last_delivery_at = %s`,
		p.add(reservedUntil), p.add(nowMS))
	where := fmt.Sprintf(
		`id = %s AND consumed = 0 AND (reserved_until IS NULL OR reserved_until <= %s) AND (scheduled_at IS NULL OR scheduled_at <= %s)`,
		p.add(id), p.add(nowMS), p.add(nowMS))

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, s.dialect.quote(table), setSQL, where)
	res, err := tx.ExecContext(ctx, q, p.args...)
	if err != nil {
		return nil, fmt.Errorf("reserving %s in %s: %w", id, table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = %s`, selectColumns, s.dialect.quote(table), s.dialect.placeholder(1)), id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("reading back reserved message %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reserve transaction: %w", err)
	}
	return msg, nil
}

// ReserveOldestAvailable runs the same reservation predicate without an id
// filter, picking the oldest eligible row by createdAt: the durable-store
// FIFO scan used when the cache has nothing left to offer.
func (s *Store) ReserveOldestAvailable(ctx context.Context, group string, now time.Time, visibility time.Duration) (*model.Message, error) {
	table, err := safeTableName(group)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning reserve-oldest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMS := now.UnixMilli()

	candP := newParams(s.dialect)
	candWhere := fmt.Sprintf(
		`consumed = 0 AND (reserved_until IS NULL OR reserved_until <= %s) AND (scheduled_at IS NULL OR scheduled_at <= %s)`,
		candP.add(nowMS), candP.add(nowMS))
	candidateRow := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id FROM %s WHERE %s ORDER BY created_at ASC LIMIT 1`, s.dialect.quote(table), candWhere), candP.args...)

	var candidateID string
	if err := candidateRow.Scan(&candidateID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning fifo candidate in %s: %w", table, err)
	}

	reservedUntil := now.Add(visibility).UnixMilli()
	p := newParams(s.dialect)
	setSQL := fmt.Sprintf(`delivery_count = delivery_count + 1, reserved_until = %s, last_delivery_at = %s`,
		p.add(reservedUntil), p.add(nowMS))
	where := fmt.Sprintf(
		`id = %s AND consumed = 0 AND (reserved_until IS NULL OR reserved_until <= %s) AND (scheduled_at IS NULL OR scheduled_at <= %s)`,
		p.add(candidateID), p.add(nowMS), p.add(nowMS))
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, s.dialect.quote(table), setSQL, where)
	res, err := tx.ExecContext(ctx, q, p.args...)
	if err != nil {
		return nil, fmt.Errorf("reserving fifo candidate %s in %s: %w", candidateID, table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race to another reserver between the SELECT and the
		// UPDATE; reported as nothing-available, the other reserver holds it.
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = %s`, selectColumns, s.dialect.quote(table), s.dialect.placeholder(1)), candidateID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("reading back reserved fifo message %s: %w", candidateID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reserve-oldest transaction: %w", err)
	}
	return msg, nil
}

// Ack atomically marks an unconsumed message consumed and clears its
// reservation. If nothing was modified, it checks whether the message is
// already consumed (idempotent success) or absent (not-found).
func (s *Store) Ack(ctx context.Context, group, id string) (found bool, alreadyConsumed bool, err error) {
	table, err := safeTableName(group)
	if err != nil {
		return false, false, err
	}

	p := newParams(s.dialect)
	setSQL := fmt.Sprintf(`consumed = %s, reserved_until = NULL`, p.add(1))
	where := fmt.Sprintf(`id = %s AND consumed = 0`, p.add(id))
	n, err := s.updateIf(ctx, table, setSQL, where, p)
	if err != nil {
		return false, false, err
	}
	if n > 0 {
		return true, false, nil
	}

	// Idempotent path: already consumed, or never existed.
	msg, err := s.FindByID(ctx, group, id)
	if err != nil {
		return false, false, err
	}
	if msg == nil {
		return false, false, nil
	}
	if msg.Consumed {
		return true, true, nil
	}
	// Exists, unconsumed, but the CAS still failed: the row only became
	// visible between the UPDATE and this read (e.g. a write-behind insert
	// landing in between); not retried automatically, reported as not found.
	return false, false, nil
}

// Nack releases an unconsumed message's reservation immediately and
// records the failure reason. Returns whether any row was modified.
func (s *Store) Nack(ctx context.Context, group, id, reason string, now time.Time) (bool, error) {
	table, err := safeTableName(group)
	if err != nil {
		return false, err
	}
	p := newParams(s.dialect)
	setSQL := fmt.Sprintf(`reserved_until = %s, last_error = %s`, p.add(now.UnixMilli()), p.add(nullString(reason)))
	where := fmt.Sprintf(`id = %s AND consumed = 0`, p.add(id))
	n, err := s.updateIf(ctx, table, setSQL, where, p)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExtendVisibility pushes out an active reservation's deadline by seconds
// (clamped to at least 1), failing the CAS if the message was already
// consumed or its reservation already lapsed. Returns whether it updated.
func (s *Store) ExtendVisibility(ctx context.Context, group, id string, seconds int, now time.Time) (bool, error) {
	if seconds <= 0 {
		seconds = 1
	}
	table, err := safeTableName(group)
	if err != nil {
		return false, err
	}
	newUntil := now.Add(time.Duration(seconds) * time.Second).UnixMilli()
	p := newParams(s.dialect)
	setSQL := fmt.Sprintf(`reserved_until = %s`, p.add(newUntil))
	where := fmt.Sprintf(`id = %s AND consumed = 0 AND reserved_until > %s`, p.add(id), p.add(now.UnixMilli()))
	n, err := s.updateIf(ctx, table, setSQL, where, p)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BatchAck acks every unconsumed message among ids in one statement and
// returns the count modified.
func (s *Store) BatchAck(ctx context.Context, group string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	table, err := safeTableName(group)
	if err != nil {
		return 0, err
	}

	p := newParams(s.dialect)
	setSQL := fmt.Sprintf(`consumed = %s, reserved_until = NULL`, p.add(1))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = p.add(id)
	}
	where := fmt.Sprintf(`id IN (%s) AND consumed = 0`, joinComma(placeholders))
	n, err := s.updateIf(ctx, table, setSQL, where, p)
	if err != nil {
		return 0, fmt.Errorf("batch-acking in %s: %w", table, err)
	}
	return n, nil
}

// PromoteDue atomically unschedules the oldest unconsumed message whose
// scheduledAt has passed and returns its PRIOR state, so the caller can
// still read the original scheduled time it was promoted from.
func (s *Store) PromoteDue(ctx context.Context, group string, now time.Time) (*model.Message, error) {
	table, err := safeTableName(group)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning promote transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMS := now.UnixMilli()
	selP := newParams(s.dialect)
	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE consumed = 0 AND scheduled_at IS NOT NULL AND scheduled_at <= %s ORDER BY scheduled_at ASC LIMIT 1`,
		selectColumns, s.dialect.quote(table), selP.add(nowMS)), selP.args...)
	prior, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning due-scheduled candidate in %s: %w", table, err)
	}

	updP := newParams(s.dialect)
	where := fmt.Sprintf(`id = %s AND consumed = 0 AND scheduled_at IS NOT NULL AND scheduled_at <= %s`,
		updP.add(prior.ID), updP.add(nowMS))
	q := fmt.Sprintf(`UPDATE %s SET scheduled_at = NULL WHERE %s`, s.dialect.quote(table), where)
	res, err := tx.ExecContext(ctx, q, updP.args...)
	if err != nil {
		return nil, fmt.Errorf("promoting %s in %s: %w", prior.ID, table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing promote transaction: %w", err)
	}
	return prior, nil
}

// ReapConsumed deletes live records whose consumed=true and createdAt is
// older than cutoff, the application-level equivalent of a partial TTL
// index on createdAt where consumed=true, since a SQL table has no native
// partial-TTL index.
func (s *Store) ReapConsumed(ctx context.Context, group string, cutoff time.Time) (int64, error) {
	table, err := safeTableName(group)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE consumed = 1 AND created_at < %s`, s.dialect.quote(table), s.dialect.placeholder(1))
	res, err := s.db.ExecContext(ctx, q, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reaping consumed rows from %s: %w", table, err)
	}
	return res.RowsAffected()
}
