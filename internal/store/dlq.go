package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CrisisTextLine/lightq/internal/model"
)

// EnsureDLQIndexes lazily creates the DLQ sibling table for a group, using
// the same memoized LRU as the live table. The DLQ table keeps the live
// table's columns except reserved_until and scheduled_at, plus its own
// failure metadata columns.
func (s *Store) EnsureDLQIndexes(ctx context.Context, dlqCollection string) error {
	if s.memo.seen(dlqCollection) {
		return nil
	}
	table, err := safeTableName(dlqCollection)
	if err != nil {
		return err
	}
	if err := s.createDLQTable(ctx, table); err != nil {
		return err
	}
	s.memo.mark(dlqCollection)
	return nil
}

func (s *Store) createDLQTable(ctx context.Context, table string) error {
	q := s.dialect.quote(table)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s PRIMARY KEY,
		consumer_group %s NOT NULL,
		content %s NOT NULL,
		created_at BIGINT NOT NULL,
		consumed %s NOT NULL DEFAULT 1,
		delivery_count INTEGER NOT NULL DEFAULT 0,
		last_delivery_at BIGINT,
		last_error %s,
		failed_at BIGINT NOT NULL,
		dlq_reason %s NOT NULL
	)`, q, textType(s.dialect.name), textType(s.dialect.name), blobType(s.dialect.name), boolType(s.dialect.name), textType(s.dialect.name), textType(s.dialect.name))

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating dlq table %s: %w", table, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (failed_at)`,
		s.dialect.quote("idx_"+table+"_failed_at"), q)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("creating dlq failed_at index on %s: %w", table, err)
	}
	return nil
}

// MoveToDLQ atomically marks the live record consumed and inserts its DLQ
// shadow, both in one transaction so a crash between the two steps can
// never leave a message neither reservable nor visible in the DLQ.
func (s *Store) MoveToDLQ(ctx context.Context, group, dlqCollection string, e *model.DLQEntry) error {
	liveTable, err := safeTableName(group)
	if err != nil {
		return err
	}
	dlqTable, err := safeTableName(dlqCollection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning dlq-move transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	markP := newParams(s.dialect)
	markSQL := fmt.Sprintf(`UPDATE %s SET consumed = %s, reserved_until = NULL WHERE id = %s`,
		s.dialect.quote(liveTable), markP.add(1), markP.add(e.ID))
	if _, err := tx.ExecContext(ctx, markSQL, markP.args...); err != nil {
		return fmt.Errorf("marking %s consumed in %s: %w", e.ID, liveTable, err)
	}

	insP := newParams(s.dialect)
	insSQL := fmt.Sprintf(
		`INSERT INTO %s (id, consumer_group, content, created_at, consumed, delivery_count, last_delivery_at, last_error, failed_at, dlq_reason)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.dialect.quote(dlqTable),
		insP.add(e.ID), insP.add(e.ConsumerGroup), insP.add(e.Content), insP.add(e.CreatedAt.UnixMilli()),
		insP.add(boolToInt(e.Consumed)), insP.add(e.DeliveryCount), insP.add(nullableMillis(e.LastDeliveryAt)),
		insP.add(nullString(e.LastError)), insP.add(e.FailedAt.UnixMilli()), insP.add(e.DLQReason),
	)
	if _, err := tx.ExecContext(ctx, insSQL, insP.args...); err != nil {
		return fmt.Errorf("inserting dlq entry %s into %s: %w", e.ID, dlqTable, err)
	}

	return tx.Commit()
}

// InsertDLQEntry writes one entry into a group's DLQ sibling table.
func (s *Store) InsertDLQEntry(ctx context.Context, dlqCollection string, e *model.DLQEntry) error {
	table, err := safeTableName(dlqCollection)
	if err != nil {
		return err
	}
	p := newParams(s.dialect)
	q := fmt.Sprintf(
		`INSERT INTO %s (id, consumer_group, content, created_at, consumed, delivery_count, last_delivery_at, last_error, failed_at, dlq_reason)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.dialect.quote(table),
		p.add(e.ID), p.add(e.ConsumerGroup), p.add(e.Content), p.add(e.CreatedAt.UnixMilli()),
		p.add(boolToInt(e.Consumed)), p.add(e.DeliveryCount), p.add(nullableMillis(e.LastDeliveryAt)),
		p.add(nullString(e.LastError)), p.add(e.FailedAt.UnixMilli()), p.add(e.DLQReason),
	)
	if _, err := s.db.ExecContext(ctx, q, p.args...); err != nil {
		return fmt.Errorf("inserting dlq entry %s into %s: %w", e.ID, table, err)
	}
	return nil
}

// FindDLQEntries lists a DLQ table's contents, newest failure first,
// bounded by limit (0 means unbounded), the DLQ view/replay candidate
// listing.
func (s *Store) FindDLQEntries(ctx context.Context, dlqCollection string, limit int) ([]*model.DLQEntry, error) {
	table, err := safeTableName(dlqCollection)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(
		`SELECT id, consumer_group, content, created_at, consumed, delivery_count, last_delivery_at, last_error, failed_at, dlq_reason
		 FROM %s ORDER BY failed_at DESC`, s.dialect.quote(table))
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying dlq table %s: %w", table, err)
	}
	defer rows.Close()

	var out []*model.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dlq row from %s: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveDLQEntries deletes DLQ rows by id, used once a replay has
// re-inserted them into the live table.
func (s *Store) RemoveDLQEntries(ctx context.Context, dlqCollection string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	table, err := safeTableName(dlqCollection)
	if err != nil {
		return 0, err
	}
	p := newParams(s.dialect)
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = p.add(id)
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, s.dialect.quote(table), joinComma(placeholders))
	res, err := s.db.ExecContext(ctx, q, p.args...)
	if err != nil {
		return 0, fmt.Errorf("removing from dlq table %s: %w", table, err)
	}
	return res.RowsAffected()
}

// ReapDLQEntries deletes DLQ rows older than cutoff, enforcing
// dlq-ttl-minutes in application code since a SQL table has no native TTL
// index.
func (s *Store) ReapDLQEntries(ctx context.Context, dlqCollection string, cutoff time.Time) (int64, error) {
	table, err := safeTableName(dlqCollection)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE created_at < %s`, s.dialect.quote(table), s.dialect.placeholder(1))
	res, err := s.db.ExecContext(ctx, q, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reaping dlq entries from %s: %w", table, err)
	}
	return res.RowsAffected()
}

type dlqRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDLQEntry(r dlqRowScanner) (*model.DLQEntry, error) {
	var (
		id, group, lastErr, reason  sql.NullString
		content                     []byte
		createdAt, failedAt         int64
		consumedInt, deliveryCount  int64
		lastDeliveryAt              sql.NullInt64
	)
	if err := r.Scan(&id, &group, &content, &createdAt, &consumedInt, &deliveryCount, &lastDeliveryAt, &lastErr, &failedAt, &reason); err != nil {
		return nil, err
	}
	e := &model.DLQEntry{
		ID:            id.String,
		ConsumerGroup: group.String,
		Content:       content,
		CreatedAt:     time.UnixMilli(createdAt).UTC(),
		Consumed:      consumedInt != 0,
		DeliveryCount: int(deliveryCount),
		LastError:     lastErr.String,
		FailedAt:      time.UnixMilli(failedAt).UTC(),
		DLQReason:     reason.String,
	}
	if lastDeliveryAt.Valid {
		t := time.UnixMilli(lastDeliveryAt.Int64).UTC()
		e.LastDeliveryAt = &t
	}
	return e, nil
}
