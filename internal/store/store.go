// Package store implements the durable message store: one physical table
// per consumer group plus a DLQ sibling table, with every
// reservation/ack/nack/DLQ transition expressed as an atomic
// UPDATE ... WHERE <predicate>, never optimistic read-then-write.
//
// It wraps database/sql behind a driver-agnostic surface narrowed to a
// handful of concrete document operations (Insert, FindByID,
// UpdateIf/FindAndModify variants, Find, Remove) rather than exposing raw
// SQL to callers: the store owns the fixed set of predicates the
// reservation/ack state machine needs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/CrisisTextLine/lightq/internal/model"
	"github.com/CrisisTextLine/lightq/internal/telemetry"
)

// Static store errors.
var (
	ErrEmptyDriver     = errors.New("database driver cannot be empty")
	ErrEmptyDSN        = errors.New("database connection string cannot be empty")
	ErrUnsafeTableName = errors.New("consumer group does not produce a safe table name")
)

// DefaultConnectTimeout mirrors database.DefaultConnectionTimeout.
const DefaultConnectTimeout = 5 * time.Second

// ConsumedFilter selects Find's consumed predicate for the admin view.
type ConsumedFilter int

const (
	ConsumedAny ConsumedFilter = iota
	ConsumedOnly
	UnconsumedOnly
)

// FindOptions parameterizes Find with the small closed set of shapes the
// queue engine actually issues, instead of a generic (query, sort, limit)
// triple. Results always come back oldest-first by createdAt.
type FindOptions struct {
	Consumed   ConsumedFilter
	ExcludeIDs []string // used by the admin view to skip already-cached ids
	Limit      int
}

// Store is the durable store's capability surface over each group's live
// table. DLQ sibling tables (DLQ-suffixed table names) have their own
// narrower shape and their own primitives, defined in dlq.go.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	memo *indexMemo
}

// Config is the durable-store connection configuration.
type Config struct {
	Driver string
	DSN    string
}

// New opens the durable store connection and configures its connection
// pool.
func New(cfg Config, logger telemetry.Logger, metrics *telemetry.Metrics, memoMaxGroups int, memoExpire time.Duration) (*Store, error) {
	if cfg.Driver == "" {
		return nil, ErrEmptyDriver
	}
	if cfg.DSN == "" {
		return nil, ErrEmptyDSN
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening durable store connection: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging durable store: %w", err)
	}

	memo, err := newIndexMemo(memoMaxGroups, memoExpire)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("building index-ensure memo: %w", err)
	}

	return &Store{
		db:      db,
		dialect: dialectFor(cfg.Driver),
		logger:  logger,
		metrics: metrics,
		memo:    memo,
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies durable-store connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureIndexes lazily creates the live table (and its compound index) for
// group, memoized in the bounded LRU so repeat calls in the hot push path
// are free. It is invoked before any insert for that group.
func (s *Store) EnsureIndexes(ctx context.Context, group string) error {
	if s.memo.seen(group) {
		return nil
	}

	table, err := safeTableName(group)
	if err != nil {
		return err
	}

	if err := s.createLiveTable(ctx, table); err != nil {
		return err
	}

	s.memo.mark(group)
	return nil
}

func (s *Store) createLiveTable(ctx context.Context, table string) error {
	q := s.dialect.quote(table)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s PRIMARY KEY,
		consumer_group %s NOT NULL,
		content %s NOT NULL,
		created_at BIGINT NOT NULL,
		consumed %s NOT NULL DEFAULT 0,
		delivery_count INTEGER NOT NULL DEFAULT 0,
		reserved_until BIGINT,
		last_delivery_at BIGINT,
		last_error %s,
		scheduled_at BIGINT
	)`, q, textType(s.dialect.name), textType(s.dialect.name), blobType(s.dialect.name), boolType(s.dialect.name), textType(s.dialect.name))

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	// Compound index serving the equality-sort-range reservation scan:
	// (consumed asc, createdAt asc, reservedUntil asc, scheduledAt asc).
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (consumed, created_at, reserved_until, scheduled_at)`,
		s.dialect.quote("idx_"+table+"_reservation"), q)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("creating reservation index on %s: %w", table, err)
	}

	return nil
}

func textType(string) string { return "TEXT" }

func blobType(dialectName string) string {
	switch dialectName {
	case "postgres":
		return "BYTEA"
	case "mysql":
		return "LONGBLOB"
	default:
		return "BLOB"
	}
}

func boolType(string) string { return "INTEGER" }

// Insert inserts a single new message.
func (s *Store) Insert(ctx context.Context, group string, msg *model.Message) error {
	return s.InsertMany(ctx, group, []*model.Message{msg})
}

// InsertMany bulk-inserts messages for one group in a single transaction,
// used by batch push to issue one durable-store round trip per batch.
func (s *Store) InsertMany(ctx context.Context, group string, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	table, err := safeTableName(group)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmtSQL := fmt.Sprintf(
		`INSERT INTO %s (id, consumer_group, content, created_at, consumed, delivery_count, reserved_until, last_delivery_at, last_error, scheduled_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.dialect.quote(table),
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3), s.dialect.placeholder(4),
		s.dialect.placeholder(5), s.dialect.placeholder(6), s.dialect.placeholder(7), s.dialect.placeholder(8),
		s.dialect.placeholder(9), s.dialect.placeholder(10),
	)

	for _, m := range msgs {
		_, err := tx.ExecContext(ctx, stmtSQL,
			m.ID, m.ConsumerGroup, m.Content, m.CreatedAt.UnixMilli(),
			boolToInt(m.Consumed), m.DeliveryCount,
			nullableMillis(m.ReservedUntil), nullableMillis(m.LastDeliveryAt),
			nullString(m.LastError), nullableMillis(m.ScheduledAt),
		)
		if err != nil {
			return fmt.Errorf("inserting message %s into %s: %w", m.ID, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert transaction: %w", err)
	}
	return nil
}

// FindByID returns a single message by id, or nil if absent.
func (s *Store) FindByID(ctx context.Context, group, id string) (*model.Message, error) {
	table, err := safeTableName(group)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, consumer_group, content, created_at, consumed, delivery_count, reserved_until, last_delivery_at, last_error, scheduled_at
		 FROM %s WHERE id = %s`, s.dialect.quote(table), s.dialect.placeholder(1)), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding message %s in %s: %w", id, table, err)
	}
	return msg, nil
}

// Find runs a filtered, sorted, limited scan over a group's live table,
// narrowed to the shapes the admin view needs.
func (s *Store) Find(ctx context.Context, group string, opts FindOptions) ([]*model.Message, error) {
	table, err := safeTableName(group)
	if err != nil {
		return nil, err
	}

	var where []string
	var args []interface{}
	switch opts.Consumed {
	case ConsumedOnly:
		where = append(where, "consumed = "+s.dialect.placeholder(len(args)+1))
		args = append(args, 1)
	case UnconsumedOnly:
		where = append(where, "consumed = "+s.dialect.placeholder(len(args)+1))
		args = append(args, 0)
	}
	if len(opts.ExcludeIDs) > 0 {
		placeholders := make([]string, len(opts.ExcludeIDs))
		for i, id := range opts.ExcludeIDs {
			placeholders[i] = s.dialect.placeholder(len(args) + 1)
			args = append(args, id)
		}
		where = append(where, fmt.Sprintf("id NOT IN (%s)", joinComma(placeholders)))
	}

	q := fmt.Sprintf(`SELECT id, consumer_group, content, created_at, consumed, delivery_count, reserved_until, last_delivery_at, last_error, scheduled_at FROM %s`, s.dialect.quote(table))
	if len(where) > 0 {
		q += " WHERE " + joinAnd(where)
	}
	q += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg, err := scanMessageRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row from %s: %w", table, err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Remove deletes messages by id from a group's live table.
func (s *Store) Remove(ctx context.Context, group string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	table, err := safeTableName(group)
	if err != nil {
		return 0, err
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = s.dialect.placeholder(i + 1)
		args[i] = id
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, s.dialect.quote(table), joinComma(placeholders))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("removing from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func joinComma(parts []string) string { return joinSep(parts, ", ") }
func joinAnd(parts []string) string   { return joinSep(parts, " AND ") }

func joinSep(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row *sql.Row) (*model.Message, error)   { return scanMessageAny(row) }
func scanMessageRows(rows *sql.Rows) (*model.Message, error) { return scanMessageAny(rows) }

func scanMessageAny(r rowScanner) (*model.Message, error) {
	var (
		id, group, lastErr                         sql.NullString
		content                                    []byte
		createdAt                                  int64
		consumedInt, deliveryCount                 int64
		reservedUntil, lastDeliveryAt, scheduledAt sql.NullInt64
	)
	if err := r.Scan(&id, &group, &content, &createdAt, &consumedInt, &deliveryCount, &reservedUntil, &lastDeliveryAt, &lastErr, &scheduledAt); err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:            id.String,
		ConsumerGroup: group.String,
		Content:       content,
		CreatedAt:     time.UnixMilli(createdAt).UTC(),
		Consumed:      consumedInt != 0,
		DeliveryCount: int(deliveryCount),
		LastError:     lastErr.String,
	}
	if reservedUntil.Valid {
		t := time.UnixMilli(reservedUntil.Int64).UTC()
		m.ReservedUntil = &t
	}
	if lastDeliveryAt.Valid {
		t := time.UnixMilli(lastDeliveryAt.Int64).UTC()
		m.LastDeliveryAt = &t
	}
	if scheduledAt.Valid {
		t := time.UnixMilli(scheduledAt.Int64).UTC()
		m.ScheduledAt = &t
	}
	return m, nil
}
