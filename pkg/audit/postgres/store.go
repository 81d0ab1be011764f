// Package postgres provides PostgreSQL storage for governance events.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/surfboard-io/surfboard/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// eventColumns lists columns in scan order.
var eventColumns = []string{
	"id", "timestamp", "action", "request_id", "session_id",
	"identity", "tool_name", "remote_addr", "detail", "duration_ms",
}

// Store implements audit.Recorder using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL event store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL event store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Record persists a governance event.
func (s *Store) Record(ctx context.Context, event audit.Event) error {
	query, args, err := psq.Insert("governance_events").
		Columns(eventColumns...).
		Values(
			event.ID,
			event.Timestamp,
			string(event.Action),
			event.RequestID,
			event.SessionID,
			event.Identity,
			event.ToolName,
			event.RemoteAddr,
			event.Detail,
			event.DurationMS,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building event insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting governance event: %w", err)
	}
	return nil
}

// applyEventFilter adds filter conditions to a SELECT builder.
func applyEventFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.ID != "" {
		qb = qb.Where(sq.Eq{"id": filter.ID})
	}
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.SessionID != "" {
		qb = qb.Where(sq.Eq{"session_id": filter.SessionID})
	}
	if filter.Action != "" {
		qb = qb.Where(sq.Eq{"action": string(filter.Action)})
	}
	return qb
}

// Query retrieves events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyEventFilter(psq.Select(eventColumns...).From("governance_events"), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building event query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying governance events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if filter.Limit > 0 && filter.Limit <= maxQueryCapacity {
		allocCap = filter.Limit
	}
	events := make([]audit.Event, 0, allocCap)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating governance event rows: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var action string

	err := rows.Scan(
		&event.ID,
		&event.Timestamp,
		&action,
		&event.RequestID,
		&event.SessionID,
		&event.Identity,
		&event.ToolName,
		&event.RemoteAddr,
		&event.Detail,
		&event.DurationMS,
	)
	if err != nil {
		return event, fmt.Errorf("scanning governance event row: %w", err)
	}

	event.Action = audit.Action(action)
	return event, nil
}

// Count returns the number of events matching the filter.
func (s *Store) Count(ctx context.Context, filter audit.QueryFilter) (int, error) {
	qb := applyEventFilter(psq.Select("COUNT(*)").From("governance_events"), filter)

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting governance events: %w", err)
	}
	return count, nil
}

// Cleanup removes events older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	query, args, err := psq.Delete("governance_events").
		Where(sq.Lt{"timestamp": cutoff}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up governance events: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically
// deletes events past retention. The goroutine is stopped by Close.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Verify interface compliance.
var _ audit.Recorder = (*Store)(nil)
