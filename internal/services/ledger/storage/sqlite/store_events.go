package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 200
)

const eventColumns = "account_id, version, timestamp, event_type, actor, correlation_id, causation_id, properties_json, payload_json"

// AppendEvent persists evt at expectedVersion+1 inside one transaction.
// The stream_versions counter is the fast path; the (account_id, version)
// primary key is the durable arbiter under concurrent writers.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("event store is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := s.appendEventTx(ctx, tx, evt, expectedVersion)
	if err != nil {
		return event.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit append: %w", err)
	}
	return stored, nil
}

// BatchAppendEvents persists events contiguously from expectedVersion+1 in
// one transaction; a conflict on any event rolls back the whole batch.
func (s *Store) BatchAppendEvents(ctx context.Context, accountID string, events []event.Event, expectedVersion uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("event store is not configured")
	}
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored := make([]event.Event, 0, len(events))
	version := expectedVersion
	for _, evt := range events {
		if evt.AccountID != accountID {
			return nil, apperrors.WithMetadata(apperrors.CodeAccountIDRequired,
				"batch events must share one account stream",
				map[string]string{"account_id": accountID})
		}
		appended, err := s.appendEventTx(ctx, tx, evt, version)
		if err != nil {
			return nil, err
		}
		stored = append(stored, appended)
		version = appended.Version
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch append: %w", err)
	}
	return stored, nil
}

func (s *Store) appendEventTx(ctx context.Context, tx *sql.Tx, evt event.Event, expectedVersion uint64) (event.Event, error) {
	if s.eventRegistry == nil {
		return event.Event{}, fmt.Errorf("event registry is required")
	}

	normalized, err := s.eventRegistry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = normalized
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO stream_versions (account_id, latest_version) VALUES (?, 0)",
		evt.AccountID,
	); err != nil {
		return event.Event{}, fmt.Errorf("init stream version: %w", err)
	}

	var latest int64
	if err := tx.QueryRowContext(ctx,
		"SELECT latest_version FROM stream_versions WHERE account_id = ?",
		evt.AccountID,
	).Scan(&latest); err != nil {
		return event.Event{}, fmt.Errorf("get stream version: %w", err)
	}
	if uint64(latest) != expectedVersion {
		return event.Event{}, apperrors.WithMetadata(apperrors.CodeEventVersionConflict,
			"expected version does not match stream",
			map[string]string{
				"account_id": evt.AccountID,
				"expected":   fmt.Sprintf("%d", expectedVersion),
				"actual":     fmt.Sprintf("%d", latest),
			})
	}
	evt.Version = expectedVersion + 1

	propertiesJSON, err := marshalProperties(evt.Properties)
	if err != nil {
		return event.Event{}, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		evt.AccountID,
		int64(evt.Version),
		toMillis(evt.Timestamp),
		string(evt.Type),
		evt.Actor,
		evt.CorrelationID,
		evt.CausationID,
		propertiesJSON,
		evt.PayloadJSON,
	); err != nil {
		if isConstraintError(err) {
			return event.Event{}, apperrors.Wrap(apperrors.CodeEventVersionConflict,
				"concurrent append won the version slot", err)
		}
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE stream_versions SET latest_version = ? WHERE account_id = ?",
		int64(evt.Version), evt.AccountID,
	); err != nil {
		return event.Event{}, fmt.Errorf("update stream version: %w", err)
	}

	return evt, nil
}

// LoadStream returns every event for the account in version order.
func (s *Store) LoadStream(ctx context.Context, accountID string) ([]event.Event, error) {
	return s.listEvents(ctx, accountID, 0, -1)
}

// ListEvents returns up to limit events with versions above afterVersion.
func (s *Store) ListEvents(ctx context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	return s.listEvents(ctx, accountID, afterVersion, limit)
}

func (s *Store) listEvents(ctx context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("event store is not configured")
	}

	query := "SELECT " + eventColumns + " FROM events WHERE account_id = ? AND version > ? ORDER BY version ASC"
	args := []any{accountID, int64(afterVersion)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEventsPage returns an offset page of the stream together with the
// total count. Limits are clamped to keep reads bounded.
func (s *Store) ListEventsPage(ctx context.Context, accountID string, offset, limit int) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventPage{}, fmt.Errorf("event store is not configured")
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	total, err := s.CountEvents(ctx, accountID)
	if err != nil {
		return storage.EventPage{}, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE account_id = ? ORDER BY version ASC LIMIT ? OFFSET ?",
		accountID, limit, offset,
	)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("list events page: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return storage.EventPage{}, err
	}

	return storage.EventPage{
		Events:     events,
		TotalCount: int(total),
		HasMore:    int64(offset+len(events)) < total,
	}, nil
}

// CountEvents returns the stream length.
func (s *Store) CountEvents(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("event store is not configured")
	}
	var count int64
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE account_id = ?", accountID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// LatestVersion returns the stream's current version, zero for an empty or
// unknown stream.
func (s *Store) LatestVersion(ctx context.Context, accountID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("event store is not configured")
	}
	var latest int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT latest_version FROM stream_versions WHERE account_id = ?", accountID,
	).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	return uint64(latest), nil
}

// ListAccountIDs returns every account id with at least one event.
func (s *Store) ListAccountIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("event store is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT DISTINCT account_id FROM events ORDER BY account_id ASC")
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			evt            event.Event
			version        int64
			timestamp      int64
			eventType      string
			propertiesJSON []byte
		)
		if err := rows.Scan(
			&evt.AccountID,
			&version,
			&timestamp,
			&eventType,
			&evt.Actor,
			&evt.CorrelationID,
			&evt.CausationID,
			&propertiesJSON,
			&evt.PayloadJSON,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Version = uint64(version)
		evt.Timestamp = fromMillis(timestamp)
		evt.Type = event.Type(eventType)
		props, err := unmarshalProperties(propertiesJSON)
		if err != nil {
			return nil, err
		}
		evt.Properties = props
		events = append(events, evt)
	}
	return events, rows.Err()
}

func marshalProperties(props map[string]string) ([]byte, error) {
	if len(props) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal event properties: %w", err)
	}
	return data, nil
}

func unmarshalProperties(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	props := make(map[string]string)
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("unmarshal event properties: %w", err)
	}
	return props, nil
}

// isConstraintError checks for SQLITE_CONSTRAINT family errors, which here
// mean another writer claimed the (account_id, version) slot first.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return strings.Contains(strings.ToLower(err.Error()), "constraint")
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
