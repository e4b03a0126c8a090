package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/finvault/ledger/internal/services/ledger/storage"
)

const snapshotColumns = "account_id, version, account_number, holder_name, currency, balance, overdraft_limit, status, transaction_count, created_at"

// PutSnapshot persists a state snapshot. Snapshots are append-only; writing
// the same (account_id, version) twice is a no-op.
func (s *Store) PutSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if snapshot.AccountID == "" || snapshot.Version == 0 {
		return fmt.Errorf("snapshot account id and version are required")
	}
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT OR IGNORE INTO snapshots ("+snapshotColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		snapshot.AccountID,
		int64(snapshot.Version),
		snapshot.AccountNumber,
		snapshot.HolderName,
		snapshot.Currency,
		snapshot.Balance,
		snapshot.OverdraftLimit,
		snapshot.Status,
		snapshot.TransactionCount,
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetLatestSnapshot returns the highest-version snapshot for the account.
func (s *Store) GetLatestSnapshot(ctx context.Context, accountID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("snapshot store is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE account_id = ? ORDER BY version DESC LIMIT 1",
		accountID,
	)
	snapshot, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	return snapshot, nil
}

// ListSnapshots returns snapshots newest first, up to limit.
func (s *Store) ListSnapshots(ctx context.Context, accountID string, limit int) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("snapshot store is not configured")
	}
	if limit <= 0 {
		limit = defaultEventPageSize
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM snapshots WHERE account_id = ? ORDER BY version DESC LIMIT ?",
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []storage.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (storage.Snapshot, error) {
	var (
		snapshot  storage.Snapshot
		version   int64
		createdAt int64
	)
	if err := row.Scan(
		&snapshot.AccountID,
		&version,
		&snapshot.AccountNumber,
		&snapshot.HolderName,
		&snapshot.Currency,
		&snapshot.Balance,
		&snapshot.OverdraftLimit,
		&snapshot.Status,
		&snapshot.TransactionCount,
		&createdAt,
	); err != nil {
		return storage.Snapshot{}, err
	}
	snapshot.Version = uint64(version)
	snapshot.CreatedAt = fromMillis(createdAt)
	return snapshot, nil
}
