package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/finvault/ledger/internal/services/ledger/storage"
)

const summaryColumns = "account_id, account_number, holder_name, currency, balance, overdraft_limit, status, transaction_count, last_event_version, opened_at, updated_at"

const transactionColumns = "id, account_id, event_version, kind, amount, currency, counterparty_id, description, occurred_at"

// PutAccountSummary upserts the per-account summary read model.
func (s *Store) PutAccountSummary(ctx context.Context, summary storage.AccountSummaryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("read model store is not configured")
	}
	if summary.AccountID == "" {
		return fmt.Errorf("summary account id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO account_summaries (`+summaryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account_id) DO UPDATE SET
    account_number = excluded.account_number,
    holder_name = excluded.holder_name,
    currency = excluded.currency,
    balance = excluded.balance,
    overdraft_limit = excluded.overdraft_limit,
    status = excluded.status,
    transaction_count = excluded.transaction_count,
    last_event_version = excluded.last_event_version,
    updated_at = excluded.updated_at`,
		summary.AccountID,
		summary.AccountNumber,
		summary.HolderName,
		summary.Currency,
		summary.Balance,
		summary.OverdraftLimit,
		summary.Status,
		summary.TransactionCount,
		int64(summary.LastEventVersion),
		toMillis(summary.OpenedAt),
		toMillis(summary.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put account summary: %w", err)
	}
	return nil
}

// GetAccountSummary returns the summary read model for one account.
func (s *Store) GetAccountSummary(ctx context.Context, accountID string) (storage.AccountSummaryRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AccountSummaryRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AccountSummaryRecord{}, fmt.Errorf("read model store is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+summaryColumns+" FROM account_summaries WHERE account_id = ?", accountID)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AccountSummaryRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.AccountSummaryRecord{}, fmt.Errorf("get account summary: %w", err)
	}
	return summary, nil
}

// ListAccountSummaries returns an offset page of summaries with optional
// holder and status filters.
func (s *Store) ListAccountSummaries(ctx context.Context, query storage.SummaryQuery) (storage.SummaryPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.SummaryPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SummaryPage{}, fmt.Errorf("read model store is not configured")
	}

	where := "WHERE 1=1"
	args := []any{}
	if query.HolderName != "" {
		where += " AND holder_name = ?"
		args = append(args, query.HolderName)
	}
	if query.Status != "" {
		where += " AND status = ?"
		args = append(args, query.Status)
	}

	var total int64
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM account_summaries "+where, args...,
	).Scan(&total); err != nil {
		return storage.SummaryPage{}, fmt.Errorf("count account summaries: %w", err)
	}

	offset, limit := clampPage(query.Offset, query.Limit)
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+summaryColumns+" FROM account_summaries "+where+" ORDER BY account_id ASC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return storage.SummaryPage{}, fmt.Errorf("list account summaries: %w", err)
	}
	defer rows.Close()

	var summaries []storage.AccountSummaryRecord
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return storage.SummaryPage{}, fmt.Errorf("scan account summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return storage.SummaryPage{}, err
	}

	return storage.SummaryPage{
		Summaries:  summaries,
		TotalCount: int(total),
		HasMore:    int64(offset+len(summaries)) < total,
	}, nil
}

// ListAccountIDsByHolder returns ids of accounts held by an exact holder
// name match.
func (s *Store) ListAccountIDsByHolder(ctx context.Context, holderName string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("read model store is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT account_id FROM account_summaries WHERE holder_name = ? ORDER BY account_id ASC",
		holderName,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts by holder: %w", err)
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

// AppendTransaction records one history entry. The (account_id,
// event_version) unique index makes redelivery idempotent.
func (s *Store) AppendTransaction(ctx context.Context, record storage.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("read model store is not configured")
	}
	if record.ID == "" || record.AccountID == "" {
		return fmt.Errorf("transaction id and account id are required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT OR IGNORE INTO transactions ("+transactionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		record.ID,
		record.AccountID,
		int64(record.EventVersion),
		record.Kind,
		record.Amount,
		record.Currency,
		record.CounterpartyID,
		record.Description,
		toMillis(record.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// ListTransactions returns an offset page of history, newest first, with
// optional kind and since filters.
func (s *Store) ListTransactions(ctx context.Context, query storage.TransactionQuery) (storage.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransactionPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TransactionPage{}, fmt.Errorf("read model store is not configured")
	}
	if query.AccountID == "" {
		return storage.TransactionPage{}, fmt.Errorf("transaction query account id is required")
	}

	where := "WHERE account_id = ?"
	args := []any{query.AccountID}
	if query.Kind != "" {
		where += " AND kind = ?"
		args = append(args, query.Kind)
	}
	if query.Since != nil {
		where += " AND occurred_at >= ?"
		args = append(args, toMillis(*query.Since))
	}

	var total int64
	if err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions "+where, args...,
	).Scan(&total); err != nil {
		return storage.TransactionPage{}, fmt.Errorf("count transactions: %w", err)
	}

	offset, limit := clampPage(query.Offset, query.Limit)
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions "+where+" ORDER BY occurred_at DESC, event_version DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...,
	)
	if err != nil {
		return storage.TransactionPage{}, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var records []storage.TransactionRecord
	for rows.Next() {
		var (
			record       storage.TransactionRecord
			eventVersion int64
			occurredAt   int64
		)
		if err := rows.Scan(
			&record.ID,
			&record.AccountID,
			&eventVersion,
			&record.Kind,
			&record.Amount,
			&record.Currency,
			&record.CounterpartyID,
			&record.Description,
			&occurredAt,
		); err != nil {
			return storage.TransactionPage{}, fmt.Errorf("scan transaction: %w", err)
		}
		record.EventVersion = uint64(eventVersion)
		record.OccurredAt = fromMillis(occurredAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return storage.TransactionPage{}, err
	}

	return storage.TransactionPage{
		Transactions: records,
		TotalCount:   int(total),
		HasMore:      int64(offset+len(records)) < total,
	}, nil
}

// Reset clears all read models ahead of a rebuild.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("read model store is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM transactions"); err != nil {
		return fmt.Errorf("reset transactions: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM account_summaries"); err != nil {
		return fmt.Errorf("reset account summaries: %w", err)
	}
	return nil
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}
	return offset, limit
}

func scanSummary(row rowScanner) (storage.AccountSummaryRecord, error) {
	var (
		summary          storage.AccountSummaryRecord
		lastEventVersion int64
		openedAt         int64
		updatedAt        int64
	)
	if err := row.Scan(
		&summary.AccountID,
		&summary.AccountNumber,
		&summary.HolderName,
		&summary.Currency,
		&summary.Balance,
		&summary.OverdraftLimit,
		&summary.Status,
		&summary.TransactionCount,
		&lastEventVersion,
		&openedAt,
		&updatedAt,
	); err != nil {
		return storage.AccountSummaryRecord{}, err
	}
	summary.LastEventVersion = uint64(lastEventVersion)
	summary.OpenedAt = fromMillis(openedAt)
	summary.UpdatedAt = fromMillis(updatedAt)
	return summary, nil
}
