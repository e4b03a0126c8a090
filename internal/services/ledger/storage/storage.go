// Package storage defines the persistence ports for the ledger: the event
// journal, snapshots, and the projected read models.
package storage

import (
	"context"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
)

// ErrNotFound reports a missing record. Compare with errors.Is.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrVersionConflict reports an optimistic concurrency failure on append.
// Callers reload the stream and retry.
var ErrVersionConflict = apperrors.New(apperrors.CodeEventVersionConflict, "expected version does not match stream")

// EventPage is one page of a stream's events with paging metadata.
type EventPage struct {
	Events     []event.Event
	TotalCount int
	HasMore    bool
}

// EventStore is the append-only account journal.
type EventStore interface {
	// AppendEvent persists evt at version expectedVersion+1, failing with
	// ErrVersionConflict when the stream has moved past expectedVersion.
	// The returned event carries its assigned version.
	AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error)

	// BatchAppendEvents persists events contiguously from
	// expectedVersion+1 in one transaction; all or none are written.
	BatchAppendEvents(ctx context.Context, accountID string, events []event.Event, expectedVersion uint64) ([]event.Event, error)

	// LoadStream returns every event for the account in version order.
	LoadStream(ctx context.Context, accountID string) ([]event.Event, error)

	// ListEvents returns up to limit events with versions above
	// afterVersion, in ascending order.
	ListEvents(ctx context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error)

	// ListEventsPage returns an offset page of the stream.
	ListEventsPage(ctx context.Context, accountID string, offset, limit int) (EventPage, error)

	// CountEvents returns the stream length.
	CountEvents(ctx context.Context, accountID string) (int64, error)

	// LatestVersion returns the stream's current version, zero for an
	// empty stream.
	LatestVersion(ctx context.Context, accountID string) (uint64, error)

	// ListAccountIDs returns every account id with at least one event.
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// Snapshot is a point-in-time capture of folded account state. Monetary
// fields are decimal strings at the account currency's scale.
type Snapshot struct {
	AccountID        string
	Version          uint64
	AccountNumber    string
	HolderName       string
	Currency         string
	Balance          string
	OverdraftLimit   string
	Status           string
	TransactionCount int64
	CreatedAt        time.Time
}

// SnapshotStore keeps an append-only history of state snapshots.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snapshot Snapshot) error

	// GetLatestSnapshot returns the highest-version snapshot, or
	// ErrNotFound when the account has none.
	GetLatestSnapshot(ctx context.Context, accountID string) (Snapshot, error)

	// ListSnapshots returns snapshots newest first, up to limit.
	ListSnapshots(ctx context.Context, accountID string, limit int) ([]Snapshot, error)
}

// AccountSummaryRecord is the per-account read model kept by projections.
type AccountSummaryRecord struct {
	AccountID        string
	AccountNumber    string
	HolderName       string
	Currency         string
	Balance          string
	OverdraftLimit   string
	Status           string
	TransactionCount int64
	LastEventVersion uint64
	OpenedAt         time.Time
	UpdatedAt        time.Time
}

// Transaction kinds recorded in the history read model.
const (
	TransactionKindDeposit     = "deposit"
	TransactionKindWithdrawal  = "withdrawal"
	TransactionKindTransferOut = "transfer_out"
	TransactionKindTransferIn  = "transfer_in"
)

// TransactionRecord is one entry in the per-account history read model.
type TransactionRecord struct {
	ID             string
	AccountID      string
	EventVersion   uint64
	Kind           string
	Amount         string
	Currency       string
	CounterpartyID string
	Description    string
	OccurredAt     time.Time
}

// TransactionQuery filters and pages the transaction history.
type TransactionQuery struct {
	AccountID string
	// Kind filters to one transaction kind when non-empty.
	Kind string
	// Since keeps transactions at or after this instant when non-nil.
	Since  *time.Time
	Offset int
	Limit  int
}

// TransactionPage is one page of history with paging metadata.
type TransactionPage struct {
	Transactions []TransactionRecord
	TotalCount   int
	HasMore      bool
}

// SummaryQuery filters and pages account summaries.
type SummaryQuery struct {
	// HolderName filters to exact holder match when non-empty.
	HolderName string
	// Status filters to one lifecycle status when non-empty.
	Status string
	Offset int
	Limit  int
}

// SummaryPage is one page of account summaries with paging metadata.
type SummaryPage struct {
	Summaries  []AccountSummaryRecord
	TotalCount int
	HasMore    bool
}

// ReadModelStore persists the projected read models.
type ReadModelStore interface {
	PutAccountSummary(ctx context.Context, summary AccountSummaryRecord) error

	// GetAccountSummary returns ErrNotFound for unprojected accounts.
	GetAccountSummary(ctx context.Context, accountID string) (AccountSummaryRecord, error)

	ListAccountSummaries(ctx context.Context, query SummaryQuery) (SummaryPage, error)

	// ListAccountIDsByHolder returns ids of accounts whose summary holder
	// name matches exactly.
	ListAccountIDsByHolder(ctx context.Context, holderName string) ([]string, error)

	// AppendTransaction is idempotent per (account id, event version).
	AppendTransaction(ctx context.Context, record TransactionRecord) error

	ListTransactions(ctx context.Context, query TransactionQuery) (TransactionPage, error)

	// Reset clears all read models ahead of a rebuild.
	Reset(ctx context.Context) error
}
