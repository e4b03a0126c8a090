package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/replay"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

// ReplayStateLoader rehydrates state from the latest snapshot plus the
// journal suffix after it. Without a snapshot store it replays the full
// stream.
type ReplayStateLoader struct {
	Events    replay.EventSource
	Snapshots storage.SnapshotStore
	// PageSize bounds each journal read during replay.
	PageSize int
}

// Load returns the current state for accountID. An account with no events
// loads as the zero state; deciders reject operations on it.
func (l *ReplayStateLoader) Load(ctx context.Context, accountID string) (account.State, error) {
	state := account.State{}
	afterVersion := uint64(0)

	if l.Snapshots != nil {
		snapshot, err := l.Snapshots.GetLatestSnapshot(ctx, accountID)
		switch {
		case err == nil:
			state = StateFromSnapshot(snapshot)
			afterVersion = snapshot.Version
		case errors.Is(err, storage.ErrNotFound):
			// Full replay.
		default:
			return account.State{}, err
		}
	}

	result, err := replay.Replay(ctx, l.Events, account.Fold, accountID, state, replay.Options{
		AfterVersion: afterVersion,
		PageSize:     l.PageSize,
	})
	if err != nil {
		return account.State{}, err
	}
	return result.State, nil
}

// SnapshotFromState captures folded state as a storage snapshot.
func SnapshotFromState(state account.State) storage.Snapshot {
	return storage.Snapshot{
		AccountID:        state.AccountID,
		Version:          state.Version,
		AccountNumber:    state.Number.String(),
		HolderName:       state.Holder.String(),
		Currency:         state.Currency,
		Balance:          state.Balance.String(),
		OverdraftLimit:   state.OverdraftLimit.String(),
		Status:           string(state.Status),
		TransactionCount: state.TransactionCount,
		CreatedAt:        time.Now().UTC(),
	}
}

// StateFromSnapshot seeds replay state from a stored snapshot. Monetary
// fields that fail to parse fall back to zero rather than aborting; the
// suffix replay still runs from the snapshot version.
func StateFromSnapshot(snapshot storage.Snapshot) account.State {
	balance, err := decimal.NewFromString(snapshot.Balance)
	if err != nil {
		balance = decimal.Zero
	}
	limit, err := decimal.NewFromString(snapshot.OverdraftLimit)
	if err != nil {
		limit = decimal.Zero
	}
	return account.State{
		Opened:           true,
		AccountID:        snapshot.AccountID,
		Number:           account.Number(snapshot.AccountNumber),
		Holder:           account.Holder(snapshot.HolderName),
		Currency:         snapshot.Currency,
		Balance:          balance,
		OverdraftLimit:   limit,
		Status:           account.Status(snapshot.Status),
		Version:          snapshot.Version,
		TransactionCount: snapshot.TransactionCount,
	}
}
