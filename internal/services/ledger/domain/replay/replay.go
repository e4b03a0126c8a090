// Package replay rebuilds account state by folding journal events in
// version order, page by page.
package replay

import (
	"context"
	"strconv"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
)

const defaultPageSize = 200

// EventSource lists a stream's events in ascending version order.
type EventSource interface {
	ListEvents(ctx context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error)
}

// Folder applies one event to state.
type Folder func(state account.State, evt event.Event) account.State

// Options tunes a replay pass.
type Options struct {
	// AfterVersion skips events at or below this version, typically the
	// snapshot version used to seed the state.
	AfterVersion uint64
	// UntilVersion stops after folding this version; zero means the full
	// stream.
	UntilVersion uint64
	// PageSize bounds each storage read.
	PageSize int
}

// Result reports what a replay pass applied.
type Result struct {
	State       account.State
	LastVersion uint64
	Applied     int
}

// Replay folds the stream for accountID into state. Versions must ascend
// without gaps from AfterVersion+1; any break means the journal is corrupt
// and the replay aborts.
func Replay(ctx context.Context, source EventSource, fold Folder, accountID string, state account.State, opts Options) (Result, error) {
	if source == nil {
		return Result{}, apperrors.New(apperrors.CodeUnknown, "event source is required")
	}
	if fold == nil {
		fold = account.Fold
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{State: state, LastVersion: opts.AfterVersion}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		events, err := source.ListEvents(ctx, accountID, result.LastVersion, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}

		for _, evt := range events {
			if evt.Version != result.LastVersion+1 {
				return result, apperrors.WithMetadata(apperrors.CodeEventStreamCorrupt,
					"event version gap: expected "+strconv.FormatUint(result.LastVersion+1, 10)+
						" got "+strconv.FormatUint(evt.Version, 10),
					map[string]string{"account_id": accountID})
			}
			result.State = fold(result.State, evt)
			result.LastVersion = evt.Version
			result.Applied++
			if opts.UntilVersion != 0 && result.LastVersion >= opts.UntilVersion {
				return result, nil
			}
		}

		if len(events) < pageSize {
			return result, nil
		}
	}
}
