package app

import (
	"context"
	"errors"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/money"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

// GetAccount rehydrates current account state from the journal. Accounts
// with no events are not found.
func (s *Service) GetAccount(ctx context.Context, accountID string) (account.State, error) {
	state, err := s.loader.Load(ctx, accountID)
	if err != nil {
		return account.State{}, err
	}
	if !state.Opened {
		return account.State{}, apperrors.WithMetadata(apperrors.CodeNotFound,
			"account has no events", map[string]string{"account_id": accountID})
	}
	return state, nil
}

// GetBalance returns the account's current balance, served from cache when
// fresh.
func (s *Service) GetBalance(ctx context.Context, accountID string) (money.Money, error) {
	return s.caches.Balances.GetOrCompute(ctx, accountID, func(ctx context.Context) (money.Money, error) {
		state, err := s.GetAccount(ctx, accountID)
		if err != nil {
			return money.Money{}, err
		}
		return state.BalanceMoney(), nil
	})
}

// GetAccountSummary returns the projected account summary, served from
// cache when fresh. Summaries trail the journal until the projection
// pipeline catches up.
func (s *Service) GetAccountSummary(ctx context.Context, accountID string) (storage.AccountSummaryRecord, error) {
	return s.caches.Summaries.GetOrCompute(ctx, accountID, func(ctx context.Context) (storage.AccountSummaryRecord, error) {
		summary, err := s.readModels.GetAccountSummary(ctx, accountID)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.AccountSummaryRecord{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"account summary is not projected", map[string]string{"account_id": accountID})
		}
		return summary, err
	})
}

// GetAccountsByHolder returns the ids of accounts held under the given
// name. The name is normalized the same way account opening normalizes it.
func (s *Service) GetAccountsByHolder(ctx context.Context, holderName string) ([]string, error) {
	holder, err := account.NewHolder(holderName)
	if err != nil {
		return nil, err
	}
	return s.caches.AccountsByHolder.GetOrCompute(ctx, holder.String(), func(ctx context.Context) ([]string, error) {
		return s.readModels.ListAccountIDsByHolder(ctx, holder.String())
	})
}

// GetEventCount returns the journal stream length for the account.
func (s *Service) GetEventCount(ctx context.Context, accountID string) (int64, error) {
	return s.caches.EventCounts.GetOrCompute(ctx, accountID, func(ctx context.Context) (int64, error) {
		return s.events.CountEvents(ctx, accountID)
	})
}

// GetTransactionHistory returns a filtered, paginated page of the
// account's transaction read model.
func (s *Service) GetTransactionHistory(ctx context.Context, query storage.TransactionQuery) (storage.TransactionPage, error) {
	return s.readModels.ListTransactions(ctx, query)
}

// ListAccountSummaries returns a filtered, paginated page of account
// summaries.
func (s *Service) ListAccountSummaries(ctx context.Context, query storage.SummaryQuery) (storage.SummaryPage, error) {
	return s.readModels.ListAccountSummaries(ctx, query)
}

// ListEvents returns an offset page of the account's journal stream.
func (s *Service) ListEvents(ctx context.Context, accountID string, offset, limit int) (storage.EventPage, error) {
	return s.events.ListEventsPage(ctx, accountID, offset, limit)
}
