// Package projection maintains the query-side read models from journal
// events: per-account summaries and the transaction history.
package projection

import (
	"context"
	"fmt"

	"github.com/finvault/ledger/internal/platform/id"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/domain/money"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

// Handler applies one event to a read model. Apply must be idempotent per
// event version; the pipeline may redeliver after a rebuild.
type Handler interface {
	Name() string
	Apply(ctx context.Context, evt event.Event) error
}

// SummaryProjector keeps the per-account summary read model current.
type SummaryProjector struct {
	ReadModels storage.ReadModelStore
	Events     *event.Registry
}

// Name implements Handler.
func (p *SummaryProjector) Name() string { return "account_summary" }

// Apply folds one event into the account summary.
func (p *SummaryProjector) Apply(ctx context.Context, evt event.Event) error {
	payload, err := p.Events.DecodePayload(evt)
	if err != nil {
		return err
	}

	if opened, ok := payload.(*event.AccountOpenedPayload); ok {
		if existing, err := p.ReadModels.GetAccountSummary(ctx, evt.AccountID); err == nil && existing.LastEventVersion >= evt.Version {
			return nil
		}
		summary := storage.AccountSummaryRecord{
			AccountID:        evt.AccountID,
			AccountNumber:    opened.AccountNumber,
			HolderName:       opened.HolderName,
			Currency:         opened.Currency,
			Balance:          money.Zero(opened.Currency).StringFixed(),
			OverdraftLimit:   opened.OverdraftLimit,
			Status:           string(account.StatusActive),
			LastEventVersion: evt.Version,
			OpenedAt:         evt.Timestamp,
			UpdatedAt:        evt.Timestamp,
		}
		return p.ReadModels.PutAccountSummary(ctx, summary)
	}

	summary, err := p.ReadModels.GetAccountSummary(ctx, evt.AccountID)
	if err != nil {
		return fmt.Errorf("load summary for %s: %w", evt.AccountID, err)
	}
	if evt.Version <= summary.LastEventVersion {
		// Redelivered event; the summary already includes it.
		return nil
	}

	switch typed := payload.(type) {
	case *event.MoneyDepositedPayload:
		if err := applyBalanceDelta(&summary, typed.Amount, true); err != nil {
			return err
		}
	case *event.MoneyReceivedPayload:
		if err := applyBalanceDelta(&summary, typed.Amount, true); err != nil {
			return err
		}
	case *event.MoneyWithdrawnPayload:
		if err := applyBalanceDelta(&summary, typed.Amount, false); err != nil {
			return err
		}
	case *event.MoneyTransferredOutPayload:
		if err := applyBalanceDelta(&summary, typed.Amount, false); err != nil {
			return err
		}
	case *event.AccountFrozenPayload:
		summary.Status = string(account.StatusFrozen)
	case *event.AccountClosedPayload:
		summary.Status = string(account.StatusClosed)
	case *event.AccountMarkedDormantPayload:
		summary.Status = string(account.StatusDormant)
	case *event.AccountReactivatedPayload:
		summary.Status = string(account.StatusActive)
	default:
		return nil
	}

	summary.LastEventVersion = evt.Version
	summary.UpdatedAt = evt.Timestamp
	return p.ReadModels.PutAccountSummary(ctx, summary)
}

func applyBalanceDelta(summary *storage.AccountSummaryRecord, amount string, credit bool) error {
	balance, err := money.Parse(summary.Balance, summary.Currency)
	if err != nil {
		return fmt.Errorf("summary balance for %s: %w", summary.AccountID, err)
	}
	delta, err := money.Parse(amount, summary.Currency)
	if err != nil {
		return fmt.Errorf("event amount for %s: %w", summary.AccountID, err)
	}
	var next money.Money
	if credit {
		next, err = balance.Add(delta)
	} else {
		next, err = balance.Sub(delta)
	}
	if err != nil {
		return err
	}
	summary.Balance = next.StringFixed()
	summary.TransactionCount++
	return nil
}

// TransactionProjector appends history records for balance-changing events.
type TransactionProjector struct {
	ReadModels storage.ReadModelStore
	Events     *event.Registry
}

// Name implements Handler.
func (p *TransactionProjector) Name() string { return "transaction_history" }

// Apply records one history entry for money movement events; lifecycle
// events are not transactions and are skipped.
func (p *TransactionProjector) Apply(ctx context.Context, evt event.Event) error {
	payload, err := p.Events.DecodePayload(evt)
	if err != nil {
		return err
	}

	record := storage.TransactionRecord{
		ID:           id.MustNewID(),
		AccountID:    evt.AccountID,
		EventVersion: evt.Version,
		OccurredAt:   evt.Timestamp,
	}

	switch typed := payload.(type) {
	case *event.MoneyDepositedPayload:
		record.Kind = storage.TransactionKindDeposit
		record.Amount = typed.Amount
		record.Currency = typed.Currency
	case *event.MoneyWithdrawnPayload:
		record.Kind = storage.TransactionKindWithdrawal
		record.Amount = typed.Amount
		record.Currency = typed.Currency
	case *event.MoneyTransferredOutPayload:
		record.Kind = storage.TransactionKindTransferOut
		record.Amount = typed.Amount
		record.Currency = typed.Currency
		record.CounterpartyID = typed.ToAccountID
		record.Description = typed.Description
	case *event.MoneyReceivedPayload:
		record.Kind = storage.TransactionKindTransferIn
		record.Amount = typed.Amount
		record.Currency = typed.Currency
		record.CounterpartyID = typed.FromAccountID
		record.Description = typed.Description
	default:
		return nil
	}

	return p.ReadModels.AppendTransaction(ctx, record)
}
