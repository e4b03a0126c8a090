package projection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/storage"
	"github.com/finvault/ledger/internal/services/ledger/storage/memory"
)

var baseTime = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func makeEvent(t *testing.T, accountID string, version uint64, eventType event.Type, payload any) event.Event {
	t.Helper()
	data, err := event.MarshalPayload(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		AccountID:   accountID,
		Version:     version,
		Timestamp:   baseTime.Add(time.Duration(version) * time.Second),
		Type:        eventType,
		PayloadJSON: data,
	}
}

func openedEvent(t *testing.T, accountID string, version uint64) event.Event {
	t.Helper()
	return makeEvent(t, accountID, version, event.TypeAccountOpened, event.AccountOpenedPayload{
		AccountNumber:  "BKCD23456789",
		HolderName:     "John Doe",
		Currency:       "USD",
		OverdraftLimit: "100.00",
	})
}

func newProjectors(store storage.ReadModelStore) []Handler {
	registry := event.DefaultRegistry()
	return []Handler{
		&SummaryProjector{ReadModels: store, Events: registry},
		&TransactionProjector{ReadModels: store, Events: registry},
	}
}

func TestSummaryProjectorFollowsStream(t *testing.T) {
	store := memory.New(nil)
	handlers := newProjectors(store)
	ctx := context.Background()

	stream := []event.Event{
		openedEvent(t, "acc-1", 1),
		makeEvent(t, "acc-1", 2, event.TypeMoneyDeposited, event.MoneyDepositedPayload{Amount: "200.00", Currency: "USD"}),
		makeEvent(t, "acc-1", 3, event.TypeMoneyWithdrawn, event.MoneyWithdrawnPayload{Amount: "250.00", Currency: "USD"}),
		makeEvent(t, "acc-1", 4, event.TypeAccountFrozen, event.AccountFrozenPayload{Reason: "fraud review"}),
	}
	for _, evt := range stream {
		for _, h := range handlers {
			if err := h.Apply(ctx, evt); err != nil {
				t.Fatalf("%s apply v%d: %v", h.Name(), evt.Version, err)
			}
		}
	}

	summary, err := store.GetAccountSummary(ctx, "acc-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.Balance != "-50.00" {
		t.Fatalf("balance = %s, want -50.00", summary.Balance)
	}
	if summary.Status != "FROZEN" {
		t.Fatalf("status = %s, want FROZEN", summary.Status)
	}
	if summary.TransactionCount != 2 {
		t.Fatalf("transaction count = %d, want 2", summary.TransactionCount)
	}
	if summary.LastEventVersion != 4 {
		t.Fatalf("last event version = %d, want 4", summary.LastEventVersion)
	}
	if summary.HolderName != "John Doe" || summary.AccountNumber != "BKCD23456789" {
		t.Fatalf("identity fields %+v", summary)
	}
	if !summary.UpdatedAt.Equal(baseTime.Add(4 * time.Second)) {
		t.Fatalf("updated at = %v", summary.UpdatedAt)
	}
}

func TestTransactionProjectorKindsAndCounterparties(t *testing.T) {
	store := memory.New(nil)
	projector := &TransactionProjector{ReadModels: store, Events: event.DefaultRegistry()}
	ctx := context.Background()

	stream := []event.Event{
		openedEvent(t, "acc-1", 1),
		makeEvent(t, "acc-1", 2, event.TypeMoneyDeposited, event.MoneyDepositedPayload{Amount: "200.00", Currency: "USD"}),
		makeEvent(t, "acc-1", 3, event.TypeMoneyTransferredOut, event.MoneyTransferredOutPayload{
			ToAccountID: "acc-2", Amount: "75.00", Currency: "USD", Description: "rent",
		}),
		makeEvent(t, "acc-1", 4, event.TypeMoneyReceived, event.MoneyReceivedPayload{
			FromAccountID: "acc-3", Amount: "10.00", Currency: "USD", Description: "refund",
		}),
		makeEvent(t, "acc-1", 5, event.TypeAccountFrozen, event.AccountFrozenPayload{Reason: "review"}),
	}
	for _, evt := range stream {
		if err := projector.Apply(ctx, evt); err != nil {
			t.Fatalf("apply v%d: %v", evt.Version, err)
		}
	}

	page, err := store.ListTransactions(ctx, storage.TransactionQuery{AccountID: "acc-1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Lifecycle events produce no history rows.
	if page.TotalCount != 3 {
		t.Fatalf("total = %d, want 3", page.TotalCount)
	}
	byVersion := map[uint64]storage.TransactionRecord{}
	for _, record := range page.Transactions {
		byVersion[record.EventVersion] = record
	}
	if record := byVersion[3]; record.Kind != storage.TransactionKindTransferOut || record.CounterpartyID != "acc-2" || record.Description != "rent" {
		t.Fatalf("transfer out record %+v", record)
	}
	if record := byVersion[4]; record.Kind != storage.TransactionKindTransferIn || record.CounterpartyID != "acc-3" {
		t.Fatalf("transfer in record %+v", record)
	}
	if record := byVersion[2]; record.Kind != storage.TransactionKindDeposit || record.Amount != "200.00" {
		t.Fatalf("deposit record %+v", record)
	}
}

func TestApplyIsIdempotentOnRedelivery(t *testing.T) {
	store := memory.New(nil)
	handlers := newProjectors(store)
	ctx := context.Background()

	deposit := makeEvent(t, "acc-1", 2, event.TypeMoneyDeposited, event.MoneyDepositedPayload{Amount: "50.00", Currency: "USD"})
	stream := []event.Event{openedEvent(t, "acc-1", 1), deposit, deposit}
	for _, evt := range stream {
		for _, h := range handlers {
			if err := h.Apply(ctx, evt); err != nil {
				t.Fatalf("%s apply: %v", h.Name(), err)
			}
		}
	}

	summary, err := store.GetAccountSummary(ctx, "acc-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.Balance != "50.00" || summary.TransactionCount != 1 {
		t.Fatalf("redelivery must not double-apply: %+v", summary)
	}
	page, err := store.ListTransactions(ctx, storage.TransactionQuery{AccountID: "acc-1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalCount != 1 {
		t.Fatalf("transactions = %d, want 1", page.TotalCount)
	}
}

func TestPipelinePreservesPerAccountOrder(t *testing.T) {
	store := memory.New(nil)
	pipeline := NewPipeline(newProjectors(store), PipelineConfig{Workers: 4, ShardCapacity: 8})
	ctx := context.Background()
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = pipeline.Close(context.Background()) })

	accounts := []string{"acc-1", "acc-2", "acc-3"}
	for _, accountID := range accounts {
		if err := pipeline.Dispatch(ctx, openedEvent(t, accountID, 1)); err != nil {
			t.Fatalf("dispatch open: %v", err)
		}
	}
	const deposits = 20
	for version := uint64(2); version < 2+deposits; version++ {
		for _, accountID := range accounts {
			evt := makeEvent(t, accountID, version, event.TypeMoneyDeposited,
				event.MoneyDepositedPayload{Amount: "1.00", Currency: "USD"})
			if err := pipeline.Dispatch(ctx, evt); err != nil {
				t.Fatalf("dispatch deposit: %v", err)
			}
		}
	}
	if err := pipeline.WaitForIdle(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	want := decimal.NewFromInt(deposits)
	for _, accountID := range accounts {
		summary, err := store.GetAccountSummary(ctx, accountID)
		if err != nil {
			t.Fatalf("get %s: %v", accountID, err)
		}
		balance, err := decimal.NewFromString(summary.Balance)
		if err != nil {
			t.Fatalf("parse balance: %v", err)
		}
		if !balance.Equal(want) {
			t.Fatalf("%s balance = %s, want %s", accountID, summary.Balance, want)
		}
		if summary.LastEventVersion != 1+deposits {
			t.Fatalf("%s last version = %d", accountID, summary.LastEventVersion)
		}
	}

	stats := pipeline.Stats()
	if stats.Dispatched != int64(len(accounts)*(1+deposits)) || stats.Processed != stats.Dispatched {
		t.Fatalf("stats = %+v", stats)
	}
}

type failingHandler struct {
	err error
}

func (h *failingHandler) Name() string { return "broken" }

func (h *failingHandler) Apply(context.Context, event.Event) error { return h.err }

func TestPipelineToleratesHandlerFailures(t *testing.T) {
	store := memory.New(nil)
	handlers := append(newProjectors(store), &failingHandler{err: errors.New("read model down")})
	pipeline := NewPipeline(handlers, PipelineConfig{Workers: 1})
	ctx := context.Background()
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = pipeline.Close(context.Background()) })

	if err := pipeline.Dispatch(ctx, openedEvent(t, "acc-1", 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := pipeline.Dispatch(ctx, makeEvent(t, "acc-1", 2, event.TypeMoneyDeposited,
		event.MoneyDepositedPayload{Amount: "5.00", Currency: "USD"})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := pipeline.WaitForIdle(ctx, 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	summary, err := store.GetAccountSummary(ctx, "acc-1")
	if err != nil {
		t.Fatalf("healthy handler must still apply: %v", err)
	}
	if summary.Balance != "5.00" {
		t.Fatalf("balance = %s, want 5.00", summary.Balance)
	}
	stats := pipeline.Stats()
	if stats.HandlerFailures != 2 {
		t.Fatalf("failures = %d, want 2", stats.HandlerFailures)
	}
	if stats.Processed != 2 {
		t.Fatalf("processed = %d, want 2", stats.Processed)
	}
}

func TestDispatchAfterCloseFails(t *testing.T) {
	pipeline := NewPipeline(newProjectors(memory.New(nil)), PipelineConfig{})
	ctx := context.Background()
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := pipeline.Dispatch(ctx, openedEvent(t, "acc-1", 1))
	if !errors.Is(err, apperrors.New(apperrors.CodeProcessorClosed, "")) {
		t.Fatalf("expected closed error, got %v", err)
	}
	// Close is idempotent.
	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

type gatedHandler struct {
	entered chan struct{}
	gate    chan struct{}
	applied atomic.Int64
}

func (h *gatedHandler) Name() string { return "gated" }

func (h *gatedHandler) Apply(context.Context, event.Event) error {
	h.entered <- struct{}{}
	<-h.gate
	h.applied.Add(1)
	return nil
}

func TestCloseWaitsForBlockedDispatcher(t *testing.T) {
	handler := &gatedHandler{entered: make(chan struct{}, 8), gate: make(chan struct{})}
	pipeline := NewPipeline([]Handler{handler}, PipelineConfig{Workers: 1, ShardCapacity: 1})
	ctx := context.Background()
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// First event occupies the worker, second fills the shard, third
	// leaves its dispatcher blocked in the shard send.
	if err := pipeline.Dispatch(ctx, openedEvent(t, "acc-1", 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	<-handler.entered
	if err := pipeline.Dispatch(ctx, openedEvent(t, "acc-1", 2)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- pipeline.Dispatch(ctx, openedEvent(t, "acc-1", 3))
	}()
	// Give the dispatcher time to park in the shard send.
	time.Sleep(50 * time.Millisecond)

	closeErr := make(chan error, 1)
	go func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		closeErr <- pipeline.Close(closeCtx)
	}()
	close(handler.gate)

	if err := <-dispatchErr; err != nil {
		t.Fatalf("blocked dispatch: %v", err)
	}
	if err := <-closeErr; err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := handler.applied.Load(); got != 3 {
		t.Fatalf("applied = %d, want 3", got)
	}
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	store := memory.New(nil)
	pipeline := NewPipeline(newProjectors(store), PipelineConfig{Workers: 1, ShardCapacity: 64})
	ctx := context.Background()
	if err := pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := pipeline.Dispatch(ctx, openedEvent(t, "acc-1", 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for version := uint64(2); version <= 11; version++ {
		evt := makeEvent(t, "acc-1", version, event.TypeMoneyDeposited,
			event.MoneyDepositedPayload{Amount: fmt.Sprintf("%d.00", version), Currency: "USD"})
		if err := pipeline.Dispatch(ctx, evt); err != nil {
			t.Fatalf("dispatch v%d: %v", version, err)
		}
	}

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pipeline.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	summary, err := store.GetAccountSummary(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.LastEventVersion != 11 {
		t.Fatalf("last version = %d, want 11", summary.LastEventVersion)
	}
}
