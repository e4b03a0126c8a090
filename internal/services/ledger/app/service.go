// Package app hosts the ledger service: the command path over the event
// journal, the query ports over read models and caches, and the background
// batch and projection machinery.
package app

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/platform/id"
	"github.com/finvault/ledger/internal/platform/timeouts"
	"github.com/finvault/ledger/internal/services/ledger/batch"
	"github.com/finvault/ledger/internal/services/ledger/cache"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/command"
	"github.com/finvault/ledger/internal/services/ledger/domain/engine"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/projection"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

const defaultSnapshotInterval = 50

// Stores groups the persistence ports the service runs on.
type Stores struct {
	Events     storage.EventStore
	Snapshots  storage.SnapshotStore
	ReadModels storage.ReadModelStore
}

// Options tunes the service. Zero fields fall back to defaults.
type Options struct {
	// SnapshotInterval is the snapshot cadence in events per account.
	SnapshotInterval uint64
	Cache            cache.Options
	Batch            batch.Config
	Pipeline         projection.PipelineConfig
}

// Service is the in-process ledger API.
type Service struct {
	events     storage.EventStore
	snapshots  storage.SnapshotStore
	readModels storage.ReadModelStore

	commands      *command.Registry
	eventRegistry *event.Registry
	handler       *engine.Handler
	loader        *engine.ReplayStateLoader
	projectors    []projection.Handler

	caches    *cache.Set
	processor *batch.Processor
	pipeline  *projection.Pipeline
	tracer    trace.Tracer

	// streamLocks serialize append+dispatch per account so the projection
	// pipeline receives each stream's versions in journal order.
	streamLocks [64]sync.Mutex

	now  func() time.Time
	seed func() int64
}

func (s *Service) streamLock(accountID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return &s.streamLocks[h.Sum32()%uint32(len(s.streamLocks))]
}

// New wires a service over the given stores; call Start before use.
func New(stores Stores, opts Options) (*Service, error) {
	if stores.Events == nil || stores.ReadModels == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "event and read model stores are required")
	}
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = defaultSnapshotInterval
	}

	eventRegistry := event.DefaultRegistry()
	s := &Service{
		events:        stores.Events,
		snapshots:     stores.Snapshots,
		readModels:    stores.ReadModels,
		commands:      command.DefaultRegistry(),
		eventRegistry: eventRegistry,
		caches:        cache.NewSet(opts.Cache),
		tracer:        otel.Tracer("ledger"),
		now:           time.Now,
		seed:          rand.Int63,
	}

	s.loader = &engine.ReplayStateLoader{Events: stores.Events, Snapshots: stores.Snapshots}
	appender := &journalAppender{service: s}
	s.handler = &engine.Handler{
		Commands:         s.commands,
		Events:           eventRegistry,
		Journal:          appender,
		Loader:           s.loader,
		Snapshots:        stores.Snapshots,
		SnapshotInterval: opts.SnapshotInterval,
	}

	s.projectors = []projection.Handler{
		&projection.SummaryProjector{ReadModels: stores.ReadModels, Events: eventRegistry},
		&projection.TransactionProjector{ReadModels: stores.ReadModels, Events: eventRegistry},
	}
	s.pipeline = projection.NewPipeline(s.projectors, opts.Pipeline)
	s.processor = batch.New(appender, opts.Batch)
	return s, nil
}

// Start launches the batch processor and the projection pipeline.
func (s *Service) Start(ctx context.Context) error {
	if err := s.pipeline.Start(ctx); err != nil {
		return err
	}
	return s.processor.Start(ctx)
}

// RunCacheSweeper sweeps expired cache entries on an interval until the
// context is done. Run it in its own goroutine.
func (s *Service) RunCacheSweeper(ctx context.Context, interval time.Duration) {
	s.caches.RunSweeper(ctx, interval)
}

// Close drains the batch processor, then the projection pipeline. The
// context bounds both waits.
func (s *Service) Close(ctx context.Context) error {
	if err := s.processor.Shutdown(ctx); err != nil {
		return err
	}
	return s.pipeline.Close(ctx)
}

// journalAppender is the single write door to the journal: it appends to
// the event store and feeds every stored event to the projection pipeline
// and cache invalidation. Both the command path and the batch processor go
// through it.
type journalAppender struct {
	service *Service
}

func (a *journalAppender) AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error) {
	// Commit and dispatch under one per-account lock: once a version is in
	// the journal its dispatch happens before any later version's, so the
	// pipeline shards see journal order.
	lock := a.service.streamLock(evt.AccountID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := a.service.events.AppendEvent(ctx, evt, expectedVersion)
	if err != nil {
		return event.Event{}, err
	}
	a.service.afterAppend(ctx, stored)
	return stored, nil
}

// afterAppend keeps the derived views in step with the journal. Projection
// dispatch failures are logged; the append already committed.
func (s *Service) afterAppend(ctx context.Context, stored event.Event) {
	s.invalidateFor(stored)
	if err := s.pipeline.Dispatch(ctx, stored); err != nil {
		log.Printf("ledger projection dispatch account=%s version=%d: %v",
			stored.AccountID, stored.Version, err)
	}
}

func (s *Service) invalidateFor(stored event.Event) {
	holder := ""
	if stored.Type == event.TypeAccountOpened {
		if payload, err := s.eventRegistry.DecodePayload(stored); err == nil {
			if opened, ok := payload.(*event.AccountOpenedPayload); ok {
				holder = opened.HolderName
			}
		}
	}
	s.caches.InvalidateAccount(stored.AccountID, holder)
}

// WriteResult is the outcome of an accepted command: the appended events
// with assigned versions, and the state after folding them.
type WriteResult struct {
	Events []event.Event
	State  account.State
}

// OpenAccountParams describes a new account request.
type OpenAccountParams struct {
	HolderName     string
	Currency       string
	OverdraftLimit string
	Metadata       event.Metadata
}

// OpenAccount opens a new account and returns its generated id alongside
// the write result.
func (s *Service) OpenAccount(ctx context.Context, params OpenAccountParams) (string, WriteResult, error) {
	accountID := id.MustNewID()
	limit := params.OverdraftLimit
	if limit == "" {
		limit = "0"
	}
	result, err := s.execute(ctx, "ledger.open_account", command.Command{
		AccountID: accountID,
		Type:      command.TypeOpen,
		Metadata:  params.Metadata,
	}, command.OpenPayload{
		HolderName:     params.HolderName,
		Currency:       params.Currency,
		OverdraftLimit: limit,
		NumberSeed:     s.seed(),
	})
	if err != nil {
		return "", WriteResult{}, err
	}
	return accountID, result, nil
}

// Deposit credits the account.
func (s *Service) Deposit(ctx context.Context, accountID, amount, currency string, meta event.Metadata) (WriteResult, error) {
	return s.execute(ctx, "ledger.deposit", command.Command{
		AccountID: accountID,
		Type:      command.TypeDeposit,
		Metadata:  meta,
	}, command.AmountPayload{Amount: amount, Currency: currency})
}

// Withdraw debits the account within its overdraft limit.
func (s *Service) Withdraw(ctx context.Context, accountID, amount, currency string, meta event.Metadata) (WriteResult, error) {
	return s.execute(ctx, "ledger.withdraw", command.Command{
		AccountID: accountID,
		Type:      command.TypeWithdraw,
		Metadata:  meta,
	}, command.AmountPayload{Amount: amount, Currency: currency})
}

// TransferResult carries both legs of a completed transfer.
type TransferResult struct {
	Out WriteResult
	In  WriteResult
}

// Transfer moves money between two accounts as two journal entries: the
// debit leg on the source stream, then the credit leg on the destination
// stream, linked by causation metadata. The debit leg carries every check;
// a credit leg that still fails leaves the journal imbalanced and is
// surfaced as an error for the operator to reconcile.
func (s *Service) Transfer(ctx context.Context, fromID, toID, amount, currency, description string, meta event.Metadata) (TransferResult, error) {
	out, err := s.execute(ctx, "ledger.transfer_out", command.Command{
		AccountID: fromID,
		Type:      command.TypeTransferOut,
		Metadata:  meta,
	}, command.TransferOutPayload{
		ToAccountID: toID,
		Amount:      amount,
		Currency:    currency,
		Description: description,
	})
	if err != nil {
		return TransferResult{}, err
	}

	creditMeta := meta
	if creditMeta.CausationID == "" && len(out.Events) > 0 {
		creditMeta.CausationID = fmt.Sprintf("%s@%d", fromID, out.Events[0].Version)
	}
	in, err := s.execute(ctx, "ledger.receive_transfer", command.Command{
		AccountID: toID,
		Type:      command.TypeReceiveTransfer,
		Metadata:  creditMeta,
	}, command.ReceiveTransferPayload{
		FromAccountID: fromID,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
	})
	if err != nil {
		log.Printf("ledger transfer credit leg from=%s to=%s amount=%s: %v", fromID, toID, amount, err)
		return TransferResult{Out: out}, apperrors.Wrap(apperrors.CodeUnknown,
			"transfer debited but credit leg failed", err)
	}
	return TransferResult{Out: out, In: in}, nil
}

// Freeze blocks transactions on the account.
func (s *Service) Freeze(ctx context.Context, accountID, reason string, meta event.Metadata) (WriteResult, error) {
	return s.statusChange(ctx, "ledger.freeze", command.TypeFreeze, accountID, reason, meta)
}

// CloseAccount closes the account permanently.
func (s *Service) CloseAccount(ctx context.Context, accountID, reason string, meta event.Metadata) (WriteResult, error) {
	return s.statusChange(ctx, "ledger.close_account", command.TypeClose, accountID, reason, meta)
}

// MarkDormant marks an inactive account dormant.
func (s *Service) MarkDormant(ctx context.Context, accountID string, meta event.Metadata) (WriteResult, error) {
	return s.statusChange(ctx, "ledger.mark_dormant", command.TypeMarkDormant, accountID, "", meta)
}

// Reactivate returns a frozen or dormant account to active.
func (s *Service) Reactivate(ctx context.Context, accountID string, meta event.Metadata) (WriteResult, error) {
	return s.statusChange(ctx, "ledger.reactivate", command.TypeReactivate, accountID, "", meta)
}

func (s *Service) statusChange(ctx context.Context, span string, cmdType command.Type, accountID, reason string, meta event.Metadata) (WriteResult, error) {
	return s.execute(ctx, span, command.Command{
		AccountID: accountID,
		Type:      cmdType,
		Metadata:  meta,
	}, command.ReasonPayload{Reason: reason})
}

// execute runs one command through the engine and converts rejections into
// coded errors.
func (s *Service) execute(ctx context.Context, spanName string, cmd command.Command, payload any) (WriteResult, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	data, err := command.MarshalPayload(payload)
	if err != nil {
		return WriteResult{}, err
	}
	cmd.PayloadJSON = data
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = s.now().UTC()
	}

	result, err := s.handler.Execute(ctx, cmd)
	if err != nil {
		return WriteResult{}, err
	}
	if !result.Decision.Accepted() {
		rejection := result.Decision.Rejections[0]
		return WriteResult{}, apperrors.WithMetadata(apperrors.Code(rejection.Code), rejection.Message,
			map[string]string{"account_id": cmd.AccountID, "command": string(cmd.Type)})
	}
	return WriteResult{Events: result.Decision.Events, State: result.State}, nil
}

// SubmitEvent queues one pre-built event for batched append. The result,
// including projection-visible assigned versions, arrives via onResult from
// a worker goroutine.
func (s *Service) SubmitEvent(ctx context.Context, evt event.Event, expectedVersion uint64, onResult func(batch.Result)) error {
	validated, err := s.eventRegistry.ValidateForAppend(evt)
	if err != nil {
		return err
	}
	return s.processor.Submit(ctx, batch.Submission{
		Event:           validated,
		ExpectedVersion: expectedVersion,
		OnResult:        onResult,
	})
}

// FlushEvents forces the accumulating batch out immediately.
func (s *Service) FlushEvents(ctx context.Context) error {
	return s.processor.Flush(ctx)
}

// WaitForEvents blocks until every submitted event has completed, then
// waits for the projection pipeline to catch up.
func (s *Service) WaitForEvents(ctx context.Context, timeout time.Duration) error {
	if err := s.processor.WaitForCompletion(ctx, timeout); err != nil {
		return err
	}
	return s.pipeline.WaitForIdle(ctx, timeouts.ProjectionDrain)
}
