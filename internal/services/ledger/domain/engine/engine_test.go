package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/command"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

type fakeJournal struct {
	mu      sync.Mutex
	streams map[string][]event.Event
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{streams: make(map[string][]event.Event)}
}

func (j *fakeJournal) AppendEvent(_ context.Context, evt event.Event, expectedVersion uint64) (event.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	stream := j.streams[evt.AccountID]
	if uint64(len(stream)) != expectedVersion {
		return event.Event{}, storage.ErrVersionConflict
	}
	evt.Version = expectedVersion + 1
	j.streams[evt.AccountID] = append(stream, evt)
	return evt, nil
}

func (j *fakeJournal) ListEvents(_ context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []event.Event
	for _, evt := range j.streams[accountID] {
		if evt.Version > afterVersion {
			out = append(out, evt)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeSnapshots struct {
	mu        sync.Mutex
	snapshots map[string][]storage.Snapshot
	putErr    error
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{snapshots: make(map[string][]storage.Snapshot)}
}

func (s *fakeSnapshots) PutSnapshot(_ context.Context, snapshot storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.snapshots[snapshot.AccountID] = append(s.snapshots[snapshot.AccountID], snapshot)
	return nil
}

func (s *fakeSnapshots) GetLatestSnapshot(_ context.Context, accountID string) (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.snapshots[accountID]
	if len(history) == 0 {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *fakeSnapshots) ListSnapshots(_ context.Context, accountID string, limit int) ([]storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.snapshots[accountID]
	var out []storage.Snapshot
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func newHandler(journal *fakeJournal, snapshots *fakeSnapshots, interval uint64) *Handler {
	return &Handler{
		Commands:         command.DefaultRegistry(),
		Events:           event.DefaultRegistry(),
		Journal:          journal,
		Loader:           &ReplayStateLoader{Events: journal, Snapshots: snapshots},
		Snapshots:        snapshots,
		SnapshotInterval: interval,
		Now:              func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
	}
}

func makeCommand(t *testing.T, accountID string, cmdType command.Type, payload any) command.Command {
	t.Helper()
	data, err := command.MarshalPayload(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return command.Command{AccountID: accountID, Type: cmdType, PayloadJSON: data}
}

func mustExecute(t *testing.T, h *Handler, cmd command.Command) Result {
	t.Helper()
	result, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("execute %s: %v", cmd.Type, err)
	}
	if !result.Decision.Accepted() {
		t.Fatalf("command %s rejected: %+v", cmd.Type, result.Decision.Rejections)
	}
	return result
}

func TestExecuteAppendsAndFolds(t *testing.T) {
	journal := newFakeJournal()
	h := newHandler(journal, newFakeSnapshots(), 0)

	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeOpen, command.OpenPayload{
		HolderName: "john doe", Currency: "USD", OverdraftLimit: "100.00", NumberSeed: 42,
	}))
	result := mustExecute(t, h, makeCommand(t, "acc-1", command.TypeDeposit, command.AmountPayload{Amount: "200.00", Currency: "USD"}))

	if result.State.Version != 2 {
		t.Fatalf("version = %d, want 2", result.State.Version)
	}
	if !result.State.Balance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("balance = %s", result.State.Balance)
	}
	if got := result.Decision.Events[0].Version; got != 2 {
		t.Fatalf("appended event version = %d, want 2", got)
	}
	if len(journal.streams["acc-1"]) != 2 {
		t.Fatalf("journal length = %d", len(journal.streams["acc-1"]))
	}
}

func TestExecuteReturnsRejectionWithoutAppending(t *testing.T) {
	journal := newFakeJournal()
	h := newHandler(journal, newFakeSnapshots(), 0)

	result, err := h.Execute(context.Background(), makeCommand(t, "acc-1", command.TypeDeposit,
		command.AmountPayload{Amount: "1.00", Currency: "USD"}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Decision.Accepted() {
		t.Fatal("expected rejection for unopened account")
	}
	if got := result.Decision.Rejections[0].Code; got != string(apperrors.CodeAccountNotOpened) {
		t.Fatalf("code = %s", got)
	}
	if len(journal.streams["acc-1"]) != 0 {
		t.Fatal("rejection must not append events")
	}
}

func TestExecuteSurfacesVersionConflict(t *testing.T) {
	journal := newFakeJournal()
	h := newHandler(journal, newFakeSnapshots(), 0)
	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeOpen, command.OpenPayload{
		HolderName: "john doe", Currency: "USD", NumberSeed: 1,
	}))

	// A loader pinned to a stale version makes the next append conflict.
	stale := h.Loader
	h.Loader = staleLoader{}
	defer func() { h.Loader = stale }()

	_, err := h.Execute(context.Background(), makeCommand(t, "acc-1", command.TypeFreeze, command.ReasonPayload{}))
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

type staleLoader struct{}

func (staleLoader) Load(context.Context, string) (account.State, error) {
	return account.State{
		Opened: true, AccountID: "acc-1", Currency: "USD",
		Status: account.StatusActive, Version: 0,
	}, nil
}

func TestExecuteSnapshotsOnCadence(t *testing.T) {
	journal := newFakeJournal()
	snapshots := newFakeSnapshots()
	h := newHandler(journal, snapshots, 2)

	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeOpen, command.OpenPayload{
		HolderName: "john doe", Currency: "USD", NumberSeed: 42,
	}))
	if len(snapshots.snapshots["acc-1"]) != 0 {
		t.Fatal("no snapshot expected at version 1")
	}

	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeDeposit, command.AmountPayload{Amount: "10.00", Currency: "USD"}))
	history := snapshots.snapshots["acc-1"]
	if len(history) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(history))
	}
	if history[0].Version != 2 || history[0].Status != string(account.StatusActive) {
		t.Fatalf("unexpected snapshot %+v", history[0])
	}

	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeDeposit, command.AmountPayload{Amount: "5.00", Currency: "USD"}))
	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeDeposit, command.AmountPayload{Amount: "5.00", Currency: "USD"}))
	if got := len(snapshots.snapshots["acc-1"]); got != 2 {
		t.Fatalf("snapshots = %d, want 2", got)
	}
}

func TestExecuteToleratesSnapshotFailure(t *testing.T) {
	journal := newFakeJournal()
	snapshots := newFakeSnapshots()
	snapshots.putErr = errors.New("disk full")
	h := newHandler(journal, snapshots, 1)

	result := mustExecute(t, h, makeCommand(t, "acc-1", command.TypeOpen, command.OpenPayload{
		HolderName: "john doe", Currency: "USD", NumberSeed: 42,
	}))
	if result.State.Version != 1 {
		t.Fatalf("version = %d", result.State.Version)
	}
}

func TestLoaderSeedsFromSnapshot(t *testing.T) {
	journal := newFakeJournal()
	snapshots := newFakeSnapshots()
	h := newHandler(journal, snapshots, 0)

	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeOpen, command.OpenPayload{
		HolderName: "john doe", Currency: "USD", OverdraftLimit: "100.00", NumberSeed: 42,
	}))
	result := mustExecute(t, h, makeCommand(t, "acc-1", command.TypeDeposit, command.AmountPayload{Amount: "50.00", Currency: "USD"}))

	if err := snapshots.PutSnapshot(context.Background(), SnapshotFromState(result.State)); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	mustExecute(t, h, makeCommand(t, "acc-1", command.TypeDeposit, command.AmountPayload{Amount: "25.00", Currency: "USD"}))

	countingJournal := &countingSource{inner: journal}
	loader := &ReplayStateLoader{Events: countingJournal, Snapshots: snapshots}
	state, err := loader.Load(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !state.Balance.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("balance = %s, want 75", state.Balance)
	}
	if state.Version != 3 {
		t.Fatalf("version = %d, want 3", state.Version)
	}
	if countingJournal.listedAfter != 2 {
		t.Fatalf("replay started after version %d, want 2", countingJournal.listedAfter)
	}
}

type countingSource struct {
	inner       *fakeJournal
	listedAfter uint64
	calls       int
}

func (c *countingSource) ListEvents(ctx context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if c.calls == 0 {
		c.listedAfter = afterVersion
	}
	c.calls++
	return c.inner.ListEvents(ctx, accountID, afterVersion, limit)
}
