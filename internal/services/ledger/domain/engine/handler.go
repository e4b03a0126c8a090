// Package engine executes commands against the journal: load state, decide,
// append the accepted events, fold them back, and snapshot on cadence.
package engine

import (
	"context"
	"log"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/command"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

// EventAppender persists validated events with optimistic concurrency.
type EventAppender interface {
	AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error)
}

// StateLoader rehydrates account state for decision making.
type StateLoader interface {
	Load(ctx context.Context, accountID string) (account.State, error)
}

// Folder applies one event to state.
type Folder func(state account.State, evt event.Event) account.State

// Result is the outcome of executing one command.
type Result struct {
	// Decision carries the appended events (with assigned versions) or the
	// rejections. Rejections are a business outcome, not an error.
	Decision command.Decision
	// State is the post-append state; on rejection, the loaded state.
	State account.State
}

// Handler wires the command path. All fields except Snapshots are required.
type Handler struct {
	Commands *command.Registry
	Events   *event.Registry
	Journal  EventAppender
	Loader   StateLoader
	Fold     Folder

	// Snapshots, when set, receives a snapshot every SnapshotInterval
	// versions. Snapshot failures are logged and never fail the command.
	Snapshots        storage.SnapshotStore
	SnapshotInterval uint64

	// Now supplies the decision clock; defaults to time.Now.
	Now func() time.Time
}

// Execute runs one command through validate, load, decide, append, fold.
// A version conflict from the journal surfaces as ErrVersionConflict so the
// caller can reload and retry.
func (h *Handler) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if h.Commands == nil || h.Events == nil || h.Journal == nil || h.Loader == nil {
		return Result{}, apperrors.New(apperrors.CodeUnknown, "handler is not fully wired")
	}

	cmd, err := h.Commands.ValidateForDecision(cmd)
	if err != nil {
		return Result{}, err
	}

	state, err := h.Loader.Load(ctx, cmd.AccountID)
	if err != nil {
		return Result{}, err
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	decision := account.Decide(state, cmd, now().UTC())
	if !decision.Accepted() {
		return Result{Decision: decision, State: state}, nil
	}

	fold := h.Fold
	if fold == nil {
		fold = account.Fold
	}

	appended := make([]event.Event, 0, len(decision.Events))
	for _, evt := range decision.Events {
		validated, err := h.Events.ValidateForAppend(evt)
		if err != nil {
			return Result{State: state}, err
		}
		stored, err := h.Journal.AppendEvent(ctx, validated, state.Version)
		if err != nil {
			return Result{State: state}, err
		}
		appended = append(appended, stored)
		state = fold(state, stored)
	}

	h.maybeSnapshot(ctx, state)

	return Result{Decision: command.Accept(appended...), State: state}, nil
}

func (h *Handler) maybeSnapshot(ctx context.Context, state account.State) {
	if h.Snapshots == nil || h.SnapshotInterval == 0 {
		return
	}
	if state.Version == 0 || state.Version%h.SnapshotInterval != 0 {
		return
	}
	snapshot := SnapshotFromState(state)
	if h.Now != nil {
		snapshot.CreatedAt = h.Now().UTC()
	}
	if err := h.Snapshots.PutSnapshot(ctx, snapshot); err != nil {
		log.Printf("ledger snapshot account=%s version=%d: %v", state.AccountID, state.Version, err)
	}
}
