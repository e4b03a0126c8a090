// Package memory provides an in-memory implementation of the storage
// interfaces for tests and ephemeral deployments. Semantics mirror the
// SQLite store, including optimistic concurrency on append.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/domain/event"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

// Store keeps journal, snapshots, and read models in process memory.
type Store struct {
	registry *event.Registry

	mu           sync.RWMutex
	streams      map[string]*stream
	snapshots    map[string][]storage.Snapshot
	summaries    map[string]storage.AccountSummaryRecord
	transactions map[string][]storage.TransactionRecord
}

type stream struct {
	mu     sync.Mutex
	events []event.Event
}

// New returns an empty store validating appends with registry.
func New(registry *event.Registry) *Store {
	if registry == nil {
		registry = event.DefaultRegistry()
	}
	return &Store{
		registry:     registry,
		streams:      make(map[string]*stream),
		snapshots:    make(map[string][]storage.Snapshot),
		summaries:    make(map[string]storage.AccountSummaryRecord),
		transactions: make(map[string][]storage.TransactionRecord),
	}
}

func (s *Store) stream(accountID string) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[accountID]
	if !ok {
		st = &stream{}
		s.streams[accountID] = st
	}
	return st
}

// AppendEvent persists evt at expectedVersion+1. The per-stream mutex makes
// the version check and append one atomic step.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event, expectedVersion uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	normalized, err := s.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = normalized

	st := s.stream(evt.AccountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return appendLocked(st, evt, expectedVersion)
}

// BatchAppendEvents persists events contiguously from expectedVersion+1;
// all or none are written.
func (s *Store) BatchAppendEvents(ctx context.Context, accountID string, events []event.Event, expectedVersion uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	validated := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if evt.AccountID != accountID {
			return nil, apperrors.WithMetadata(apperrors.CodeAccountIDRequired,
				"batch events must share one account stream",
				map[string]string{"account_id": accountID})
		}
		normalized, err := s.registry.ValidateForAppend(evt)
		if err != nil {
			return nil, err
		}
		validated = append(validated, normalized)
	}

	st := s.stream(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if uint64(len(st.events)) != expectedVersion {
		return nil, versionConflict(accountID, expectedVersion, uint64(len(st.events)))
	}
	stored := make([]event.Event, 0, len(validated))
	version := expectedVersion
	for _, evt := range validated {
		appended, err := appendLocked(st, evt, version)
		if err != nil {
			return nil, err
		}
		stored = append(stored, appended)
		version = appended.Version
	}
	return stored, nil
}

func appendLocked(st *stream, evt event.Event, expectedVersion uint64) (event.Event, error) {
	if uint64(len(st.events)) != expectedVersion {
		return event.Event{}, versionConflict(evt.AccountID, expectedVersion, uint64(len(st.events)))
	}
	evt.Version = expectedVersion + 1
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
	st.events = append(st.events, evt)
	return evt, nil
}

func versionConflict(accountID string, expected, actual uint64) error {
	return apperrors.WithMetadata(apperrors.CodeEventVersionConflict,
		"expected version does not match stream",
		map[string]string{
			"account_id": accountID,
			"expected":   strconv.FormatUint(expected, 10),
			"actual":     strconv.FormatUint(actual, 10),
		})
}

// LoadStream returns every event for the account in version order.
func (s *Store) LoadStream(ctx context.Context, accountID string) ([]event.Event, error) {
	return s.ListEvents(ctx, accountID, 0, -1)
}

// ListEvents returns up to limit events with versions above afterVersion.
func (s *Store) ListEvents(ctx context.Context, accountID string, afterVersion uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := s.stream(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []event.Event
	for _, evt := range st.events {
		if evt.Version > afterVersion {
			out = append(out, evt)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListEventsPage returns an offset page of the stream.
func (s *Store) ListEventsPage(ctx context.Context, accountID string, offset, limit int) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}

	st := s.stream(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()

	total := len(st.events)
	if offset >= total {
		return storage.EventPage{TotalCount: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]event.Event, end-offset)
	copy(page, st.events[offset:end])
	return storage.EventPage{
		Events:     page,
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

// CountEvents returns the stream length.
func (s *Store) CountEvents(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st := s.stream(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return int64(len(st.events)), nil
}

// LatestVersion returns the stream's current version.
func (s *Store) LatestVersion(ctx context.Context, accountID string) (uint64, error) {
	count, err := s.CountEvents(ctx, accountID)
	return uint64(count), err
}

// ListAccountIDs returns every account id with at least one event.
func (s *Store) ListAccountIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, st := range s.streams {
		st.mu.Lock()
		populated := len(st.events) > 0
		st.mu.Unlock()
		if populated {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// PutSnapshot persists a snapshot; rewrites of an existing version are
// no-ops, matching the SQLite store.
func (s *Store) PutSnapshot(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.AccountID == "" || snapshot.Version == 0 {
		return apperrors.New(apperrors.CodeUnknown, "snapshot account id and version are required")
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.snapshots[snapshot.AccountID]
	for _, existing := range history {
		if existing.Version == snapshot.Version {
			return nil
		}
	}
	history = append(history, snapshot)
	sort.Slice(history, func(i, j int) bool { return history[i].Version < history[j].Version })
	s.snapshots[snapshot.AccountID] = history
	return nil
}

// GetLatestSnapshot returns the highest-version snapshot for the account.
func (s *Store) GetLatestSnapshot(ctx context.Context, accountID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[accountID]
	if len(history) == 0 {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return history[len(history)-1], nil
}

// ListSnapshots returns snapshots newest first, up to limit.
func (s *Store) ListSnapshots(ctx context.Context, accountID string, limit int) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[accountID]
	var out []storage.Snapshot
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

// PutAccountSummary upserts the per-account summary read model.
func (s *Store) PutAccountSummary(ctx context.Context, summary storage.AccountSummaryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary.AccountID == "" {
		return apperrors.New(apperrors.CodeAccountIDRequired, "summary account id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.AccountID] = summary
	return nil
}

// GetAccountSummary returns the summary read model for one account.
func (s *Store) GetAccountSummary(ctx context.Context, accountID string) (storage.AccountSummaryRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AccountSummaryRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[accountID]
	if !ok {
		return storage.AccountSummaryRecord{}, storage.ErrNotFound
	}
	return summary, nil
}

// ListAccountSummaries returns an offset page of summaries with optional
// holder and status filters, ordered by account id.
func (s *Store) ListAccountSummaries(ctx context.Context, query storage.SummaryQuery) (storage.SummaryPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.SummaryPage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []storage.AccountSummaryRecord
	for _, summary := range s.summaries {
		if query.HolderName != "" && summary.HolderName != query.HolderName {
			continue
		}
		if query.Status != "" && summary.Status != query.Status {
			continue
		}
		matched = append(matched, summary)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].AccountID < matched[j].AccountID })

	offset, limit := clampPage(query.Offset, query.Limit)
	total := len(matched)
	if offset >= total {
		return storage.SummaryPage{TotalCount: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return storage.SummaryPage{
		Summaries:  matched[offset:end],
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

// ListAccountIDsByHolder returns ids of accounts held by an exact holder
// name match.
func (s *Store) ListAccountIDsByHolder(ctx context.Context, holderName string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, summary := range s.summaries {
		if summary.HolderName == holderName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendTransaction records one history entry, idempotent per (account id,
// event version).
func (s *Store) AppendTransaction(ctx context.Context, record storage.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" || record.AccountID == "" {
		return apperrors.New(apperrors.CodeUnknown, "transaction id and account id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transactions[record.AccountID] {
		if existing.EventVersion == record.EventVersion {
			return nil
		}
	}
	s.transactions[record.AccountID] = append(s.transactions[record.AccountID], record)
	return nil
}

// ListTransactions returns an offset page of history, newest first, with
// optional kind and since filters.
func (s *Store) ListTransactions(ctx context.Context, query storage.TransactionQuery) (storage.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.TransactionPage{}, err
	}
	if query.AccountID == "" {
		return storage.TransactionPage{}, apperrors.New(apperrors.CodeAccountIDRequired, "transaction query account id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []storage.TransactionRecord
	for _, record := range s.transactions[query.AccountID] {
		if query.Kind != "" && record.Kind != query.Kind {
			continue
		}
		if query.Since != nil && record.OccurredAt.Before(*query.Since) {
			continue
		}
		matched = append(matched, record)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].EventVersion > matched[j].EventVersion
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	offset, limit := clampPage(query.Offset, query.Limit)
	total := len(matched)
	if offset >= total {
		return storage.TransactionPage{TotalCount: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return storage.TransactionPage{
		Transactions: matched[offset:end],
		TotalCount:   total,
		HasMore:      end < total,
	}, nil
}

// Reset clears all read models ahead of a rebuild.
func (s *Store) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = make(map[string]storage.AccountSummaryRecord)
	s.transactions = make(map[string][]storage.TransactionRecord)
	return nil
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return offset, limit
}
