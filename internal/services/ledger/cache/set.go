package cache

import (
	"context"
	"log"
	"time"

	"github.com/finvault/ledger/internal/services/ledger/domain/money"
	"github.com/finvault/ledger/internal/services/ledger/storage"
)

// Cache kind names, used in stats output.
const (
	KindSummary          = "account_summary"
	KindBalance          = "balance"
	KindAccountsByHolder = "accounts_by_holder"
	KindEventCount       = "event_count"
)

// Options tunes all caches in a Set.
type Options struct {
	// MaxEntries bounds each cache individually.
	MaxEntries int
	TTL        time.Duration
}

// Set bundles the four read-through caches the service keeps: account
// summaries by account id, balances by account id, account id lists by
// holder name, and event counts by account id.
type Set struct {
	Summaries        *Cache[string, storage.AccountSummaryRecord]
	Balances         *Cache[string, money.Money]
	AccountsByHolder *Cache[string, []string]
	EventCounts      *Cache[string, int64]
}

// NewSet builds the four caches with shared options.
func NewSet(opts Options) *Set {
	return &Set{
		Summaries:        New[string, storage.AccountSummaryRecord](KindSummary, opts.MaxEntries, opts.TTL),
		Balances:         New[string, money.Money](KindBalance, opts.MaxEntries, opts.TTL),
		AccountsByHolder: New[string, []string](KindAccountsByHolder, opts.MaxEntries, opts.TTL),
		EventCounts:      New[string, int64](KindEventCount, opts.MaxEntries, opts.TTL),
	}
}

// InvalidateAccount drops every cached view touched by a write to the
// account. The holder index is invalidated by holder name when known.
func (s *Set) InvalidateAccount(accountID, holderName string) {
	s.Summaries.Invalidate(accountID)
	s.Balances.Invalidate(accountID)
	s.EventCounts.Invalidate(accountID)
	if holderName != "" {
		s.AccountsByHolder.Invalidate(holderName)
	}
}

// InvalidateAll empties every cache.
func (s *Set) InvalidateAll() {
	s.Summaries.InvalidateAll()
	s.Balances.InvalidateAll()
	s.AccountsByHolder.InvalidateAll()
	s.EventCounts.InvalidateAll()
}

// Stats returns per-cache snapshots in a stable order.
func (s *Set) Stats() []Stats {
	return []Stats{
		s.Summaries.Stats(),
		s.Balances.Stats(),
		s.AccountsByHolder.Stats(),
		s.EventCounts.Stats(),
	}
}

// HitRate returns the aggregate hit rate across all caches, 0.0 when no
// requests were observed.
func (s *Set) HitRate() float64 {
	var hits, requests uint64
	for _, stats := range s.Stats() {
		hits += stats.Hits
		requests += stats.Requests()
	}
	if requests == 0 {
		return 0.0
	}
	return float64(hits) / float64(requests)
}

// Sweep removes expired entries from every cache and returns the total
// dropped.
func (s *Set) Sweep() int {
	return s.Summaries.Sweep() +
		s.Balances.Sweep() +
		s.AccountsByHolder.Sweep() +
		s.EventCounts.Sweep()
}

// RunSweeper sweeps on an interval until the context is done. Run it in its
// own goroutine.
func (s *Set) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				log.Printf("ledger cache sweep removed=%d", removed)
			}
		}
	}
}
