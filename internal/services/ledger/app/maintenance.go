package app

import (
	"context"
	"log"

	apperrors "github.com/finvault/ledger/internal/platform/errors"
	"github.com/finvault/ledger/internal/services/ledger/batch"
	"github.com/finvault/ledger/internal/services/ledger/cache"
	"github.com/finvault/ledger/internal/services/ledger/domain/account"
	"github.com/finvault/ledger/internal/services/ledger/domain/replay"
	"github.com/finvault/ledger/internal/services/ledger/projection"
)

// RebuildReport summarizes a read model rebuild.
type RebuildReport struct {
	Accounts int
	Events   int
}

// RebuildReadModels clears every read model and reprojects the full
// journal, stream by stream in version order. Read models are derived
// state; the journal stays untouched.
func (s *Service) RebuildReadModels(ctx context.Context) (RebuildReport, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.rebuild_read_models")
	defer span.End()

	if err := s.readModels.Reset(ctx); err != nil {
		return RebuildReport{}, err
	}
	s.caches.InvalidateAll()

	accountIDs, err := s.events.ListAccountIDs(ctx)
	if err != nil {
		return RebuildReport{}, err
	}

	report := RebuildReport{Accounts: len(accountIDs)}
	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		stream, err := s.events.LoadStream(ctx, accountID)
		if err != nil {
			return report, err
		}
		for _, evt := range stream {
			for _, handler := range s.projectors {
				if err := handler.Apply(ctx, evt); err != nil {
					return report, apperrors.Wrap(apperrors.CodeUnknown,
						"rebuild projection failed", err)
				}
			}
			report.Events++
		}
	}
	log.Printf("ledger read models rebuilt accounts=%d events=%d", report.Accounts, report.Events)
	return report, nil
}

// StreamFault is one corrupt stream found during verification.
type StreamFault struct {
	AccountID string
	Detail    string
}

// VerifyReport summarizes an event stream integrity check.
type VerifyReport struct {
	Accounts int
	Events   int
	Faults   []StreamFault
}

// Clean reports whether every stream verified gap-free.
func (r VerifyReport) Clean() bool {
	return len(r.Faults) == 0
}

// VerifyEventStreams replays every account stream checking for version
// gaps. Corrupt streams are reported, not returned as errors; the caller
// decides how loud to be.
func (s *Service) VerifyEventStreams(ctx context.Context) (VerifyReport, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.verify_event_streams")
	defer span.End()

	accountIDs, err := s.events.ListAccountIDs(ctx)
	if err != nil {
		return VerifyReport{}, err
	}

	report := VerifyReport{Accounts: len(accountIDs)}
	for _, accountID := range accountIDs {
		result, err := replay.Replay(ctx, s.events, nil, accountID, account.State{}, replay.Options{})
		switch {
		case err == nil:
			report.Events += result.Applied
		case apperrors.CodeOf(err) == apperrors.CodeEventStreamCorrupt:
			report.Faults = append(report.Faults, StreamFault{AccountID: accountID, Detail: err.Error()})
			log.Printf("ledger stream corrupt account=%s: %v", accountID, err)
		default:
			return report, err
		}
	}
	return report, nil
}

// ServiceStats aggregates the observable counters of the running service.
type ServiceStats struct {
	Batch        batch.Stats
	Pipeline     projection.PipelineStats
	Caches       []cache.Stats
	CacheHitRate float64
}

// Stats returns a point-in-time snapshot of service counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Batch:        s.processor.Stats(),
		Pipeline:     s.pipeline.Stats(),
		Caches:       s.caches.Stats(),
		CacheHitRate: s.caches.HitRate(),
	}
}
