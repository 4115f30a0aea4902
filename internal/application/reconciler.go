package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// reconcileBatchSize bounds the open aggregates examined per cycle.
const reconcileBatchSize = 100

// syncRequest represents a manual sync trigger.
type syncRequest struct {
	key  driven.PRCheckKey
	done chan error
}

// ReconcileService periodically syncs open aggregates that have not seen an
// update for a while, recovering from lost webhook deliveries. Young
// aggregates are synced more often than old ones.
type ReconcileService struct {
	aggregator *CheckAggregator
	ledger     driven.RunLedger
	interval   time.Duration
	staleAfter time.Duration
	syncCh     chan syncRequest
	now        func() time.Time
	logger     *slog.Logger

	mu        sync.Mutex
	schedules map[int64]*checkSchedule
}

// NewReconcileService creates a ReconcileService. interval is the cycle
// period; staleAfter is how long an aggregate must be idle before it is
// synced automatically.
func NewReconcileService(
	aggregator *CheckAggregator,
	ledger driven.RunLedger,
	interval time.Duration,
	staleAfter time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		aggregator: aggregator,
		ledger:     ledger,
		interval:   interval,
		staleAfter: staleAfter,
		syncCh:     make(chan syncRequest),
		now:        time.Now,
		logger:     logger.With("component", "reconciler"),
		schedules:  make(map[int64]*checkSchedule),
	}
}

// Start runs reconcile cycles on the configured interval and serves manual
// sync requests. Start blocks until the context is canceled.
func (s *ReconcileService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			s.reconcileAll(ctx)
		case req := <-s.syncCh:
			req.done <- s.aggregator.SyncPRCheckStatus(ctx, req.key.RepoFullName, req.key.PRCheckID)
		}
	}
}

// SyncNow syncs one aggregate immediately. It blocks until the sync completes
// or the context is canceled.
func (s *ReconcileService) SyncNow(ctx context.Context, repoFullName string, prCheckID int64) error {
	done := make(chan error, 1)
	req := syncRequest{
		key:  driven.PRCheckKey{RepoFullName: repoFullName, PRCheckID: prCheckID},
		done: done,
	}

	select {
	case s.syncCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSchedule returns the reconcile schedule of an aggregate, if tracked.
func (s *ReconcileService) GetSchedule(prCheckID int64) (ScheduleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[prCheckID]
	if !ok {
		return ScheduleInfo{}, false
	}
	return ScheduleInfo{Tier: sched.tier, NextSyncAt: sched.nextSyncAt, LastSynced: sched.lastSynced}, true
}

// reconcileAll syncs every idle open aggregate whose schedule is due.
func (s *ReconcileService) reconcileAll(ctx context.Context) {
	start := s.now()

	open, err := s.ledger.ListOpenPRChecks(ctx, start.Add(-staleAge), start.Add(-s.staleAfter), reconcileBatchSize)
	if err != nil {
		s.logger.Error("list open pr checks failed", "error", err)
		return
	}

	var synced, skipped, syncErrors int
	seen := make(map[int64]bool, len(open))
	for _, oc := range open {
		if ctx.Err() != nil {
			return
		}
		seen[oc.PRCheckID] = true

		if !s.due(oc, start) {
			skipped++
			continue
		}
		if err := s.aggregator.SyncPRCheckStatus(ctx, oc.RepoFullName, oc.PRCheckID); err != nil {
			s.logger.Error("reconcile sync failed", "repo", oc.RepoFullName, "pr_check_id", oc.PRCheckID, "error", err)
			syncErrors++
		}
		synced++
	}

	s.prune(seen)

	s.logger.Info("reconcile cycle complete",
		"open", len(open),
		"synced", synced,
		"skipped", skipped,
		"errors", syncErrors,
		"duration", s.now().Sub(start).Round(time.Millisecond),
	)
}

// due reports whether an aggregate should be synced now and advances its
// schedule when it is.
func (s *ReconcileService) due(oc driven.OpenPRCheck, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tier := classifyActivity(oc.CreatedAt, now)
	sched, ok := s.schedules[oc.PRCheckID]
	if !ok {
		sched = &checkSchedule{}
		s.schedules[oc.PRCheckID] = sched
	}
	sched.tier = tier

	interval := tierInterval(tier)
	if interval == 0 || now.Before(sched.nextSyncAt) {
		return false
	}

	sched.lastSynced = now
	sched.nextSyncAt = now.Add(interval)
	return true
}

// prune forgets aggregates that are no longer open.
func (s *ReconcileService) prune(open map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.schedules {
		if !open[id] {
			delete(s.schedules, id)
		}
	}
}
