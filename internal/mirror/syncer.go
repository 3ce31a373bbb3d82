package mirror

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsboard/flowmirror/internal/logger"
	"github.com/opsboard/flowmirror/internal/store"
)

const (
	// DefaultInitialDelay is how long Run waits before the first cycle.
	DefaultInitialDelay = 1 * time.Second
	// DefaultInterval is the fixed wait between cycles, measured from the
	// end of one cycle to the start of the next; cycles never overlap.
	DefaultInterval = 15 * time.Second
)

// CycleCounts is the per-cycle summary handed to the notifier: records
// processed (not necessarily changed) for each entity type.
type CycleCounts struct {
	Workflows  int `json:"workflows"`
	Executions int `json:"executions"`
}

// SyncEvent is the payload broadcast to realtime subscribers after every
// cycle.
type SyncEvent struct {
	Type      string      `json:"type"`
	Counts    CycleCounts `json:"counts"`
	Timestamp string      `json:"timestamp"`
}

// Notifier fans a cycle summary out to whoever is listening. Delivery is
// best-effort; the syncer never learns about individual subscribers.
type Notifier interface {
	Broadcast(ctx context.Context, event any)
}

// SourceLister yields the sources to poll this cycle.
type SourceLister interface {
	ListActiveSources(ctx context.Context) []Source
}

// Syncer drives the fetch -> normalize -> reconcile -> notify cycle.
type Syncer struct {
	sources      SourceLister
	fetcher      Fetcher
	reconciler   *Reconciler
	notifier     Notifier
	initialDelay time.Duration
	interval     time.Duration
	now          func() time.Time
}

type SyncerOptions struct {
	Sources      SourceLister
	Fetcher      Fetcher
	Reconciler   *Reconciler
	Notifier     Notifier
	InitialDelay time.Duration
	Interval     time.Duration
}

func NewSyncer(opts SyncerOptions) *Syncer {
	s := &Syncer{
		sources:      opts.Sources,
		fetcher:      opts.Fetcher,
		reconciler:   opts.Reconciler,
		notifier:     opts.Notifier,
		initialDelay: opts.InitialDelay,
		interval:     opts.Interval,
		now:          time.Now,
	}
	if s.initialDelay <= 0 {
		s.initialDelay = DefaultInitialDelay
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	return s
}

// Run loops until ctx is cancelled. No cycle failure terminates the loop:
// errors are logged at their swallow point and the next tick proceeds.
func (s *Syncer) Run(ctx context.Context) {
	if !sleepContext(ctx, s.initialDelay) {
		return
	}
	for {
		s.runCycle(ctx)
		if !sleepContext(ctx, s.interval) {
			return
		}
	}
}

func (s *Syncer) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync cycle panicked", zap.Any("panic", r))
		}
	}()
	counts := s.SyncOnce(ctx)
	if s.notifier != nil {
		s.notifier.Broadcast(ctx, SyncEvent{
			Type:      "n8n_sync",
			Counts:    counts,
			Timestamp: s.now().UTC().Format(time.RFC3339),
		})
	}
}

// SyncOnce performs one full cycle: workflows for every source, reconcile,
// then executions for every source, reconcile. A source that fails to fetch
// contributes an empty set for this cycle and the cycle carries on.
func (s *Syncer) SyncOnce(ctx context.Context) CycleCounts {
	sources := s.sources.ListActiveSources(ctx)

	workflows := s.collectWorkflows(ctx, sources)
	if result, err := s.reconciler.ReconcileWorkflows(ctx, workflows); err != nil {
		logger.Error("workflow reconciliation failed", zap.Error(err))
	} else if result.Deleted > 0 {
		logger.Info("evicted stale workflows", zap.Int("count", result.Deleted))
	}

	executions := s.collectExecutions(ctx, sources)
	if result, err := s.reconciler.ReconcileExecutions(ctx, executions); err != nil {
		logger.Error("execution reconciliation failed", zap.Error(err))
	} else if result.Deleted > 0 {
		logger.Info("evicted stale executions", zap.Int("count", result.Deleted))
	}

	return CycleCounts{Workflows: len(workflows), Executions: len(executions)}
}

func (s *Syncer) collectWorkflows(ctx context.Context, sources []Source) []store.Workflow {
	var all []store.Workflow
	now := s.now().UTC()
	for _, src := range sources {
		payload, err := s.fetchWithTimeout(ctx, src, s.fetcher.FetchWorkflows)
		if err != nil {
			logger.Warn("workflow fetch failed",
				zap.String("source", src.Prefix), zap.Error(err))
			continue
		}
		all = append(all, NormalizeWorkflows(payload, src.Prefix, now)...)
	}
	return all
}

func (s *Syncer) collectExecutions(ctx context.Context, sources []Source) []store.Execution {
	var all []store.Execution
	for _, src := range sources {
		payload, err := s.fetchWithTimeout(ctx, src, s.fetcher.FetchExecutions)
		if err != nil {
			logger.Warn("execution fetch failed",
				zap.String("source", src.Prefix), zap.Error(err))
			continue
		}
		all = append(all, NormalizeExecutions(payload, src.Prefix)...)
	}
	return all
}

func (s *Syncer) fetchWithTimeout(ctx context.Context, src Source, fetch func(context.Context, Source) (any, error)) (any, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()
	return fetch(fetchCtx, src)
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
