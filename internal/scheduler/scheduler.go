package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/promptchain/internal/metrics"
	"github.com/rendis/promptchain/internal/store"
	"github.com/rendis/promptchain/internal/streaming"
	"github.com/rendis/promptchain/pkg/schema"
)

// Retention defaults: every night at 03:00, keep the 20 newest versions.
const (
	DefaultSchedule = "0 3 * * *"
	DefaultKeep     = 20
)

// Policy controls version retention. An empty Schedule or Keep < 1 disables
// the background loop; PruneAll still works on demand when Keep >= 1.
type Policy struct {
	Schedule string `json:"schedule" yaml:"schedule"`
	Keep     int    `json:"keep" yaml:"keep"`
}

// DefaultPolicy returns the default retention policy.
func DefaultPolicy() Policy {
	return Policy{Schedule: DefaultSchedule, Keep: DefaultKeep}
}

// PruneResult reports what one retention pass removed.
type PruneResult struct {
	Chains  int            `json:"chains"`
	Removed int            `json:"removed"`
	ByChain map[string]int `json:"by_chain,omitempty"`
}

// Scheduler prunes old chain versions on a cron schedule.
type Scheduler struct {
	store  store.Store
	events *store.EventLog
	hub    streaming.EventHub
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	policy Policy
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // chain IDs currently being pruned
}

// NewScheduler creates a Scheduler. hub may be nil.
func NewScheduler(s store.Store, hub streaming.EventHub, logger *slog.Logger, p Policy) (*Scheduler, error) {
	sched := &Scheduler{
		store:    s,
		events:   store.NewEventLog(s),
		hub:      hub,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
	}
	if err := sched.validate(p); err != nil {
		return nil, err
	}
	sched.policy = p
	return sched, nil
}

func (s *Scheduler) validate(p Policy) error {
	if p.Schedule == "" {
		return nil
	}
	if _, err := s.parser.Parse(p.Schedule); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid retention schedule %q", p.Schedule).WithCause(err)
	}
	return nil
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy replaces the policy. A running loop re-plans its next run.
func (s *Scheduler) SetPolicy(p Policy) error {
	if err := s.validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.logger.Info("retention policy updated",
		slog.String("schedule", p.Schedule),
		slog.Int("keep", p.Keep),
	)
	return nil
}

// Start launches the background retention loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		// A nil channel blocks forever, which parks the loop while disabled.
		var fire <-chan time.Time
		var timer *time.Timer
		if next, ok := s.nextRun(time.Now()); ok {
			timer = time.NewTimer(time.Until(next))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-s.wake:
			stopTimer(timer)
		case <-fire:
			s.tick(ctx)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// nextRun reports when the loop should fire next, or false when retention
// is disabled.
func (s *Scheduler) nextRun(from time.Time) (time.Time, bool) {
	p := s.Policy()
	if p.Schedule == "" || p.Keep < 1 {
		return time.Time{}, false
	}
	next, err := s.CalculateNextRun(p.Schedule, from)
	if err != nil {
		s.logger.Error("retention schedule unusable", slog.String("error", err.Error()))
		return time.Time{}, false
	}
	return next, true
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.PruneAll(ctx)
	if err != nil {
		s.logger.Error("retention pass failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("retention pass finished",
		slog.Int("chains", res.Chains),
		slog.Int("removed", res.Removed),
	)
}

// PruneAll applies the current policy to every chain. Chains already being
// pruned by a concurrent pass are skipped; a failure on one chain is logged
// and does not stop the others.
func (s *Scheduler) PruneAll(ctx context.Context) (*PruneResult, error) {
	keep := s.Policy().Keep
	if keep < 1 {
		return nil, schema.NewError(schema.ErrCodeValidation, "retention keep must be at least 1")
	}

	chains, err := s.store.ListChains(ctx, store.ChainFilter{})
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}

	res := &PruneResult{ByChain: make(map[string]int)}
	for _, ch := range chains {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if ch.LatestVersion <= keep {
			continue
		}
		if !s.tryAcquire(ch.ID) {
			continue
		}
		n, err := s.PruneChain(ctx, ch.ID, keep)
		s.releaseChain(ch.ID)
		if err != nil {
			s.logger.Error("failed to prune chain versions",
				slog.String("chain_id", ch.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Chains++
		if n > 0 {
			res.ByChain[ch.ID] = n
			res.Removed += n
		}
	}
	return res, nil
}

// PruneChain keeps the newest keep versions of one chain and records a
// versions_pruned event when anything was removed.
func (s *Scheduler) PruneChain(ctx context.Context, chainID string, keep int) (int, error) {
	n, err := s.store.PruneVersions(ctx, chainID, keep)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	metrics.VersionsPruned.Add(float64(n))

	payload := map[string]any{"removed": n, "keep": keep}
	if _, err := s.events.Append(ctx, chainID, "", schema.EventVersionsPruned, 0, payload); err != nil {
		s.logger.Warn("failed to record prune event",
			slog.String("chain_id", chainID),
			slog.String("error", err.Error()),
		)
	}
	if s.hub != nil {
		if err := s.hub.Publish(ctx, streaming.StreamEvent{
			ChainID:   chainID,
			EventType: schema.EventVersionsPruned,
			Payload:   payload,
		}); err != nil {
			s.logger.Warn("failed to publish prune event",
				slog.String("chain_id", chainID),
				slog.String("error", err.Error()),
			)
		}
	}
	return n, nil
}

// tryAcquire returns true and marks the chain as in-flight if no other pass
// is pruning it.
func (s *Scheduler) tryAcquire(chainID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[chainID]; ok {
		return false
	}
	s.inflight[chainID] = struct{}{}
	return true
}

func (s *Scheduler) releaseChain(chainID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, chainID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
	return nil
}
