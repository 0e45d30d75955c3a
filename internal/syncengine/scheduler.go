package syncengine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/driftsync/driftsync/internal/knowledge"
)

const defaultPollInterval = time.Minute

type SchedulerOptions struct {
	Engine *Engine
	Store  knowledge.Store
	// PollInterval is how often targets are evaluated for a due run.
	PollInterval time.Duration
	Logger       *log.Logger
	Now          func() time.Time
}

// Scheduler periodically starts runs for targets whose sync interval has
// elapsed. A target already mid-run is skipped this cycle; one target's
// failure never blocks evaluation of the rest.
type Scheduler struct {
	engine       *Engine
	store        knowledge.Store
	pollInterval time.Duration
	logger       *log.Logger
	now          func() time.Time
}

func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Engine == nil || opts.Store == nil {
		return nil, errors.New("syncengine: scheduler needs an engine and a store")
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(logDiscard{}, "", 0)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		engine:       opts.Engine,
		store:        opts.Store,
		pollInterval: pollInterval,
		logger:       logger,
		now:          now,
	}, nil
}

// Run evaluates targets on every tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts a run for every due target.
func (s *Scheduler) Tick(ctx context.Context) {
	targetIDs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Printf("scheduler: list targets: %v", err)
		return
	}
	for _, targetID := range targetIDs {
		due, err := s.due(ctx, targetID)
		if err != nil {
			s.logger.Printf("scheduler: evaluate %s: %v", targetID, err)
			continue
		}
		if !due {
			continue
		}
		err = s.engine.Start(ctx, targetID, nil)
		if errors.Is(err, ErrAlreadySyncing) {
			continue
		}
		if err != nil {
			s.logger.Printf("scheduler: start %s: %v", targetID, err)
			continue
		}
		s.logger.Printf("scheduler: started sync for %s", targetID)
	}
}

func (s *Scheduler) due(ctx context.Context, targetID string) (bool, error) {
	record, err := s.store.Get(ctx, targetID)
	if err != nil {
		return false, err
	}
	meta := record.Sync
	if meta.IntervalSeconds <= 0 || len(meta.Sources) == 0 {
		return false, nil
	}
	if meta.Status == knowledge.StatusSyncing {
		return false, nil
	}
	interval := time.Duration(meta.IntervalSeconds) * time.Second

	// A run that ended in a failure state backs off from its finish time.
	// Without this, a target that has never completed (LastSyncedAt unset)
	// would be restarted on every tick, hammering a source that needs
	// operator action (reauthorization, a raised file limit) to ever succeed.
	switch meta.Status {
	case knowledge.StatusFailed, knowledge.StatusAccessRevoked, knowledge.StatusFileLimitExceeded:
		if meta.FinishedAt == nil || s.now().Sub(*meta.FinishedAt) < interval {
			return false, nil
		}
		return true, nil
	}

	if meta.LastSyncedAt == nil {
		return true, nil
	}
	return s.now().Sub(*meta.LastSyncedAt) >= interval, nil
}
