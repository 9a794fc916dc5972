package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/service"
	"github.com/mls-sync/internal/types"
)

// Syncer is the part of the sync service the scheduler drives
type Syncer interface {
	Sources() []string
	TriggerSync(ctx context.Context, source string, mode types.SyncMode) (*service.SyncResult, error)
	GetSyncHistory(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) (*service.Page[*models.SyncHistory], error)
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Syncer   Syncer
	Interval time.Duration // tick between incremental runs (default: 1h)
	// FullEvery is the cadence of full runs; zero disables them
	FullEvery time.Duration
}

// Scheduler triggers periodic syncs for every configured source
type Scheduler struct {
	syncer    Syncer
	interval  time.Duration
	fullEvery time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	running  bool
	started  bool
	lastTick time.Time
	lastFull map[string]time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.FullEvery < 0 {
		return nil, fmt.Errorf("full sync cadence cannot be negative, got %v", cfg.FullEvery)
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = time.Hour
	}
	if interval < time.Second {
		return nil, fmt.Errorf("interval must be at least one second, got %v", interval)
	}

	return &Scheduler{
		syncer:    cfg.Syncer,
		interval:  interval,
		fullEvery: cfg.FullEvery,
		now:       time.Now,
		lastFull:  map[string]time.Time{},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start loads when each source last completed a full run, runs one tick immediately
// and then keeps ticking in the background until Stop or ctx cancellation.
// A scheduler runs once; it cannot be started again after its loop exits.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler has already been stopped")
	}
	s.running = true
	s.started = true
	s.mu.Unlock()

	logger := logging.FromContext(ctx)
	logger.WithFields(map[string]interface{}{
		"interval":  s.interval.String(),
		"fullEvery": s.fullEvery.String(),
		"sources":   s.syncer.Sources(),
	}).Info("[Scheduler] Starting")

	if s.fullEvery > 0 {
		for _, source := range s.syncer.Sources() {
			if err := s.loadLastFull(ctx, source); err != nil {
				logger.WithError(err).WithField("source", source).Warn("[Scheduler] Failed to load last full sync, one will run now")
			}
		}
	}

	go s.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the in-flight tick to finish.
// If ctx expires first Stop may be called again to keep waiting.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("scheduler is not running")
	}

	s.stopOnce.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
		logging.FromContext(ctx).Info("[Scheduler] Stopped gracefully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.FromContext(ctx).Info("[Scheduler] Context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sync per source, sequentially. A source whose run is still
// outstanding is skipped until the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	s.lastTick = s.now()
	s.mu.Unlock()

	for _, source := range s.syncer.Sources() {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		mode := s.modeFor(source)
		logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"source": source,
			"mode":   string(mode),
		})

		res, err := s.syncer.TriggerSync(ctx, source, mode)
		switch {
		case apperrors.HasCategory(err, apperrors.CategoryConflict):
			logger.Info("[Scheduler] Run already in progress, skipping")
		case err != nil:
			logger.WithError(err).Error("[Scheduler] Failed to start sync")
		case !res.Success:
			logger.WithField("runId", res.RunID).Warnf("[Scheduler] Sync failed: %s", res.Error)
		default:
			if mode == types.SyncModeFull {
				s.mu.Lock()
				s.lastFull[source] = s.now()
				s.mu.Unlock()
			}
			logger.WithFields(map[string]interface{}{
				"runId":    res.RunID,
				"listings": res.Listings.Upserted,
				"agents":   res.Agents.Upserted,
			}).Info("[Scheduler] Sync completed")
		}
	}
}

// modeFor picks a full run when the cadence has elapsed for the source
func (s *Scheduler) modeFor(source string) types.SyncMode {
	if s.fullEvery == 0 {
		return types.SyncModeIncremental
	}
	s.mu.RLock()
	last, ok := s.lastFull[source]
	s.mu.RUnlock()
	if !ok || s.now().Sub(last) >= s.fullEvery {
		return types.SyncModeFull
	}
	return types.SyncModeIncremental
}

func (s *Scheduler) loadLastFull(ctx context.Context, source string) error {
	page, err := s.syncer.GetSyncHistory(ctx, models.SyncHistoryFilter{
		Source: source,
		Mode:   types.SyncModeFull,
		Status: types.RunStatusSuccess,
	}, models.Pagination{Limit: 1})
	if err != nil {
		return err
	}
	if len(page.Items) > 0 && page.Items[0].EndTime != nil {
		s.mu.Lock()
		s.lastFull[source] = *page.Items[0].EndTime
		s.mu.Unlock()
	}
	return nil
}

// SchedulerStatus represents the current state of the scheduler
type SchedulerStatus struct {
	Running   bool                 `json:"running"`
	LastTick  time.Time            `json:"lastTick"`
	LastFull  map[string]time.Time `json:"lastFull"`
	Interval  string               `json:"interval"`
	FullEvery string               `json:"fullEvery"`
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() *SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastFull := make(map[string]time.Time, len(s.lastFull))
	for k, v := range s.lastFull {
		lastFull[k] = v
	}
	return &SchedulerStatus{
		Running:   s.running,
		LastTick:  s.lastTick,
		LastFull:  lastFull,
		Interval:  s.interval.String(),
		FullEvery: s.fullEvery.String(),
	}
}
