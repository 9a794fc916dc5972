package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mls-sync/internal/circuitbreaker"
	"github.com/mls-sync/internal/config"
	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/storage"
	"github.com/mls-sync/internal/transform"
	"github.com/mls-sync/internal/types"
)

// Source binds a configured provider feed to its client and record shapes
type Source struct {
	Name          string
	Client        MLSClient
	Transformer   *transform.Transformer
	StatusFilters []string
}

// Dependencies are the stores a SyncService writes through.
// Lock and Events are optional.
type Dependencies struct {
	Listings  ListingRepository
	Agents    AgentRepository
	Snapshots SnapshotRepository
	History   SyncHistoryRepository
	Lock      RunLocker
	Events    StatusEventSink
}

// EntityCounts reports how many records of one entity type a run saw and wrote
type EntityCounts struct {
	Processed int `json:"processed"`
	Upserted  int `json:"upserted"`
}

// SyncResult is the outcome of one TriggerSync call
type SyncResult struct {
	Success           bool                     `json:"success"`
	RunID             string                   `json:"runId"`
	Source            string                   `json:"source"`
	Mode              types.SyncMode           `json:"mode"`
	Listings          EntityCounts             `json:"listings"`
	Agents            EntityCounts             `json:"agents"`
	Changes           map[types.ChangeKind]int `json:"changes"`
	WarningCount      int                      `json:"warningCount"`
	DataShapeWarnings int                      `json:"dataShapeWarnings"`
	Truncated         bool                     `json:"truncated"`
	SkippedStale      int                      `json:"skippedStale,omitempty"`
	RecordErrors      []string                 `json:"recordErrors,omitempty"`
	EnrichmentErrors  []string                 `json:"enrichmentErrors,omitempty"`
	AuditErrors       []string                 `json:"auditErrors,omitempty"`
	EnrichmentBreaker *circuitbreaker.Stats    `json:"enrichmentBreaker,omitempty"`
	Error             string                   `json:"error,omitempty"`
	DurationMs        int64                    `json:"durationMs"`
}

// SyncService orchestrates full and incremental synchronization runs
type SyncService struct {
	cfg     config.SyncConfig
	deps    Dependencies
	sources map[string]*Source
	order   []string
	now     func() time.Time
}

// NewSyncService creates a new sync service over the given sources
func NewSyncService(cfg config.SyncConfig, deps Dependencies, sources ...Source) *SyncService {
	s := &SyncService{
		cfg:     cfg,
		deps:    deps,
		sources: make(map[string]*Source, len(sources)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for i := range sources {
		src := sources[i]
		if len(src.StatusFilters) == 0 {
			src.StatusFilters = cfg.StatusFilters
		}
		s.sources[src.Name] = &src
		s.order = append(s.order, src.Name)
	}
	sort.Strings(s.order)
	return s
}

// Sources returns the configured source names in stable order
func (s *SyncService) Sources() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *SyncService) source(name string) (*Source, error) {
	src, ok := s.sources[name]
	if !ok {
		return nil, apperrors.NewUnknownSourceError(name)
	}
	return src, nil
}

// TriggerSync runs one synchronization of source.
// Guard failures (unknown source, a run already in flight) are returned as errors;
// once a run has started its outcome, including failure, is reported in the result.
func (s *SyncService) TriggerSync(ctx context.Context, sourceName string, mode types.SyncMode) (*SyncResult, error) {
	src, err := s.source(sourceName)
	if err != nil {
		return nil, err
	}
	if mode != types.SyncModeFull && mode != types.SyncModeIncremental {
		return nil, apperrors.NewInvalidParameterError("mode", "must be full or incremental")
	}

	runID := uuid.NewString()
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"source": src.Name,
		"mode":   mode,
		"runId":  runID,
	})
	ctx = logging.WithLogger(ctx, logger)

	release, err := s.acquire(ctx, src.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	started := s.now()
	history := &models.SyncHistory{
		ID:        runID,
		Source:    src.Name,
		Mode:      mode,
		Status:    types.RunStatusInProgress,
		StartTime: started,
	}
	if err := s.deps.History.Create(ctx, history); err != nil {
		return nil, apperrors.NewPersistenceError("create sync history", err)
	}

	logger.Info("[Sync] Run started")

	r := newRun(src, mode, runID, started)
	if mode == types.SyncModeFull {
		err = s.runFull(ctx, r)
	} else {
		err = s.runIncremental(ctx, r)
	}

	s.finalize(ctx, r, history, err)
	return r.result, nil
}

// acquire applies the one-run-per-source guard and returns the matching release
func (s *SyncService) acquire(ctx context.Context, source string) (func(), error) {
	logger := logging.FromContext(ctx)

	token := ""
	if s.deps.Lock != nil {
		t, err := s.deps.Lock.Acquire(ctx, source)
		if err != nil {
			if errors.Is(err, storage.ErrLockHeld) {
				return nil, apperrors.NewSyncInProgressError(source)
			}
			return nil, apperrors.NewInternalError("failed to acquire run lock", err)
		}
		token = t
	}

	release := func() {
		if s.deps.Lock == nil {
			return
		}
		// the lock must be released even when the run's context was cancelled
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.deps.Lock.Release(rctx, source, token); err != nil {
			logger.WithError(err).Warn("[Sync] Failed to release run lock")
		}
	}

	now := s.now()
	if s.cfg.StaleRunAfter > 0 {
		abandoned, err := s.deps.History.AbandonStale(ctx, source, now.Add(-s.cfg.StaleRunAfter), now)
		if err != nil {
			release()
			return nil, apperrors.NewPersistenceError("abandon stale runs", err)
		}
		if abandoned > 0 {
			logger.WithField("abandoned", abandoned).Warn("[Sync] Marked stale in-progress runs as failed")
		}
	}

	active, err := s.deps.History.FindInProgress(ctx, source)
	if err != nil {
		release()
		return nil, apperrors.NewPersistenceError("find in-progress runs", err)
	}
	if len(active) > 0 {
		release()
		return nil, apperrors.NewSyncInProgressError(source)
	}

	return release, nil
}

// finalize writes the terminal SyncHistory row. A run is only reported successful once that row is durable.
func (s *SyncService) finalize(ctx context.Context, r *run, history *models.SyncHistory, runErr error) {
	logger := logging.FromContext(ctx)
	res := r.result
	end := s.now()

	res.DurationMs = end.Sub(r.startedAt).Milliseconds()
	res.Success = runErr == nil
	if runErr != nil {
		res.Error = runErr.Error()
	}

	history.EndTime = &end
	history.DurationMs = res.DurationMs
	history.ListingsProcessed = res.Listings.Processed
	history.ListingsUpserted = res.Listings.Upserted
	history.AgentsProcessed = res.Agents.Processed
	history.AgentsUpserted = res.Agents.Upserted
	history.WarningCount = res.WarningCount
	history.Status = types.RunStatusSuccess
	if runErr != nil {
		history.Status = types.RunStatusFailed
		msg := runErr.Error()
		history.Error = &msg
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.deps.History.Finalize(fctx, history); err != nil {
		logger.WithError(err).Error("[Sync] Failed to finalize run")
		res.Success = false
		if res.Error == "" {
			res.Error = fmt.Sprintf("failed to finalize run: %v", err)
		}
	}

	fields := map[string]interface{}{
		"listingsProcessed": res.Listings.Processed,
		"listingsUpserted":  res.Listings.Upserted,
		"agentsProcessed":   res.Agents.Processed,
		"agentsUpserted":    res.Agents.Upserted,
		"warnings":          res.WarningCount,
		"dataShapeWarnings": res.DataShapeWarnings,
		"durationMs":        res.DurationMs,
	}
	if runErr != nil {
		logger.WithFields(fields).WithError(runErr).Error("[Sync] Run failed")
		return
	}
	logger.WithFields(fields).Info("[Sync] Run completed")
}
