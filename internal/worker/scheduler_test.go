package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/service"
	"github.com/mls-sync/internal/types"
)

type call struct {
	source string
	mode   types.SyncMode
}

type fakeSyncer struct {
	mu       sync.Mutex
	sources  []string
	calls    []call
	errs     map[string]error
	failed   map[string]bool
	lastFull map[string]time.Time
	// block, when set, holds every TriggerSync until it is closed
	block chan struct{}
}

func newFakeSyncer(sources ...string) *fakeSyncer {
	return &fakeSyncer{
		sources:  sources,
		errs:     map[string]error{},
		failed:   map[string]bool{},
		lastFull: map[string]time.Time{},
	}
}

func (f *fakeSyncer) Sources() []string { return f.sources }

func (f *fakeSyncer) TriggerSync(ctx context.Context, source string, mode types.SyncMode) (*service.SyncResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{source, mode})
	if err := f.errs[source]; err != nil {
		return nil, err
	}
	res := &service.SyncResult{Success: !f.failed[source], RunID: "run", Source: source, Mode: mode}
	if !res.Success {
		res.Error = "provider down"
	}
	return res, nil
}

func (f *fakeSyncer) GetSyncHistory(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) (*service.Page[*models.SyncHistory], error) {
	out := &service.Page[*models.SyncHistory]{Limit: page.Limit}
	if end, ok := f.lastFull[filter.Source]; ok {
		out.Items = []*models.SyncHistory{{Source: filter.Source, Mode: types.SyncModeFull, Status: types.RunStatusSuccess, EndTime: &end}}
		out.Total = 1
	}
	return out, nil
}

func (f *fakeSyncer) takeCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(&SchedulerConfig{})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Syncer: newFakeSyncer(), FullEvery: -time.Hour})
	assert.Error(t, err)

	_, err = NewScheduler(&SchedulerConfig{Syncer: newFakeSyncer(), Interval: time.Millisecond})
	assert.Error(t, err)

	s, err := NewScheduler(&SchedulerConfig{Syncer: newFakeSyncer()})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.interval)
}

func TestScheduler_TickChoosesMode(t *testing.T) {
	syncer := newFakeSyncer("a", "b")
	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer, FullEvery: 24 * time.Hour})
	require.NoError(t, err)

	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, []call{{"a", types.SyncModeFull}, {"b", types.SyncModeFull}}, syncer.takeCalls())

	clock = clock.Add(time.Hour)
	s.Tick(ctx)
	assert.Equal(t, []call{{"a", types.SyncModeIncremental}, {"b", types.SyncModeIncremental}}, syncer.takeCalls())

	clock = clock.Add(23 * time.Hour)
	s.Tick(ctx)
	assert.Equal(t, []call{{"a", types.SyncModeFull}, {"b", types.SyncModeFull}}, syncer.takeCalls())
}

func TestScheduler_FailedFullRunIsRetried(t *testing.T) {
	syncer := newFakeSyncer("a", "b")
	syncer.errs["a"] = apperrors.NewSyncInProgressError("a")
	syncer.failed["b"] = true

	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer, FullEvery: 24 * time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	s.Tick(ctx)
	syncer.takeCalls()

	delete(syncer.errs, "a")
	syncer.failed["b"] = false
	s.Tick(ctx)
	assert.Equal(t, []call{{"a", types.SyncModeFull}, {"b", types.SyncModeFull}}, syncer.takeCalls())
}

func TestScheduler_ContinuesAfterError(t *testing.T) {
	syncer := newFakeSyncer("a", "b")
	syncer.errs["a"] = errors.New("boom")

	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer})
	require.NoError(t, err)

	s.Tick(context.Background())
	assert.Equal(t, []call{{"a", types.SyncModeIncremental}, {"b", types.SyncModeIncremental}}, syncer.takeCalls())
}

func TestScheduler_StartResumesFullCadence(t *testing.T) {
	syncer := newFakeSyncer("a")
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	syncer.lastFull["a"] = clock.Add(-2 * time.Hour)

	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer, Interval: time.Hour, FullEvery: 24 * time.Hour})
	require.NoError(t, err)
	s.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	assert.Eventually(t, func() bool {
		syncer.mu.Lock()
		defer syncer.mu.Unlock()
		return len(syncer.calls) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, []call{{"a", types.SyncModeIncremental}}, syncer.takeCalls())
	assert.False(t, s.GetStatus().Running)
	assert.Error(t, s.Stop(ctx))
}

func TestScheduler_StopAfterTimeoutKeepsWaiting(t *testing.T) {
	syncer := newFakeSyncer("a")
	syncer.block = make(chan struct{})

	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(short), context.DeadlineExceeded)
	assert.True(t, s.GetStatus().Running)

	close(syncer.block)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.GetStatus().Running)
}

func TestScheduler_ContextCancelEndsLoop(t *testing.T) {
	syncer := newFakeSyncer("a")

	s, err := NewScheduler(&SchedulerConfig{Syncer: syncer})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !s.GetStatus().Running }, time.Second, 5*time.Millisecond)
	assert.Error(t, s.Stop(context.Background()))
	assert.Error(t, s.Start(context.Background()))
}
