package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mls-sync/internal/adapter"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/storage"
)

// MLSClient is the provider surface a sync run consumes
type MLSClient interface {
	Source() string
	SearchListings(ctx context.Context, q adapter.ListingQuery, fn adapter.PageFunc) (adapter.PageStats, error)
	ExportMembers(ctx context.Context, pageSize, maxPages int, fn adapter.PageFunc) (adapter.PageStats, error)
	GetMember(ctx context.Context, key string) (json.RawMessage, error)
	Ping(ctx context.Context) error
}

// ListingRepository interface for listing data operations
type ListingRepository interface {
	Get(ctx context.Context, source, sourceID string) (*models.Listing, error)
	List(ctx context.Context, filter storage.ListingFilter, page models.Pagination) ([]*models.Listing, int, error)
	MapBySource(ctx context.Context, source string) (map[string]*models.Listing, error)
	MapByKeys(ctx context.Context, source string, keys []string) (map[string]*models.Listing, error)
	PendingKeysByAgent(ctx context.Context, source string, agentKeys []string) (map[string][]string, error)
	UpsertBatch(ctx context.Context, listings []*models.Listing) (int, error)
}

// AgentRepository interface for agent data operations
type AgentRepository interface {
	Get(ctx context.Context, source, key string) (*models.Agent, error)
	List(ctx context.Context, source string, page models.Pagination) ([]*models.Agent, int, error)
	ListBySource(ctx context.Context, source string) ([]*models.Agent, error)
	UpsertBatch(ctx context.Context, agents []*models.Agent) (int, error)
}

// SnapshotRepository swaps a source's whole collection atomically
type SnapshotRepository interface {
	ReplaceSource(ctx context.Context, source string, listings []*models.Listing, agents []*models.Agent) (storage.SnapshotResult, error)
}

// SyncHistoryRepository interface for sync run records
type SyncHistoryRepository interface {
	Create(ctx context.Context, h *models.SyncHistory) error
	Finalize(ctx context.Context, h *models.SyncHistory) error
	LastSuccessful(ctx context.Context, source string) (*models.SyncHistory, error)
	FindInProgress(ctx context.Context, source string) ([]*models.SyncHistory, error)
	AbandonStale(ctx context.Context, source string, cutoff, now time.Time) (int, error)
	List(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) ([]*models.SyncHistory, int, error)
}

// RunLocker serializes runs of one source across processes.
// Acquire returns storage.ErrLockHeld when another run owns the source.
type RunLocker interface {
	Acquire(ctx context.Context, source string) (string, error)
	Release(ctx context.Context, source, token string) error
}

// StatusEventSink receives the lifecycle transitions of a run
type StatusEventSink interface {
	Record(ctx context.Context, events []models.StatusEvent) error
}
