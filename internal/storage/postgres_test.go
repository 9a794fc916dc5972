package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mls-sync/internal/config"
	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

func integrationPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "mls_sync",
		User:           "mls",
		Password:       "mls_dev_password",
		MaxConnections: 5,
	}
}

// openIntegrationDB connects and migrates, skipping the test when Postgres is unavailable
func openIntegrationDB(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := integrationPostgresConfig()
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(PostgresURL(cfg), "../../migrations/postgres"))
	return db
}

// uniqueSource isolates each test's rows
func uniqueSource(t *testing.T) string {
	return fmt.Sprintf("it-%s", uuid.NewString()[:8])
}

func testListing(source, key string, status types.LifecycleStatus, history int) *models.Listing {
	l := &models.Listing{
		Source:          source,
		SourceID:        key,
		ListingID:       "MLS-" + key,
		ListPrice:       100000,
		City:            "Austin",
		RawStatus:       string(status),
		LifecycleStatus: status,
		StatusHistory:   []models.StatusChange{},
		StandardFields:  models.StandardFields{ListingKey: key, StandardStatus: string(status)},
		ContentHash:     "h-" + key,
		FirstSeenAt:     time.Now().UTC().Truncate(time.Millisecond),
		LastSyncedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	for i := 0; i < history; i++ {
		l.StatusHistory = append(l.StatusHistory, models.StatusChange{
			FromStatus: types.LifecycleActive,
			ToStatus:   types.LifecyclePending,
			ChangedAt:  time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
		})
	}
	return l
}

func TestPostgresURL(t *testing.T) {
	cfg := &config.PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", Database: "mls"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/mls?sslmode=disable", PostgresURL(cfg))
}

func TestNewPostgresDB(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := testContext(t)
	assert.NoError(t, db.Ping(ctx))
	assert.NotNil(t, db.Pool())
}

func TestListingRepository_UpsertKeepsLongerHistory(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := testContext(t)
	repo := NewListingRepository(db, 2)
	source := uniqueSource(t)

	n, err := repo.UpsertBatch(ctx, []*models.Listing{
		testListing(source, "L1", types.LifecyclePending, 2),
		testListing(source, "L2", types.LifecycleActive, 0),
		testListing(source, "L3", types.LifecycleActive, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// a stale writer with a shorter history must not truncate the trail
	stale := testListing(source, "L1", types.LifecycleActive, 1)
	stale.ListPrice = 99
	_, err = repo.UpsertBatch(ctx, []*models.Listing{stale})
	require.NoError(t, err)

	got, err := repo.Get(ctx, source, "L1")
	require.NoError(t, err)
	assert.Len(t, got.StatusHistory, 2)
	assert.Equal(t, 99.0, got.ListPrice)

	listings, total, err := repo.List(ctx, ListingFilter{Source: source, Status: types.LifecycleActive}, models.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, listings, 3)

	byKey, err := repo.MapByKeys(ctx, source, []string{"L2", "missing"})
	require.NoError(t, err)
	assert.Len(t, byKey, 1)

	_, err = repo.Get(ctx, source, "missing")
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryNotFound))
}

func TestSnapshotRepository_ReplaceSource(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := testContext(t)
	listings := NewListingRepository(db, 10)
	agents := NewAgentRepository(db, 10)
	snapshots := NewSnapshotRepository(db, 10)
	source := uniqueSource(t)

	_, err := listings.UpsertBatch(ctx, []*models.Listing{
		testListing(source, "OLD", types.LifecycleActive, 0),
	})
	require.NoError(t, err)

	agent := &models.Agent{Source: source, SourceID: "A1", MemberKey: "M1", FullName: "Jane Doe", Origin: types.AgentOriginExport}
	result, err := snapshots.ReplaceSource(ctx, source,
		[]*models.Listing{testListing(source, "NEW1", types.LifecycleActive, 0), testListing(source, "NEW2", types.LifecyclePending, 0)},
		[]*models.Agent{agent},
	)
	require.NoError(t, err)
	assert.Equal(t, SnapshotResult{Listings: 2, Agents: 1}, result)

	all, err := listings.MapBySource(ctx, source)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NotContains(t, all, "OLD")

	byMember, err := agents.Get(ctx, source, "M1")
	require.NoError(t, err)
	assert.Equal(t, "A1", byMember.SourceID)
	assert.Equal(t, []string{}, byMember.PendingListings)
}

func TestSyncHistoryRepository_Lifecycle(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := testContext(t)
	repo := NewSyncHistoryRepository(db)
	source := uniqueSource(t)

	none, err := repo.LastSuccessful(ctx, source)
	require.NoError(t, err)
	assert.Nil(t, none)

	start := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	run := &models.SyncHistory{ID: uuid.NewString(), Source: source, Mode: types.SyncModeFull, Status: types.RunStatusInProgress, StartTime: start}
	require.NoError(t, repo.Create(ctx, run))

	inProgress, err := repo.FindInProgress(ctx, source)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)

	// in-progress rows never count as the last successful run
	none, err = repo.LastSuccessful(ctx, source)
	require.NoError(t, err)
	assert.Nil(t, none)

	end := time.Now().UTC().Truncate(time.Millisecond)
	run.Status = types.RunStatusSuccess
	run.EndTime = &end
	run.ListingsProcessed = 4
	run.DurationMs = end.Sub(start).Milliseconds()
	require.NoError(t, repo.Finalize(ctx, run))

	last, err := repo.LastSuccessful(ctx, source)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, 4, last.ListingsProcessed)

	stale := &models.SyncHistory{ID: uuid.NewString(), Source: source, Mode: types.SyncModeIncremental, Status: types.RunStatusInProgress, StartTime: start.Add(-10 * time.Hour)}
	require.NoError(t, repo.Create(ctx, stale))
	n, err := repo.AbandonStale(ctx, source, time.Now().Add(-6*time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, total, err := repo.List(ctx, models.SyncHistoryFilter{Source: source, Status: types.RunStatusFailed}, models.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Error)
	assert.Equal(t, "abandoned", *runs[0].Error)
}
