package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

func TestTestConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ok, err := h.svc.TestConnection(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, ok)

	h.client.pingErr = apperrors.NewAuthenticationError("demo", errors.New("bad token"))
	ok, err = h.svc.TestConnection(ctx, "demo")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.svc.TestConnection(ctx, "missing")
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryNotFound))
}

func TestListingQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.putListing(&models.Listing{Source: "demo", SourceID: "A1", LifecycleStatus: types.LifecycleActive})
	h.store.putListing(&models.Listing{Source: "demo", SourceID: "P1", LifecycleStatus: types.LifecyclePending})

	got, err := h.svc.GetListing(ctx, "demo", "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", got.SourceID)

	_, err = h.svc.GetListing(ctx, "demo", "ZZ")
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryNotFound))

	page, err := h.svc.ListListings(ctx, "demo", types.LifecyclePending, models.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, defaultPageLimit, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "P1", page.Items[0].SourceID)

	_, err = h.svc.ListListings(ctx, "demo", types.LifecycleStatus("Bogus"), models.Pagination{})
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryValidation))

	page, err = h.svc.ListListings(ctx, "demo", "", models.Pagination{Limit: 10000, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, maxPageLimit, page.Limit)
	assert.Len(t, page.Items, 1)
}

func TestAgentQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.putAgent(&models.Agent{Source: "demo", SourceID: "55", MemberKey: "M-55", FullName: "Jane Doe"})

	got, err := h.svc.GetAgent(ctx, "demo", "M-55")
	require.NoError(t, err)
	assert.Equal(t, "55", got.SourceID)

	_, err = h.svc.GetAgent(ctx, "demo", "nobody")
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryNotFound))

	page, err := h.svc.ListAgents(ctx, "demo", models.Pagination{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestGetSyncHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.TriggerSync(ctx, "demo", types.SyncModeFull)
	require.NoError(t, err)
	_, err = h.svc.TriggerSync(ctx, "demo", types.SyncModeIncremental)
	require.NoError(t, err)

	page, err := h.svc.GetSyncHistory(ctx, models.SyncHistoryFilter{Source: "demo", Mode: types.SyncModeIncremental}, models.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, types.SyncModeIncremental, page.Items[0].Mode)

	_, err = h.svc.GetSyncHistory(ctx, models.SyncHistoryFilter{Source: "elsewhere"}, models.Pagination{})
	assert.True(t, apperrors.HasCategory(err, apperrors.CategoryNotFound))
}
