package service

import (
	"context"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/storage"
	"github.com/mls-sync/internal/types"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Page is one slice of a paginated read
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// GetSyncHistory returns run records matching filter, newest first
func (s *SyncService) GetSyncHistory(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) (*Page[*models.SyncHistory], error) {
	if filter.Source != "" {
		if _, err := s.source(filter.Source); err != nil {
			return nil, err
		}
	}
	page = page.Normalize(defaultPageLimit, maxPageLimit)

	runs, total, err := s.deps.History.List(ctx, filter, page)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list sync history", err)
	}
	return &Page[*models.SyncHistory]{Items: runs, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// TestConnection reports whether the source's provider accepts our credentials and answers a query
func (s *SyncService) TestConnection(ctx context.Context, sourceName string) (bool, error) {
	src, err := s.source(sourceName)
	if err != nil {
		return false, err
	}

	if err := src.Client.Ping(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("source", sourceName).Warn("[Sync] Connection test failed")
		return false, nil
	}
	return true, nil
}

// GetListing returns one stored listing
func (s *SyncService) GetListing(ctx context.Context, sourceName, key string) (*models.Listing, error) {
	if _, err := s.source(sourceName); err != nil {
		return nil, err
	}
	listing, err := s.deps.Listings.Get(ctx, sourceName, key)
	if err != nil {
		return nil, wrapRead("get listing", err)
	}
	return listing, nil
}

// ListListings returns stored listings of a source, optionally narrowed by lifecycle status
func (s *SyncService) ListListings(ctx context.Context, sourceName string, status types.LifecycleStatus, page models.Pagination) (*Page[*models.Listing], error) {
	if _, err := s.source(sourceName); err != nil {
		return nil, err
	}
	if status != "" && !status.IsValid() {
		return nil, apperrors.NewInvalidParameterError("status", "unknown lifecycle status")
	}
	page = page.Normalize(defaultPageLimit, maxPageLimit)

	listings, total, err := s.deps.Listings.List(ctx, storage.ListingFilter{Source: sourceName, Status: status}, page)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list listings", err)
	}
	return &Page[*models.Listing]{Items: listings, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// GetAgent returns one stored agent by source id or member key
func (s *SyncService) GetAgent(ctx context.Context, sourceName, key string) (*models.Agent, error) {
	if _, err := s.source(sourceName); err != nil {
		return nil, err
	}
	agent, err := s.deps.Agents.Get(ctx, sourceName, key)
	if err != nil {
		return nil, wrapRead("get agent", err)
	}
	return agent, nil
}

// ListAgents returns stored agents of a source
func (s *SyncService) ListAgents(ctx context.Context, sourceName string, page models.Pagination) (*Page[*models.Agent], error) {
	if _, err := s.source(sourceName); err != nil {
		return nil, err
	}
	page = page.Normalize(defaultPageLimit, maxPageLimit)

	agents, total, err := s.deps.Agents.List(ctx, sourceName, page)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list agents", err)
	}
	return &Page[*models.Agent]{Items: agents, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// wrapRead keeps not-found errors intact and marks everything else as a persistence failure
func wrapRead(operation string, err error) error {
	if apperrors.HasCategory(err, apperrors.CategoryNotFound) {
		return err
	}
	return apperrors.NewPersistenceError(operation, err)
}
