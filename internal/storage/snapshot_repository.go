package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mls-sync/internal/models"
)

// SnapshotResult reports how many rows a source snapshot swap wrote
type SnapshotResult struct {
	Listings int
	Agents   int
}

// SnapshotRepository replaces a source's whole collection in one transaction.
// Readers see either the previous snapshot or the new one, never an empty source.
type SnapshotRepository struct {
	db        *PostgresDB
	batchSize int
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB, batchSize int) *SnapshotRepository {
	return &SnapshotRepository{db: db, batchSize: batchSize}
}

// ReplaceSource deletes every listing and agent of source and reloads the given sets
func (r *SnapshotRepository) ReplaceSource(ctx context.Context, source string, listings []*models.Listing, agents []*models.Agent) (SnapshotResult, error) {
	var result SnapshotResult

	listingRows, err := listingParams(listings)
	if err != nil {
		return result, err
	}
	agentRows, err := agentParams(agents)
	if err != nil {
		return result, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM listings WHERE source = $1`, source); err != nil {
		return result, fmt.Errorf("failed to clear listings for %s: %w", source, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM agents WHERE source = $1`, source); err != nil {
		return result, fmt.Errorf("failed to clear agents for %s: %w", source, err)
	}

	// upsert statements tolerate duplicate keys inside one snapshot
	result.Listings, err = sendInChunks(ctx, tx, len(listingRows), r.batchSize, func(b *pgx.Batch, i int) {
		b.Queue(upsertListingSQL, listingRows[i]...)
	})
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to load listings for %s: %w", source, err)
	}

	result.Agents, err = sendInChunks(ctx, tx, len(agentRows), r.batchSize, func(b *pgx.Batch, i int) {
		b.Queue(upsertAgentSQL, agentRows[i]...)
	})
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to load agents for %s: %w", source, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SnapshotResult{}, fmt.Errorf("failed to commit snapshot for %s: %w", source, err)
	}
	return result, nil
}
