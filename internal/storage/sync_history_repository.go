package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

const syncHistoryColumns = `
	id, source, mode, status, start_time, end_time, listings_processed, listings_upserted,
	agents_processed, agents_upserted, warning_count, error, duration_ms`

// SyncHistoryRepository handles sync run persistence
type SyncHistoryRepository struct {
	db *PostgresDB
}

// NewSyncHistoryRepository creates a new sync history repository
func NewSyncHistoryRepository(db *PostgresDB) *SyncHistoryRepository {
	return &SyncHistoryRepository{db: db}
}

// Create records the start of a run
func (r *SyncHistoryRepository) Create(ctx context.Context, h *models.SyncHistory) error {
	query := `
		INSERT INTO sync_history (` + syncHistoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		h.ID, h.Source, string(h.Mode), string(h.Status), h.StartTime, h.EndTime,
		h.ListingsProcessed, h.ListingsUpserted, h.AgentsProcessed, h.AgentsUpserted,
		h.WarningCount, h.Error, h.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync history: %w", err)
	}
	return nil
}

// Finalize writes the terminal status and counters of a run
func (r *SyncHistoryRepository) Finalize(ctx context.Context, h *models.SyncHistory) error {
	query := `
		UPDATE sync_history
		SET status = $2, end_time = $3, listings_processed = $4, listings_upserted = $5,
			agents_processed = $6, agents_upserted = $7, warning_count = $8, error = $9,
			duration_ms = $10
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		h.ID, string(h.Status), h.EndTime, h.ListingsProcessed, h.ListingsUpserted,
		h.AgentsProcessed, h.AgentsUpserted, h.WarningCount, h.Error, h.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync history: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("sync run", h.ID)
	}
	return nil
}

// Get retrieves a run by id
func (r *SyncHistoryRepository) Get(ctx context.Context, id string) (*models.SyncHistory, error) {
	h, err := scanSyncHistory(r.db.Pool().QueryRow(ctx,
		`SELECT `+syncHistoryColumns+` FROM sync_history WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("sync run", id)
		}
		return nil, fmt.Errorf("failed to get sync history: %w", err)
	}
	return h, nil
}

// LastSuccessful returns the most recently finished successful run, or nil when none exists
func (r *SyncHistoryRepository) LastSuccessful(ctx context.Context, source string) (*models.SyncHistory, error) {
	query := `
		SELECT ` + syncHistoryColumns + `
		FROM sync_history
		WHERE source = $1 AND status = $2 AND end_time IS NOT NULL
		ORDER BY end_time DESC
		LIMIT 1
	`

	h, err := scanSyncHistory(r.db.Pool().QueryRow(ctx, query, source, string(types.RunStatusSuccess)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last successful sync: %w", err)
	}
	return h, nil
}

// FindInProgress returns every in-progress run of a source, newest first
func (r *SyncHistoryRepository) FindInProgress(ctx context.Context, source string) ([]*models.SyncHistory, error) {
	runs, _, err := r.List(ctx, models.SyncHistoryFilter{Source: source, Status: types.RunStatusInProgress},
		models.Pagination{Limit: 100})
	return runs, err
}

// List returns one page of runs matching filter plus the total count
func (r *SyncHistoryRepository) List(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) ([]*models.SyncHistory, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.Mode != "" {
		add("mode = $%d", string(filter.Mode))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Since != nil {
		add("start_time >= $%d", *filter.Since)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM sync_history`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sync history: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM sync_history%s ORDER BY start_time DESC LIMIT $%d OFFSET $%d`,
		syncHistoryColumns, clause, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sync history: %w", err)
	}
	defer rows.Close()

	runs := []*models.SyncHistory{}
	for rows.Next() {
		h, err := scanSyncHistory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan sync history: %w", err)
		}
		runs = append(runs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sync history: %w", err)
	}
	return runs, total, nil
}

// AbandonStale marks in-progress runs that started before cutoff as failed
func (r *SyncHistoryRepository) AbandonStale(ctx context.Context, source string, cutoff, now time.Time) (int, error) {
	query := `
		UPDATE sync_history
		SET status = $3, end_time = $4, error = 'abandoned',
			duration_ms = (EXTRACT(EPOCH FROM ($4 - start_time)) * 1000)::BIGINT
		WHERE source = $1 AND status = $5 AND start_time < $2
	`

	result, err := r.db.Pool().Exec(ctx, query, source, cutoff, string(types.RunStatusFailed), now,
		string(types.RunStatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale runs: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func scanSyncHistory(row pgx.Row) (*models.SyncHistory, error) {
	var (
		h      models.SyncHistory
		mode   string
		status string
	)
	err := row.Scan(
		&h.ID, &h.Source, &mode, &status, &h.StartTime, &h.EndTime, &h.ListingsProcessed,
		&h.ListingsUpserted, &h.AgentsProcessed, &h.AgentsUpserted, &h.WarningCount, &h.Error,
		&h.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	h.Mode = types.SyncMode(mode)
	h.Status = types.RunStatus(status)
	return &h, nil
}
