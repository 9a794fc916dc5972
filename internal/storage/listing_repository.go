package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

const listingColumns = `
	source, source_id, listing_id, list_price, street_number, street_name, unit_number,
	city, state_or_province, postal_code, raw_status, lifecycle_status, status_history,
	agent_key, is_archived, standard_fields, source_fields, content_hash, modified_at,
	first_seen_at, last_synced_at`

const insertListingSQL = `
	INSERT INTO listings (` + listingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

// The history column keeps whichever array is longer so a stale writer can never truncate the audit trail.
const upsertListingSQL = insertListingSQL + `
	ON CONFLICT (source, source_id) DO UPDATE SET
		listing_id = EXCLUDED.listing_id,
		list_price = EXCLUDED.list_price,
		street_number = EXCLUDED.street_number,
		street_name = EXCLUDED.street_name,
		unit_number = EXCLUDED.unit_number,
		city = EXCLUDED.city,
		state_or_province = EXCLUDED.state_or_province,
		postal_code = EXCLUDED.postal_code,
		raw_status = EXCLUDED.raw_status,
		lifecycle_status = EXCLUDED.lifecycle_status,
		status_history = CASE
			WHEN jsonb_array_length(EXCLUDED.status_history) >= jsonb_array_length(listings.status_history)
			THEN EXCLUDED.status_history
			ELSE listings.status_history
		END,
		agent_key = EXCLUDED.agent_key,
		is_archived = EXCLUDED.is_archived,
		standard_fields = EXCLUDED.standard_fields,
		source_fields = EXCLUDED.source_fields,
		content_hash = EXCLUDED.content_hash,
		modified_at = EXCLUDED.modified_at,
		last_synced_at = EXCLUDED.last_synced_at`

// ListingFilter narrows a listing query within one source
type ListingFilter struct {
	Source   string
	Status   types.LifecycleStatus
	AgentKey string
}

// ListingRepository handles listing persistence
type ListingRepository struct {
	db        *PostgresDB
	batchSize int
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *PostgresDB, batchSize int) *ListingRepository {
	return &ListingRepository{db: db, batchSize: batchSize}
}

// Get retrieves one listing by natural key
func (r *ListingRepository) Get(ctx context.Context, source, sourceID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE source = $1 AND source_id = $2`

	listing, err := scanListing(r.db.Pool().QueryRow(ctx, query, source, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("listing", sourceID)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

// List returns one page of listings plus the total matching count
func (r *ListingRepository) List(ctx context.Context, filter ListingFilter, page models.Pagination) ([]*models.Listing, int, error) {
	where := []string{"source = $1"}
	args := []interface{}{filter.Source}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("lifecycle_status = $%d", len(args)))
	}
	if filter.AgentKey != "" {
		args = append(args, filter.AgentKey)
		where = append(where, fmt.Sprintf("agent_key = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM listings WHERE %s ORDER BY modified_at DESC NULLS LAST, source_id LIMIT $%d OFFSET $%d`,
		listingColumns, clause, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	listings, err := collectListings(rows)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

// MapBySource loads every stored listing of a source keyed by source id
func (r *ListingRepository) MapBySource(ctx context.Context, source string) (map[string]*models.Listing, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to load listings for %s: %w", source, err)
	}
	defer rows.Close()

	return listingsByKey(rows)
}

// MapByKeys loads the stored listings of a source among the given keys
func (r *ListingRepository) MapByKeys(ctx context.Context, source string, keys []string) (map[string]*models.Listing, error) {
	if len(keys) == 0 {
		return map[string]*models.Listing{}, nil
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE source = $1 AND source_id = ANY($2)`, source, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load listings for %s: %w", source, err)
	}
	defer rows.Close()

	return listingsByKey(rows)
}

// PendingKeysByAgent returns, per agent key, the sorted keys of that agent's pending listings
func (r *ListingRepository) PendingKeysByAgent(ctx context.Context, source string, agentKeys []string) (map[string][]string, error) {
	out := make(map[string][]string, len(agentKeys))
	if len(agentKeys) == 0 {
		return out, nil
	}

	query := `
		SELECT agent_key, source_id
		FROM listings
		WHERE source = $1 AND lifecycle_status = $2 AND agent_key = ANY($3)
		ORDER BY agent_key, source_id
	`

	rows, err := r.db.Pool().Query(ctx, query, source, string(types.LifecyclePending), agentKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agentKey, listingKey string
		if err := rows.Scan(&agentKey, &listingKey); err != nil {
			return nil, fmt.Errorf("failed to scan pending listing: %w", err)
		}
		out[agentKey] = append(out[agentKey], listingKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending listings: %w", err)
	}
	return out, nil
}

// UpsertBatch writes listings in chunked batches inside one transaction
func (r *ListingRepository) UpsertBatch(ctx context.Context, listings []*models.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	params, err := listingParams(listings)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := sendInChunks(ctx, tx, len(params), r.batchSize, func(b *pgx.Batch, i int) {
		b.Queue(upsertListingSQL, params[i]...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert listings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit listings: %w", err)
	}
	return n, nil
}

// listingParams encodes the JSON columns up front so a bad record aborts before any write
func listingParams(listings []*models.Listing) ([][]interface{}, error) {
	out := make([][]interface{}, 0, len(listings))
	for _, l := range listings {
		history := l.StatusHistory
		if history == nil {
			history = []models.StatusChange{}
		}
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return nil, fmt.Errorf("failed to encode status history for %s: %w", l.SourceID, err)
		}
		standardJSON, err := json.Marshal(l.StandardFields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode standard fields for %s: %w", l.SourceID, err)
		}
		sourceFields := l.SourceFields
		if sourceFields == nil {
			sourceFields = map[string]json.RawMessage{}
		}
		sourceJSON, err := json.Marshal(sourceFields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode source fields for %s: %w", l.SourceID, err)
		}

		firstSeen := l.FirstSeenAt
		if firstSeen.IsZero() {
			firstSeen = time.Now().UTC()
		}
		lastSynced := l.LastSyncedAt
		if lastSynced.IsZero() {
			lastSynced = firstSeen
		}

		out = append(out, []interface{}{
			l.Source, l.SourceID, l.ListingID, l.ListPrice, l.StreetNumber, l.StreetName, l.UnitNumber,
			l.City, l.StateOrProvince, l.PostalCode, l.RawStatus, string(l.LifecycleStatus), historyJSON,
			l.AgentKey, l.IsArchived, standardJSON, sourceJSON, l.ContentHash, l.ModifiedAt,
			firstSeen, lastSynced,
		})
	}
	return out, nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var (
		l            models.Listing
		lifecycle    string
		historyJSON  []byte
		standardJSON []byte
		sourceJSON   []byte
	)

	err := row.Scan(
		&l.Source, &l.SourceID, &l.ListingID, &l.ListPrice, &l.StreetNumber, &l.StreetName, &l.UnitNumber,
		&l.City, &l.StateOrProvince, &l.PostalCode, &l.RawStatus, &lifecycle, &historyJSON,
		&l.AgentKey, &l.IsArchived, &standardJSON, &sourceJSON, &l.ContentHash, &l.ModifiedAt,
		&l.FirstSeenAt, &l.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	l.LifecycleStatus = types.LifecycleStatus(lifecycle)
	l.StatusHistory = []models.StatusChange{}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &l.StatusHistory); err != nil {
			return nil, fmt.Errorf("failed to decode status history for %s: %w", l.SourceID, err)
		}
	}
	if len(standardJSON) > 0 {
		if err := json.Unmarshal(standardJSON, &l.StandardFields); err != nil {
			return nil, fmt.Errorf("failed to decode standard fields for %s: %w", l.SourceID, err)
		}
	}
	if len(sourceJSON) > 0 {
		if err := json.Unmarshal(sourceJSON, &l.SourceFields); err != nil {
			return nil, fmt.Errorf("failed to decode source fields for %s: %w", l.SourceID, err)
		}
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	listings := []*models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating listings: %w", err)
	}
	return listings, nil
}

func listingsByKey(rows pgx.Rows) (map[string]*models.Listing, error) {
	listings, err := collectListings(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Listing, len(listings))
	for _, l := range listings {
		out[l.SourceID] = l
	}
	return out, nil
}
