package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

const agentColumns = `
	source, source_id, member_key, full_name, email, phone, office_name, office_city,
	member_type, origin, pending_listings, updated_at`

const insertAgentSQL = `
	INSERT INTO agents (` + agentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const upsertAgentSQL = insertAgentSQL + `
	ON CONFLICT (source, source_id) DO UPDATE SET
		member_key = EXCLUDED.member_key,
		full_name = EXCLUDED.full_name,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		office_name = EXCLUDED.office_name,
		office_city = EXCLUDED.office_city,
		member_type = EXCLUDED.member_type,
		origin = EXCLUDED.origin,
		pending_listings = EXCLUDED.pending_listings,
		updated_at = EXCLUDED.updated_at`

// AgentRepository handles agent persistence
type AgentRepository struct {
	db        *PostgresDB
	batchSize int
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *PostgresDB, batchSize int) *AgentRepository {
	return &AgentRepository{db: db, batchSize: batchSize}
}

// Get retrieves an agent by source id, falling back to the secondary member key
func (r *AgentRepository) Get(ctx context.Context, source, key string) (*models.Agent, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE source = $1 AND (source_id = $2 OR member_key = $2)
		ORDER BY (source_id = $2) DESC
		LIMIT 1
	`

	agent, err := scanAgent(r.db.Pool().QueryRow(ctx, query, source, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("agent", key)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// List returns one page of a source's agents plus the total count
func (r *AgentRepository) List(ctx context.Context, source string, page models.Pagination) ([]*models.Agent, int, error) {
	var total int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE source = $1`, source).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count agents: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE source = $1 ORDER BY full_name, source_id LIMIT $2 OFFSET $3`,
		source, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents, err := collectAgents(rows)
	if err != nil {
		return nil, 0, err
	}
	return agents, total, nil
}

// ListBySource loads every stored agent of a source in stable order
func (r *AgentRepository) ListBySource(ctx context.Context, source string) ([]*models.Agent, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE source = $1 ORDER BY source_id`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents for %s: %w", source, err)
	}
	defer rows.Close()

	return collectAgents(rows)
}

// UpsertBatch writes agents in chunked batches inside one transaction
func (r *AgentRepository) UpsertBatch(ctx context.Context, agents []*models.Agent) (int, error) {
	if len(agents) == 0 {
		return 0, nil
	}

	params, err := agentParams(agents)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := sendInChunks(ctx, tx, len(params), r.batchSize, func(b *pgx.Batch, i int) {
		b.Queue(upsertAgentSQL, params[i]...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert agents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit agents: %w", err)
	}
	return n, nil
}

func agentParams(agents []*models.Agent) ([][]interface{}, error) {
	out := make([][]interface{}, 0, len(agents))
	for _, a := range agents {
		pending := a.PendingListings
		if pending == nil {
			pending = []string{}
		}
		pendingJSON, err := json.Marshal(pending)
		if err != nil {
			return nil, fmt.Errorf("failed to encode pending listings for %s: %w", a.SourceID, err)
		}

		updated := a.UpdatedAt
		if updated.IsZero() {
			updated = time.Now().UTC()
		}

		out = append(out, []interface{}{
			a.Source, a.SourceID, a.MemberKey, a.FullName, a.Email, a.Phone, a.OfficeName, a.OfficeCity,
			a.MemberType, string(a.Origin), pendingJSON, updated,
		})
	}
	return out, nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var (
		a           models.Agent
		origin      string
		pendingJSON []byte
	)

	err := row.Scan(
		&a.Source, &a.SourceID, &a.MemberKey, &a.FullName, &a.Email, &a.Phone, &a.OfficeName, &a.OfficeCity,
		&a.MemberType, &origin, &pendingJSON, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Origin = types.AgentOrigin(origin)
	a.PendingListings = []string{}
	if len(pendingJSON) > 0 {
		if err := json.Unmarshal(pendingJSON, &a.PendingListings); err != nil {
			return nil, fmt.Errorf("failed to decode pending listings for %s: %w", a.SourceID, err)
		}
	}
	return &a, nil
}

func collectAgents(rows pgx.Rows) ([]*models.Agent, error) {
	agents := []*models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}
