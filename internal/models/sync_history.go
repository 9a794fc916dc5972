package models

import (
	"time"

	"github.com/mls-sync/internal/types"
)

// SyncHistory represents one sync run; created at start and finalized at end
type SyncHistory struct {
	ID                string          `json:"id" db:"id"`
	Source            string          `json:"source" db:"source"`
	Mode              types.SyncMode  `json:"mode" db:"mode"`
	Status            types.RunStatus `json:"status" db:"status"`
	StartTime         time.Time       `json:"startTime" db:"start_time"`
	EndTime           *time.Time      `json:"endTime,omitempty" db:"end_time"`
	ListingsProcessed int             `json:"listingsProcessed" db:"listings_processed"`
	ListingsUpserted  int             `json:"listingsUpserted" db:"listings_upserted"`
	AgentsProcessed   int             `json:"agentsProcessed" db:"agents_processed"`
	AgentsUpserted    int             `json:"agentsUpserted" db:"agents_upserted"`
	WarningCount      int             `json:"warningCount" db:"warning_count"`
	Error             *string         `json:"error,omitempty" db:"error"`
	DurationMs        int64           `json:"durationMs" db:"duration_ms"`
}

// SyncHistoryFilter narrows a sync history query
type SyncHistoryFilter struct {
	Source string
	Mode   types.SyncMode
	Status types.RunStatus
	Since  *time.Time
}

// Pagination bounds a list query
type Pagination struct {
	Limit  int
	Offset int
}

// Normalize applies default and maximum page sizes
func (p Pagination) Normalize(defaultLimit, maxLimit int) Pagination {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
