// Package types provides common type definitions for the MLS sync system.
package types

// LifecycleStatus represents the canonical marketing state of a listing
type LifecycleStatus string

const (
	// LifecycleActive represents a listing currently on the market
	LifecycleActive LifecycleStatus = "Active"
	// LifecyclePending represents a listing under contract
	LifecyclePending LifecycleStatus = "Pending"
	// LifecycleClosed represents a closed transaction
	LifecycleClosed LifecycleStatus = "Closed"
	// LifecycleExpired represents a lapsed listing agreement
	LifecycleExpired LifecycleStatus = "Expired"
	// LifecycleWithdrawn represents a listing temporarily taken off the market
	LifecycleWithdrawn LifecycleStatus = "Withdrawn"
	// LifecycleCanceled represents a terminated listing agreement
	LifecycleCanceled LifecycleStatus = "Canceled"
	// LifecycleArchived represents a listing no longer tracked as live inventory
	LifecycleArchived LifecycleStatus = "Archived"
)

// AllLifecycleStatuses lists every lifecycle state
var AllLifecycleStatuses = []LifecycleStatus{
	LifecycleActive,
	LifecyclePending,
	LifecycleClosed,
	LifecycleExpired,
	LifecycleWithdrawn,
	LifecycleCanceled,
	LifecycleArchived,
}

// IsValid reports whether s is a known lifecycle state
func (s LifecycleStatus) IsValid() bool {
	for _, known := range AllLifecycleStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// SyncMode represents how a sync run ingests a source
type SyncMode string

const (
	// SyncModeFull clears and reloads the entire source
	SyncModeFull SyncMode = "full"
	// SyncModeIncremental ingests records changed since the last successful run
	SyncModeIncremental SyncMode = "incremental"
)

// ParseSyncMode parses a sync mode string
func ParseSyncMode(mode string) (SyncMode, bool) {
	switch SyncMode(mode) {
	case SyncModeFull:
		return SyncModeFull, true
	case SyncModeIncremental, "":
		return SyncModeIncremental, true
	default:
		return "", false
	}
}

// RunStatus represents the status of a sync run
type RunStatus string

const (
	// RunStatusInProgress represents a run that has started but not been finalized
	RunStatusInProgress RunStatus = "in_progress"
	// RunStatusSuccess represents a run that completed
	RunStatusSuccess RunStatus = "success"
	// RunStatusFailed represents a run that aborted
	RunStatusFailed RunStatus = "failed"
)

// ChangeKind classifies how a listing changed between two syncs
type ChangeKind string

const (
	ChangeNewActive       ChangeKind = "new_active"
	ChangeNewPending      ChangeKind = "new_pending"
	ChangeActiveToPending ChangeKind = "active_to_pending"
	ChangePendingToActive ChangeKind = "pending_to_active"
	ChangeOther           ChangeKind = "other"
	ChangeUnchanged       ChangeKind = "unchanged"
)

// AgentOrigin records where an agent identity came from
type AgentOrigin string

const (
	// AgentOriginExport is a member from the bulk member export
	AgentOriginExport AgentOrigin = "export"
	// AgentOriginLookup is a member fetched individually during enrichment
	AgentOriginLookup AgentOrigin = "lookup"
	// AgentOriginListing is an identity carried on a listing's agent fields
	AgentOriginListing AgentOrigin = "listing"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
