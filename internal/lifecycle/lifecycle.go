// Package lifecycle derives canonical listing states from provider status strings
// and maintains the append-only status history.
package lifecycle

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

// statusTable maps a normalized raw status to its lifecycle state
var statusTable = map[string]types.LifecycleStatus{
	"active":                   types.LifecycleActive,
	"new":                      types.LifecycleActive,
	"coming soon":              types.LifecycleActive,
	"back on market":           types.LifecycleActive,
	"pending":                  types.LifecyclePending,
	"under contract":           types.LifecyclePending,
	"active under contract":    types.LifecyclePending,
	"contingent":               types.LifecyclePending,
	"active contingent":        types.LifecyclePending,
	"pending continue to show": types.LifecyclePending,
	"closed":                   types.LifecycleClosed,
	"canceled":                 types.LifecycleCanceled,
	"cancelled":                types.LifecycleCanceled,
	"terminated":               types.LifecycleCanceled,
	"temporarily off market":   types.LifecycleWithdrawn,
	"hold":                     types.LifecycleWithdrawn,
	"lapsed":                   types.LifecycleExpired,
	"sold":                     types.LifecycleArchived,
	"expired":                  types.LifecycleArchived,
	"withdrawn":                types.LifecycleArchived,
}

// Derive maps a raw provider status to its lifecycle state.
// Known reports false when the status is not in the table; such statuses map to Active.
func Derive(rawStatus string) (status types.LifecycleStatus, archived bool, known bool) {
	key := normalize(rawStatus)
	status, known = statusTable[key]
	if !known {
		return types.LifecycleActive, false, false
	}
	return status, status == types.LifecycleArchived, true
}

// Apply sets next's lifecycle state from its raw status and carries prev's history forward,
// appending one entry only when the state changed. prev may be nil for a first sighting.
// It reports whether the raw status was recognized.
func Apply(prev, next *models.Listing, now time.Time) bool {
	status, archived, known := Derive(next.RawStatus)
	next.LifecycleStatus = status
	next.IsArchived = archived

	var history []models.StatusChange
	if prev != nil {
		history = make([]models.StatusChange, len(prev.StatusHistory), len(prev.StatusHistory)+1)
		copy(history, prev.StatusHistory)
		if prev.LifecycleStatus != "" && prev.LifecycleStatus != status {
			history = append(history, models.StatusChange{
				FromStatus: prev.LifecycleStatus,
				ToStatus:   status,
				ChangedAt:  now.UTC(),
			})
		}
	}
	if history == nil {
		history = []models.StatusChange{}
	}
	next.StatusHistory = history
	return known
}

// Classify reports how a listing changed between two syncs; prev may be nil
func Classify(prev, next *models.Listing) types.ChangeKind {
	if prev == nil {
		switch next.LifecycleStatus {
		case types.LifecycleActive:
			return types.ChangeNewActive
		case types.LifecyclePending:
			return types.ChangeNewPending
		default:
			return types.ChangeOther
		}
	}

	switch {
	case prev.LifecycleStatus == types.LifecycleActive && next.LifecycleStatus == types.LifecyclePending:
		return types.ChangeActiveToPending
	case prev.LifecycleStatus == types.LifecyclePending && next.LifecycleStatus == types.LifecycleActive:
		return types.ChangePendingToActive
	case prev.LifecycleStatus != next.LifecycleStatus:
		return types.ChangeOther
	case prev.ContentHash != "" && prev.ContentHash == next.ContentHash && prev.RawStatus == next.RawStatus:
		return types.ChangeUnchanged
	default:
		return types.ChangeOther
	}
}

func normalize(raw string) string {
	return strings.Join(strings.Fields(cases.Fold().String(raw)), " ")
}
