package models

import (
	"time"

	"github.com/mls-sync/internal/types"
)

// StatusEvent is one lifecycle transition observed during a sync run, forwarded to the audit sink
type StatusEvent struct {
	Source     string                `json:"source"`
	ListingKey string                `json:"listingKey"`
	RunID      string                `json:"runId"`
	FromStatus types.LifecycleStatus `json:"fromStatus"`
	ToStatus   types.LifecycleStatus `json:"toStatus"`
	ChangeKind types.ChangeKind      `json:"changeKind"`
	ChangedAt  time.Time             `json:"changedAt"`
}
