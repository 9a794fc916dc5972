package models

import (
	"time"

	"github.com/mls-sync/internal/types"
)

// Agent represents a canonical agent keyed by (Source, SourceID) with a secondary MemberKey
type Agent struct {
	Source     string            `json:"source" db:"source"`
	SourceID   string            `json:"sourceId" db:"source_id"`
	MemberKey  string            `json:"memberKey,omitempty" db:"member_key"`
	FullName   string            `json:"fullName" db:"full_name"`
	Email      string            `json:"email,omitempty" db:"email"`
	Phone      string            `json:"phone,omitempty" db:"phone"`
	OfficeName string            `json:"officeName,omitempty" db:"office_name"`
	OfficeCity string            `json:"officeCity,omitempty" db:"office_city"`
	MemberType string            `json:"memberType,omitempty" db:"member_type"`
	Origin     types.AgentOrigin `json:"origin" db:"origin"`
	// PendingListings is a denormalized cache rebuilt on each sync; it is not authoritative.
	PendingListings []string  `json:"pendingListings" db:"pending_listings"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}
