package models

import (
	"encoding/json"
	"time"

	"github.com/mls-sync/internal/types"
)

// StatusChange is one entry of a listing's append-only lifecycle audit trail
type StatusChange struct {
	FromStatus types.LifecycleStatus `json:"fromStatus"`
	ToStatus   types.LifecycleStatus `json:"toStatus"`
	ChangedAt  time.Time             `json:"changedAt"`
}

// StandardFields is the canonical projection every source shape maps into
type StandardFields struct {
	ListingKey            string     `json:"listingKey"`
	ListingID             string     `json:"listingId,omitempty"`
	ListPrice             float64    `json:"listPrice"`
	StandardStatus        string     `json:"standardStatus"`
	StreetNumber          string     `json:"streetNumber,omitempty"`
	StreetName            string     `json:"streetName,omitempty"`
	UnitNumber            string     `json:"unitNumber,omitempty"`
	UnparsedAddress       string     `json:"unparsedAddress,omitempty"`
	City                  string     `json:"city,omitempty"`
	StateOrProvince       string     `json:"stateOrProvince,omitempty"`
	PostalCode            string     `json:"postalCode,omitempty"`
	PropertyType          string     `json:"propertyType,omitempty"`
	BedroomsTotal         int        `json:"bedroomsTotal"`
	BathroomsTotal        float64    `json:"bathroomsTotal"`
	LivingArea            float64    `json:"livingArea"`
	ListAgentKey          string     `json:"listAgentKey,omitempty"`
	ListAgentMlsID        string     `json:"listAgentMlsId,omitempty"`
	ListAgentFullName     string     `json:"listAgentFullName,omitempty"`
	ListAgentEmail        string     `json:"listAgentEmail,omitempty"`
	ListAgentPhone        string     `json:"listAgentPhone,omitempty"`
	ListOfficeName        string     `json:"listOfficeName,omitempty"`
	ModificationTimestamp *time.Time `json:"modificationTimestamp,omitempty"`
}

// Listing represents a canonical listing keyed by (Source, SourceID)
type Listing struct {
	Source          string                     `json:"source" db:"source"`
	SourceID        string                     `json:"sourceId" db:"source_id"`
	ListingID       string                     `json:"listingId" db:"listing_id"`
	ListPrice       float64                    `json:"listPrice" db:"list_price"`
	StreetNumber    string                     `json:"streetNumber" db:"street_number"`
	StreetName      string                     `json:"streetName" db:"street_name"`
	UnitNumber      string                     `json:"unitNumber,omitempty" db:"unit_number"`
	City            string                     `json:"city" db:"city"`
	StateOrProvince string                     `json:"stateOrProvince" db:"state_or_province"`
	PostalCode      string                     `json:"postalCode" db:"postal_code"`
	RawStatus       string                     `json:"rawStatus" db:"raw_status"`
	LifecycleStatus types.LifecycleStatus      `json:"lifecycleStatus" db:"lifecycle_status"`
	StatusHistory   []StatusChange             `json:"statusHistory" db:"status_history"`
	AgentKey        *string                    `json:"agentKey" db:"agent_key"`
	IsArchived      bool                       `json:"isArchived" db:"is_archived"`
	StandardFields  StandardFields             `json:"standardFields" db:"standard_fields"`
	SourceFields    map[string]json.RawMessage `json:"sourceFields,omitempty" db:"source_fields"`
	ContentHash     string                     `json:"contentHash" db:"content_hash"`
	ModifiedAt      *time.Time                 `json:"modifiedAt,omitempty" db:"modified_at"`
	FirstSeenAt     time.Time                  `json:"firstSeenAt" db:"first_seen_at"`
	LastSyncedAt    time.Time                  `json:"lastSyncedAt" db:"last_synced_at"`
}

// AgentKeyValue returns the agent key or an empty string when unresolved
func (l *Listing) AgentKeyValue() string {
	if l.AgentKey == nil {
		return ""
	}
	return *l.AgentKey
}
