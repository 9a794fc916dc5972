package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

// Transformer turns raw provider records of one source into canonical models.
// It never fails on malformed field values; those are coerced and reported as warnings.
type Transformer struct {
	source   string
	listings listingAdapter
	members  memberAdapter
}

// New creates a transformer for a source with declared record shapes
func New(source string, listingShape, memberShape Shape) *Transformer {
	return &Transformer{
		source:   source,
		listings: listingAdapterFor(listingShape),
		members:  memberAdapterFor(memberShape),
	}
}

// NewFromNames creates a transformer from configured shape names
func NewFromNames(source, listingShape, memberShape string) (*Transformer, error) {
	ls, err := ParseShape(listingShape)
	if err != nil {
		return nil, fmt.Errorf("source %s listing shape: %w", source, err)
	}
	ms, err := ParseShape(memberShape)
	if err != nil {
		return nil, fmt.Errorf("source %s member shape: %w", source, err)
	}
	if ms == ShapeNested {
		return nil, fmt.Errorf("source %s member shape: nested is not a member layout", source)
	}
	return New(source, ls, ms), nil
}

// Listing projects a raw listing record.
// The returned error is a per-record rejection (undecodable or missing ListingKey);
// warnings are data-shape problems that were coerced to defaults.
func (t *Transformer) Listing(raw json.RawMessage) (*models.Listing, []error, error) {
	decoded, err := t.listings.decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("source %s: %w", t.source, err)
	}

	sf := decoded.fields
	if sf.ListingKey == "" {
		return nil, nil, fmt.Errorf("source %s: listing record has no natural key", t.source)
	}

	if sf.StreetNumber == "" && sf.StreetName == "" && sf.UnparsedAddress != "" {
		sf.StreetNumber, sf.StreetName = SplitAddress(sf.UnparsedAddress)
	}

	listing := &models.Listing{
		Source:          t.source,
		SourceID:        sf.ListingKey,
		ListingID:       sf.ListingID,
		ListPrice:       sf.ListPrice,
		StreetNumber:    sf.StreetNumber,
		StreetName:      sf.StreetName,
		UnitNumber:      sf.UnitNumber,
		City:            sf.City,
		StateOrProvince: sf.StateOrProvince,
		PostalCode:      sf.PostalCode,
		RawStatus:       sf.StandardStatus,
		StatusHistory:   []models.StatusChange{},
		StandardFields:  sf,
		SourceFields:    decoded.sourceFields,
		ModifiedAt:      sf.ModificationTimestamp,
	}

	return listing, toWarnings(decoded.warnings), nil
}

// Member projects a raw member record into an agent with the given origin
func (t *Transformer) Member(raw json.RawMessage, origin types.AgentOrigin) (*models.Agent, []error, error) {
	decoded, err := t.members.decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("source %s: %w", t.source, err)
	}
	if decoded.SourceID == "" {
		return nil, nil, fmt.Errorf("source %s: member record has no natural key", t.source)
	}

	agent := &models.Agent{
		Source:          t.source,
		SourceID:        decoded.SourceID,
		MemberKey:       decoded.MemberKey,
		FullName:        decoded.FullName,
		Email:           decoded.Email,
		Phone:           decoded.Phone,
		OfficeName:      decoded.OfficeName,
		OfficeCity:      decoded.OfficeCity,
		MemberType:      decoded.MemberType,
		Origin:          origin,
		PendingListings: []string{},
	}
	return agent, toWarnings(decoded.warnings), nil
}

// ListingAgent returns the agent identity a listing carries, or nil when the
// listing has no agent key of its own. Identities are never synthesized from names.
func ListingAgent(listing *models.Listing) *models.Agent {
	sf := listing.StandardFields
	if sf.ListAgentKey == "" {
		return nil
	}
	return &models.Agent{
		Source:          listing.Source,
		SourceID:        sf.ListAgentKey,
		MemberKey:       sf.ListAgentMlsID,
		FullName:        sf.ListAgentFullName,
		Email:           sf.ListAgentEmail,
		Phone:           sf.ListAgentPhone,
		OfficeName:      sf.ListOfficeName,
		Origin:          types.AgentOriginListing,
		PendingListings: []string{},
	}
}

// ContentHash fingerprints the canonical projection plus the resolved agent key
func ContentHash(listing *models.Listing) string {
	payload := struct {
		Fields   models.StandardFields `json:"f"`
		AgentKey string                `json:"a"`
	}{listing.StandardFields, listing.AgentKeyValue()}

	// StandardFields holds only scalar values, so Marshal cannot fail
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func toWarnings(w warnings) []error {
	if len(w.fields) == 0 {
		return nil
	}
	out := make([]error, 0, len(w.fields))
	for _, field := range w.fields {
		out = append(out, apperrors.NewDataShapeError(w.recordKey, field, "malformed value coerced to default"))
	}
	return out
}
