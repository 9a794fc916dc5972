// Package transform maps heterogeneous provider records into the canonical listing and agent model.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mls-sync/internal/models"
)

// Shape names a known provider record layout
type Shape string

const (
	ShapeRESO   Shape = "reso"
	ShapeFlat   Shape = "flat"
	ShapeNested Shape = "nested"
)

// ParseShape parses a configured shape name
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeRESO, "":
		return ShapeRESO, nil
	case ShapeFlat:
		return ShapeFlat, nil
	case ShapeNested:
		return ShapeNested, nil
	default:
		return "", fmt.Errorf("unknown record shape %q", s)
	}
}

// decodedListing is what a shape adapter produces before canonicalization
type decodedListing struct {
	fields       models.StandardFields
	sourceFields map[string]json.RawMessage
	warnings     warnings
}

// listingAdapter decodes one provider shape
type listingAdapter interface {
	shape() Shape
	decode(raw json.RawMessage) (*decodedListing, error)
}

func listingAdapterFor(shape Shape) listingAdapter {
	switch shape {
	case ShapeFlat:
		return flatListingAdapter{}
	case ShapeNested:
		return nestedListingAdapter{}
	default:
		return resoListingAdapter{}
	}
}

// RESO Data Dictionary field names

type resoListing struct {
	ListingKey            flexString
	ListingID             flexString `json:"ListingId"`
	ListPrice             flexFloat
	StandardStatus        flexString
	StreetNumber          flexString
	StreetName            flexString
	UnitNumber            flexString
	UnparsedAddress       flexString
	City                  flexString
	StateOrProvince       flexString
	PostalCode            flexString
	PropertyType          flexString
	BedroomsTotal         flexFloat
	BathroomsTotalInteger flexFloat
	LivingArea            flexFloat
	ListAgentKey          flexString
	ListAgentID           flexString `json:"ListAgentId"`
	ListAgentMlsID        flexString `json:"ListAgentMlsId"`
	ListAgentFullName     flexString
	ListAgentEmail        flexString
	ListAgentDirectPhone  flexString
	ListOfficeName        flexString
	ModificationTimestamp flexString
}

var resoListingPromoted = []string{
	"ListingKey", "ListingId", "ListPrice", "StandardStatus", "StreetNumber", "StreetName",
	"UnitNumber", "UnparsedAddress", "City", "StateOrProvince", "PostalCode", "PropertyType",
	"BedroomsTotal", "BathroomsTotalInteger", "LivingArea", "ListAgentKey", "ListAgentId", "ListAgentMlsId",
	"ListAgentFullName", "ListAgentEmail", "ListAgentDirectPhone", "ListOfficeName",
	"ModificationTimestamp",
}

type resoListingAdapter struct{}

func (resoListingAdapter) shape() Shape { return ShapeRESO }

func (resoListingAdapter) decode(raw json.RawMessage) (*decodedListing, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}
	var rec resoListing
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode RESO listing: %w", err)
	}

	out := &decodedListing{sourceFields: map[string]json.RawMessage{}}
	w := &out.warnings
	w.recordKey = rec.ListingKey.Value
	out.fields = models.StandardFields{
		ListingKey:            w.str("ListingKey", rec.ListingKey),
		ListingID:             w.str("ListingId", rec.ListingID),
		ListPrice:             w.float("ListPrice", rec.ListPrice),
		StandardStatus:        w.str("StandardStatus", rec.StandardStatus),
		StreetNumber:          w.str("StreetNumber", rec.StreetNumber),
		StreetName:            w.str("StreetName", rec.StreetName),
		UnitNumber:            w.str("UnitNumber", rec.UnitNumber),
		UnparsedAddress:       w.str("UnparsedAddress", rec.UnparsedAddress),
		City:                  w.str("City", rec.City),
		StateOrProvince:       w.str("StateOrProvince", rec.StateOrProvince),
		PostalCode:            w.str("PostalCode", rec.PostalCode),
		PropertyType:          w.str("PropertyType", rec.PropertyType),
		BedroomsTotal:         roundInt(w.float("BedroomsTotal", rec.BedroomsTotal)),
		BathroomsTotal:        w.float("BathroomsTotalInteger", rec.BathroomsTotalInteger),
		LivingArea:            w.float("LivingArea", rec.LivingArea),
		ListAgentKey:          firstNonEmpty(w.str("ListAgentKey", rec.ListAgentKey), w.str("ListAgentId", rec.ListAgentID)),
		ListAgentMlsID:        w.str("ListAgentMlsId", rec.ListAgentMlsID),
		ListAgentFullName:     w.str("ListAgentFullName", rec.ListAgentFullName),
		ListAgentEmail:        w.str("ListAgentEmail", rec.ListAgentEmail),
		ListAgentPhone:        w.str("ListAgentDirectPhone", rec.ListAgentDirectPhone),
		ListOfficeName:        w.str("ListOfficeName", rec.ListOfficeName),
		ModificationTimestamp: w.timestamp("ModificationTimestamp", rec.ModificationTimestamp),
	}
	passthrough(out.sourceFields, obj, resoListingPromoted, "")
	return out, nil
}

// Flat snake_case feeds

type flatListing struct {
	ListingID    flexString `json:"listing_id"`
	MLSNumber    flexString `json:"mls_number"`
	ListPrice    flexFloat  `json:"list_price"`
	Status       flexString `json:"status"`
	StreetNumber flexString `json:"street_number"`
	StreetName   flexString `json:"street_name"`
	UnitNumber   flexString `json:"unit_number"`
	Address      flexString `json:"address"`
	City         flexString `json:"city"`
	State        flexString `json:"state"`
	Zip          flexString `json:"zip"`
	PropertyType flexString `json:"property_type"`
	Beds         flexFloat  `json:"beds"`
	Baths        flexFloat  `json:"baths"`
	Sqft         flexFloat  `json:"sqft"`
	AgentID      flexString `json:"agent_id"`
	AgentMLSID   flexString `json:"agent_mls_id"`
	AgentName    flexString `json:"agent_name"`
	AgentEmail   flexString `json:"agent_email"`
	AgentPhone   flexString `json:"agent_phone"`
	OfficeName   flexString `json:"office_name"`
	ModifiedAt   flexString `json:"modified_at"`
}

var flatListingPromoted = []string{
	"listing_id", "mls_number", "list_price", "status", "street_number", "street_name",
	"unit_number", "address", "city", "state", "zip", "property_type", "beds", "baths", "sqft",
	"agent_id", "agent_mls_id", "agent_name", "agent_email", "agent_phone", "office_name",
	"modified_at",
}

type flatListingAdapter struct{}

func (flatListingAdapter) shape() Shape { return ShapeFlat }

func (flatListingAdapter) decode(raw json.RawMessage) (*decodedListing, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}
	var rec flatListing
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode flat listing: %w", err)
	}

	out := &decodedListing{sourceFields: map[string]json.RawMessage{}}
	w := &out.warnings
	w.recordKey = rec.ListingID.Value
	out.fields = models.StandardFields{
		ListingKey:            w.str("listing_id", rec.ListingID),
		ListingID:             w.str("mls_number", rec.MLSNumber),
		ListPrice:             w.float("list_price", rec.ListPrice),
		StandardStatus:        w.str("status", rec.Status),
		StreetNumber:          w.str("street_number", rec.StreetNumber),
		StreetName:            w.str("street_name", rec.StreetName),
		UnitNumber:            w.str("unit_number", rec.UnitNumber),
		UnparsedAddress:       w.str("address", rec.Address),
		City:                  w.str("city", rec.City),
		StateOrProvince:       w.str("state", rec.State),
		PostalCode:            w.str("zip", rec.Zip),
		PropertyType:          w.str("property_type", rec.PropertyType),
		BedroomsTotal:         roundInt(w.float("beds", rec.Beds)),
		BathroomsTotal:        w.float("baths", rec.Baths),
		LivingArea:            w.float("sqft", rec.Sqft),
		ListAgentKey:          w.str("agent_id", rec.AgentID),
		ListAgentMlsID:        w.str("agent_mls_id", rec.AgentMLSID),
		ListAgentFullName:     w.str("agent_name", rec.AgentName),
		ListAgentEmail:        w.str("agent_email", rec.AgentEmail),
		ListAgentPhone:        w.str("agent_phone", rec.AgentPhone),
		ListOfficeName:        w.str("office_name", rec.OfficeName),
		ModificationTimestamp: w.timestamp("modified_at", rec.ModifiedAt),
	}
	passthrough(out.sourceFields, obj, flatListingPromoted, "")
	return out, nil
}

// Nested feeds split a listing into listing/address/agent sections

type nestedListing struct {
	Listing struct {
		ID           flexString `json:"id"`
		MLSNumber    flexString `json:"mls_number"`
		Price        flexFloat  `json:"price"`
		Status       flexString `json:"status"`
		PropertyType flexString `json:"property_type"`
		Beds         flexFloat  `json:"beds"`
		Baths        flexFloat  `json:"baths"`
		Sqft         flexFloat  `json:"sqft"`
		ModifiedAt   flexString `json:"modified_at"`
	} `json:"listing"`
	Address struct {
		StreetNumber flexString `json:"street_number"`
		StreetName   flexString `json:"street_name"`
		Unit         flexString `json:"unit"`
		Full         flexString `json:"full"`
		City         flexString `json:"city"`
		State        flexString `json:"state"`
		Zip          flexString `json:"zip"`
	} `json:"address"`
	Agent struct {
		ID     flexString `json:"id"`
		MLSID  flexString `json:"mls_id"`
		Name   flexString `json:"name"`
		Email  flexString `json:"email"`
		Phone  flexString `json:"phone"`
		Office flexString `json:"office"`
	} `json:"agent"`
}

var nestedSections = []string{"listing", "address", "agent"}

var nestedPromoted = map[string][]string{
	"listing": {"id", "mls_number", "price", "status", "property_type", "beds", "baths", "sqft", "modified_at"},
	"address": {"street_number", "street_name", "unit", "full", "city", "state", "zip"},
	"agent":   {"id", "mls_id", "name", "email", "phone", "office"},
}

type nestedListingAdapter struct{}

func (nestedListingAdapter) shape() Shape { return ShapeNested }

func (nestedListingAdapter) decode(raw json.RawMessage) (*decodedListing, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}

	out := &decodedListing{sourceFields: map[string]json.RawMessage{}}
	w := &out.warnings

	// each section must be an object; anything else is a shape warning, decodes empty
	// and is kept raw under the section name
	clean := make(map[string]json.RawMessage, len(obj))
	for key, value := range obj {
		section, isSection := sectionName(key)
		if !isSection {
			out.sourceFields[key] = value
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(value, &inner); err != nil {
			w.fields = append(w.fields, section)
			out.sourceFields[section] = value
			continue
		}
		clean[key] = value
		passthrough(out.sourceFields, inner, nestedPromoted[section], section+".")
	}

	cleanRaw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode nested listing: %w", err)
	}
	var rec nestedListing
	if err := json.Unmarshal(cleanRaw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode nested listing: %w", err)
	}

	w.recordKey = rec.Listing.ID.Value
	out.fields = models.StandardFields{
		ListingKey:            w.str("listing.id", rec.Listing.ID),
		ListingID:             w.str("listing.mls_number", rec.Listing.MLSNumber),
		ListPrice:             w.float("listing.price", rec.Listing.Price),
		StandardStatus:        w.str("listing.status", rec.Listing.Status),
		PropertyType:          w.str("listing.property_type", rec.Listing.PropertyType),
		BedroomsTotal:         roundInt(w.float("listing.beds", rec.Listing.Beds)),
		BathroomsTotal:        w.float("listing.baths", rec.Listing.Baths),
		LivingArea:            w.float("listing.sqft", rec.Listing.Sqft),
		ModificationTimestamp: w.timestamp("listing.modified_at", rec.Listing.ModifiedAt),
		StreetNumber:          w.str("address.street_number", rec.Address.StreetNumber),
		StreetName:            w.str("address.street_name", rec.Address.StreetName),
		UnitNumber:            w.str("address.unit", rec.Address.Unit),
		UnparsedAddress:       w.str("address.full", rec.Address.Full),
		City:                  w.str("address.city", rec.Address.City),
		StateOrProvince:       w.str("address.state", rec.Address.State),
		PostalCode:            w.str("address.zip", rec.Address.Zip),
		ListAgentKey:          w.str("agent.id", rec.Agent.ID),
		ListAgentMlsID:        w.str("agent.mls_id", rec.Agent.MLSID),
		ListAgentFullName:     w.str("agent.name", rec.Agent.Name),
		ListAgentEmail:        w.str("agent.email", rec.Agent.Email),
		ListAgentPhone:        w.str("agent.phone", rec.Agent.Phone),
		ListOfficeName:        w.str("agent.office", rec.Agent.Office),
	}
	return out, nil
}

func sectionName(key string) (string, bool) {
	for _, s := range nestedSections {
		if strings.EqualFold(key, s) {
			return s, true
		}
	}
	return "", false
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
