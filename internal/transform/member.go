package transform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodedMember is the canonical projection of a member record
type decodedMember struct {
	SourceID   string
	MemberKey  string
	FullName   string
	Email      string
	Phone      string
	OfficeName string
	OfficeCity string
	MemberType string
	warnings   warnings
}

type memberAdapter interface {
	shape() Shape
	decode(raw json.RawMessage) (*decodedMember, error)
}

func memberAdapterFor(shape Shape) memberAdapter {
	if shape == ShapeFlat {
		return flatMemberAdapter{}
	}
	return resoMemberAdapter{}
}

type resoMember struct {
	MemberKey         flexString
	MemberMlsID       flexString `json:"MemberMlsId"`
	MemberFullName    flexString
	MemberFirstName   flexString
	MemberLastName    flexString
	MemberEmail       flexString
	MemberDirectPhone flexString
	MemberMobilePhone flexString
	MemberOfficePhone flexString
	OfficeName        flexString
	MemberCity        flexString
	OfficeCity        flexString
	MemberType        flexString
}

type resoMemberAdapter struct{}

func (resoMemberAdapter) shape() Shape { return ShapeRESO }

func (resoMemberAdapter) decode(raw json.RawMessage) (*decodedMember, error) {
	var rec resoMember
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode RESO member: %w", err)
	}

	out := &decodedMember{}
	w := &out.warnings
	w.recordKey = rec.MemberKey.Value
	out.SourceID = w.str("MemberKey", rec.MemberKey)
	out.MemberKey = w.str("MemberMlsId", rec.MemberMlsID)
	out.FullName = firstNonEmpty(
		w.str("MemberFullName", rec.MemberFullName),
		joinName(w.str("MemberFirstName", rec.MemberFirstName), w.str("MemberLastName", rec.MemberLastName)),
	)
	out.Email = w.str("MemberEmail", rec.MemberEmail)
	out.Phone = firstNonEmpty(
		w.str("MemberDirectPhone", rec.MemberDirectPhone),
		w.str("MemberMobilePhone", rec.MemberMobilePhone),
		w.str("MemberOfficePhone", rec.MemberOfficePhone),
	)
	out.OfficeName = w.str("OfficeName", rec.OfficeName)
	out.OfficeCity = firstNonEmpty(w.str("OfficeCity", rec.OfficeCity), w.str("MemberCity", rec.MemberCity))
	out.MemberType = w.str("MemberType", rec.MemberType)
	return out, nil
}

type flatMember struct {
	AgentID    flexString `json:"agent_id"`
	MLSID      flexString `json:"mls_id"`
	Name       flexString `json:"name"`
	FirstName  flexString `json:"first_name"`
	LastName   flexString `json:"last_name"`
	Email      flexString `json:"email"`
	Phone      flexString `json:"phone"`
	OfficeName flexString `json:"office_name"`
	OfficeCity flexString `json:"office_city"`
	Role       flexString `json:"role"`
}

type flatMemberAdapter struct{}

func (flatMemberAdapter) shape() Shape { return ShapeFlat }

func (flatMemberAdapter) decode(raw json.RawMessage) (*decodedMember, error) {
	var rec flatMember
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode flat member: %w", err)
	}

	out := &decodedMember{}
	w := &out.warnings
	w.recordKey = rec.AgentID.Value
	out.SourceID = w.str("agent_id", rec.AgentID)
	out.MemberKey = w.str("mls_id", rec.MLSID)
	out.FullName = firstNonEmpty(
		w.str("name", rec.Name),
		joinName(w.str("first_name", rec.FirstName), w.str("last_name", rec.LastName)),
	)
	out.Email = w.str("email", rec.Email)
	out.Phone = w.str("phone", rec.Phone)
	out.OfficeName = w.str("office_name", rec.OfficeName)
	out.OfficeCity = w.str("office_city", rec.OfficeCity)
	out.MemberType = w.str("role", rec.Role)
	return out, nil
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
