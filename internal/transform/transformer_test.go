package transform

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mls-sync/internal/errors"
	"github.com/mls-sync/internal/types"
)

func TestTransformer_ListingShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		raw   string
	}{
		{
			name:  "reso",
			shape: ShapeRESO,
			raw: `{"ListingKey":"L1","ListingId":"MLS-1","ListPrice":"450000","StandardStatus":"Active",
				"UnparsedAddress":"123 Main St","City":"Austin","StateOrProvince":"TX","PostalCode":"78701",
				"BedroomsTotal":3,"ListAgentKey":"A1","ListAgentFullName":"Jane Doe",
				"ModificationTimestamp":"2024-05-01T10:00:00Z","PoolFeatures":["Heated"]}`,
		},
		{
			name:  "reso with odd casing",
			shape: ShapeRESO,
			raw: `{"listingkey":"L1","LISTINGID":"MLS-1","listprice":450000,"standardstatus":"Active",
				"unparsedaddress":"123 Main St","city":"Austin","stateorprovince":"TX","postalcode":"78701",
				"bedroomstotal":"3","listagentkey":"A1","listagentfullname":"Jane Doe",
				"modificationtimestamp":"2024-05-01T10:00:00Z","PoolFeatures":["Heated"]}`,
		},
		{
			name:  "flat",
			shape: ShapeFlat,
			raw: `{"listing_id":"L1","mls_number":"MLS-1","list_price":450000,"status":"Active",
				"address":"123 Main St","city":"Austin","state":"TX","zip":"78701","beds":3,
				"agent_id":"A1","agent_name":"Jane Doe","modified_at":"2024-05-01T10:00:00Z",
				"PoolFeatures":["Heated"]}`,
		},
		{
			name:  "nested",
			shape: ShapeNested,
			raw: `{"listing":{"id":"L1","mls_number":"MLS-1","price":"450,000","status":"Active","beds":3,
				"modified_at":"2024-05-01T10:00:00Z","PoolFeatures":["Heated"]},
				"address":{"full":"123 Main St","city":"Austin","state":"TX","zip":"78701"},
				"agent":{"id":"A1","name":"Jane Doe"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("demo", tt.shape, ShapeRESO)
			listing, warnings, err := tr.Listing(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Empty(t, warnings)

			assert.Equal(t, "demo", listing.Source)
			assert.Equal(t, "L1", listing.SourceID)
			assert.Equal(t, "MLS-1", listing.ListingID)
			assert.Equal(t, 450000.0, listing.ListPrice)
			assert.Equal(t, "123", listing.StreetNumber)
			assert.Equal(t, "Main St", listing.StreetName)
			assert.Equal(t, "Austin", listing.City)
			assert.Equal(t, "TX", listing.StateOrProvince)
			assert.Equal(t, "Active", listing.RawStatus)
			assert.Equal(t, 3, listing.StandardFields.BedroomsTotal)
			assert.Equal(t, "A1", listing.StandardFields.ListAgentKey)
			require.NotNil(t, listing.ModifiedAt)
			assert.True(t, listing.ModifiedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

			var passthroughKeys []string
			for k := range listing.SourceFields {
				passthroughKeys = append(passthroughKeys, k)
			}
			require.Len(t, passthroughKeys, 1)
			assert.True(t, strings.HasSuffix(passthroughKeys[0], "PoolFeatures"))
		})
	}
}

func TestTransformer_NestedKeepsUnpromotedTopLevel(t *testing.T) {
	tr := New("demo", ShapeNested, ShapeRESO)

	t.Run("extra top-level keys", func(t *testing.T) {
		raw := `{"listing":{"id":"L1","status":"Active"},"address":{"city":"Austin"},"agent":{"id":"A1"},
			"photos":["p1.jpg"],"virtual_tour":"http://tour.example/1"}`

		listing, warnings, err := tr.Listing(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.JSONEq(t, `["p1.jpg"]`, string(listing.SourceFields["photos"]))
		assert.JSONEq(t, `"http://tour.example/1"`, string(listing.SourceFields["virtual_tour"]))
		assert.Len(t, listing.SourceFields, 2)
	})

	t.Run("section that is not an object", func(t *testing.T) {
		raw := `{"listing":{"id":"L1","status":"Active"},"address":"123 Main St Austin"}`

		listing, warnings, err := tr.Listing(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Len(t, warnings, 1)
		assert.Equal(t, "", listing.City)
		assert.JSONEq(t, `"123 Main St Austin"`, string(listing.SourceFields["address"]))
	})
}

func TestTransformer_MalformedValuesWarn(t *testing.T) {
	tr := New("demo", ShapeRESO, ShapeRESO)
	raw := `{"ListingKey":"L1","ListPrice":"call for price","City":{"name":"Austin"},"StandardStatus":"Active",
		"ModificationTimestamp":"yesterday"}`

	listing, warnings, err := tr.Listing(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, 0.0, listing.ListPrice)
	assert.Equal(t, "", listing.City)
	assert.Nil(t, listing.ModifiedAt)
	require.Len(t, warnings, 3)
	for _, w := range warnings {
		assert.True(t, apperrors.IsWarning(w))
	}
}

func TestTransformer_AbsentOptionalFieldsAreSilent(t *testing.T) {
	tr := New("demo", ShapeRESO, ShapeRESO)
	listing, warnings, err := tr.Listing(json.RawMessage(`{"ListingKey":"L1"}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "", listing.RawStatus)
	assert.Nil(t, listing.ModifiedAt)
}

func TestTransformer_RejectsRecordsWithoutKey(t *testing.T) {
	tr := New("demo", ShapeRESO, ShapeRESO)

	_, _, err := tr.Listing(json.RawMessage(`{"ListPrice":1}`))
	assert.Error(t, err)

	_, _, err = tr.Listing(json.RawMessage(`"not an object"`))
	assert.Error(t, err)

	_, _, err = tr.Member(json.RawMessage(`{"MemberFullName":"Nobody"}`), types.AgentOriginExport)
	assert.Error(t, err)
}

func TestTransformer_ExplicitStreetFieldsWin(t *testing.T) {
	tr := New("demo", ShapeRESO, ShapeRESO)
	raw := `{"ListingKey":"L1","StreetNumber":"9","StreetName":"Elm","UnparsedAddress":"123 Main St"}`

	listing, _, err := tr.Listing(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, "9", listing.StreetNumber)
	assert.Equal(t, "Elm", listing.StreetName)
}

func TestTransformer_Members(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		raw   string
	}{
		{
			name:  "reso",
			shape: ShapeRESO,
			raw: `{"MemberKey":"K1","MemberMlsId":"M1","MemberFirstName":"Jane","MemberLastName":"Doe",
				"MemberEmail":"jane@example.com","MemberMobilePhone":"555-0100","OfficeName":"Acme Realty",
				"MemberCity":"Austin","MemberType":"Broker"}`,
		},
		{
			name:  "flat",
			shape: ShapeFlat,
			raw: `{"agent_id":"K1","mls_id":"M1","name":"Jane Doe","email":"jane@example.com",
				"phone":"555-0100","office_name":"Acme Realty","office_city":"Austin","role":"Broker"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("demo", ShapeRESO, tt.shape)
			agent, warnings, err := tr.Member(json.RawMessage(tt.raw), types.AgentOriginExport)
			require.NoError(t, err)
			assert.Empty(t, warnings)

			assert.Equal(t, "K1", agent.SourceID)
			assert.Equal(t, "M1", agent.MemberKey)
			assert.Equal(t, "Jane Doe", agent.FullName)
			assert.Equal(t, "jane@example.com", agent.Email)
			assert.Equal(t, "555-0100", agent.Phone)
			assert.Equal(t, "Acme Realty", agent.OfficeName)
			assert.Equal(t, "Austin", agent.OfficeCity)
			assert.Equal(t, "Broker", agent.MemberType)
			assert.Equal(t, types.AgentOriginExport, agent.Origin)
		})
	}
}

func TestListingAgent(t *testing.T) {
	tr := New("demo", ShapeRESO, ShapeRESO)

	withKey, _, err := tr.Listing(json.RawMessage(`{"ListingKey":"L1","ListAgentKey":"A1","ListAgentFullName":"Jane Doe"}`))
	require.NoError(t, err)
	agent := ListingAgent(withKey)
	require.NotNil(t, agent)
	assert.Equal(t, "A1", agent.SourceID)
	assert.Equal(t, types.AgentOriginListing, agent.Origin)

	nameOnly, _, err := tr.Listing(json.RawMessage(`{"ListingKey":"L2","ListAgentFullName":"Jane Doe"}`))
	require.NoError(t, err)
	assert.Nil(t, ListingAgent(nameOnly))
}

func TestContentHash(t *testing.T) {
	tr := New("demo", ShapeRESO, ShapeRESO)
	a, _, err := tr.Listing(json.RawMessage(`{"ListingKey":"L1","ListPrice":100}`))
	require.NoError(t, err)
	b, _, err := tr.Listing(json.RawMessage(`{"ListingKey":"L1","ListPrice":100}`))
	require.NoError(t, err)

	assert.Equal(t, ContentHash(a), ContentHash(b))

	key := "A1"
	b.AgentKey = &key
	assert.NotEqual(t, ContentHash(a), ContentHash(b))

	b.AgentKey = nil
	b.StandardFields.ListPrice = 101
	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}

func TestNewFromNames(t *testing.T) {
	_, err := NewFromNames("demo", "RESO", "flat")
	assert.NoError(t, err)

	_, err = NewFromNames("demo", "xml", "reso")
	assert.Error(t, err)

	_, err = NewFromNames("demo", "reso", "nested")
	assert.Error(t, err)
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		input      string
		wantNumber string
		wantName   string
	}{
		{"123 Main St", "123", "Main St"},
		{"  42   Ocean   Drive  ", "42", "Ocean   Drive"},
		{"Lot7", "Lot7", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			number, name := SplitAddress(tt.input)
			assert.Equal(t, tt.wantNumber, number)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestSplitAddressProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	words := gen.SliceOf(gen.Identifier())

	// Property: splitting loses no tokens and the number is the first token
	properties.Property("split preserves tokens", prop.ForAll(
		func(parts []string) bool {
			input := strings.Join(parts, " ")
			number, name := SplitAddress(input)

			rejoined := strings.Fields(number + " " + name)
			original := strings.Fields(input)
			if len(rejoined) != len(original) {
				return false
			}
			for i := range original {
				if rejoined[i] != original[i] {
					return false
				}
			}
			return strings.IndexFunc(number, func(r rune) bool { return r == ' ' }) < 0 &&
				name == strings.TrimSpace(name)
		},
		words,
	))

	properties.TestingRun(t)
}
