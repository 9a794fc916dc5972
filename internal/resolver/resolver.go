// Package resolver matches a listing's raw agent reference to a canonical agent.
// Resolution is pure: it reads its inputs, never mutates them and never invents identities.
package resolver

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/mls-sync/internal/models"
)

// Strategy names the heuristic that produced a match
type Strategy string

const (
	StrategyKey    Strategy = "key"
	StrategyName   Strategy = "name"
	StrategyOffice Strategy = "office"
	StrategyCity   Strategy = "city"
	StrategyNone   Strategy = "none"
)

// Reference is the agent information a listing carries
type Reference struct {
	Key        string
	MlsID      string
	FullName   string
	OfficeName string
	City       string
}

// ReferenceFromListing extracts the agent reference from a listing's canonical fields
func ReferenceFromListing(l *models.Listing) Reference {
	sf := l.StandardFields
	return Reference{
		Key:        sf.ListAgentKey,
		MlsID:      sf.ListAgentMlsID,
		FullName:   sf.ListAgentFullName,
		OfficeName: sf.ListOfficeName,
		City:       sf.City,
	}
}

// Match is the outcome of resolution. Agent is nil when Resolved is false.
type Match struct {
	Agent    *models.Agent
	Strategy Strategy
	Resolved bool
}

// AgentKey returns the resolved agent's key, or nil when unresolved
func (m Match) AgentKey() *string {
	if !m.Resolved || m.Agent == nil {
		return nil
	}
	key := m.Agent.SourceID
	return &key
}

// primaryContactRoles mark the agent an office should be reached through
var primaryContactRoles = []string{"broker", "manager", "owner", "designated"}

// Resolve applies the heuristics in priority order; the first hit wins
func Resolve(ref Reference, candidates []*models.Agent) Match {
	n := newNormalizer()

	if m, ok := byKey(ref, candidates); ok {
		return m
	}
	if m, ok := byName(n, ref, candidates); ok {
		return m
	}
	if m, ok := byOffice(n, ref, candidates); ok {
		return m
	}
	if m, ok := byCity(n, ref, candidates); ok {
		return m
	}
	return Match{Strategy: StrategyNone}
}

func byKey(ref Reference, candidates []*models.Agent) (Match, bool) {
	for _, key := range []string{ref.Key, ref.MlsID} {
		if key == "" {
			continue
		}
		for _, c := range candidates {
			if c.SourceID == key || (c.MemberKey != "" && c.MemberKey == key) {
				return Match{Agent: c, Strategy: StrategyKey, Resolved: true}, true
			}
		}
	}
	return Match{}, false
}

// byName prefers an exact folded match anywhere in the set over a substring match
func byName(n *normalizer, ref Reference, candidates []*models.Agent) (Match, bool) {
	name := n.norm(ref.FullName)
	if name == "" {
		return Match{}, false
	}

	for _, c := range candidates {
		if n.norm(c.FullName) == name {
			return Match{Agent: c, Strategy: StrategyName, Resolved: true}, true
		}
	}
	for _, c := range candidates {
		candidate := n.norm(c.FullName)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, name) || strings.Contains(name, candidate) {
			return Match{Agent: c, Strategy: StrategyName, Resolved: true}, true
		}
	}
	return Match{}, false
}

func byOffice(n *normalizer, ref Reference, candidates []*models.Agent) (Match, bool) {
	office := n.norm(ref.OfficeName)
	if office == "" {
		return Match{}, false
	}

	var first *models.Agent
	for _, c := range candidates {
		if n.norm(c.OfficeName) != office {
			continue
		}
		if first == nil {
			first = c
		}
		if n.hasRole(c.MemberType, primaryContactRoles...) {
			return Match{Agent: c, Strategy: StrategyOffice, Resolved: true}, true
		}
	}
	if first != nil {
		return Match{Agent: first, Strategy: StrategyOffice, Resolved: true}, true
	}
	return Match{}, false
}

func byCity(n *normalizer, ref Reference, candidates []*models.Agent) (Match, bool) {
	city := n.norm(ref.City)
	if city == "" {
		return Match{}, false
	}

	var best *models.Agent
	bestScore := -1
	for _, c := range candidates {
		if n.norm(c.OfficeCity) != city {
			continue
		}
		// strict comparison keeps the earliest candidate on ties
		if score := completeness(n, c); score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Agent: best, Strategy: StrategyCity, Resolved: true}, true
}

func completeness(n *normalizer, a *models.Agent) int {
	score := 0
	if strings.TrimSpace(a.Email) != "" {
		score++
	}
	if strings.TrimSpace(a.Phone) != "" {
		score++
	}
	if n.hasRole(a.MemberType, "broker") {
		score += 2
	}
	return score
}

// normalizer folds case and collapses whitespace. A cases.Caser is stateful,
// so each Resolve call gets its own.
type normalizer struct {
	fold cases.Caser
}

func newNormalizer() *normalizer {
	return &normalizer{fold: cases.Fold()}
}

func (n *normalizer) norm(s string) string {
	return strings.Join(strings.Fields(n.fold.String(s)), " ")
}

func (n *normalizer) hasRole(role string, wanted ...string) bool {
	r := n.norm(role)
	if r == "" {
		return false
	}
	for _, w := range wanted {
		if strings.Contains(r, w) {
			return true
		}
	}
	return false
}
