package mapping

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProfileMatchThreshold is the minimum header overlap for a saved profile to
// be offered for a new file.
const ProfileMatchThreshold = 0.8

// Profile is a saved header -> field assignment, reusable across files
// exported from the same source.
type Profile struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Headers   []string         `json:"headers"`
	Fields    map[string]Field `json:"fields"` // keyed by normalized header
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ProfileMatch pairs a profile with its overlap score.
type ProfileMatch struct {
	Profile Profile `json:"profile"`
	Score   float64 `json:"score"`
}

// NewProfile captures the mapped columns of result under name.
func NewProfile(name string, result MappingResult) Profile {
	p := Profile{
		Name:    name,
		Headers: make([]string, len(result.Mappings)),
		Fields:  make(map[string]Field),
	}
	for i, m := range result.Mappings {
		p.Headers[i] = m.Header
		if m.Mapped() {
			p.Fields[Normalize(m.Header)] = m.Field
		}
	}
	return p
}

// MatchScore is the fraction of the profile's headers present in headers,
// compared after normalization.
func (p Profile) MatchScore(headers []string) float64 {
	if len(p.Headers) == 0 {
		return 0
	}

	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[Normalize(h)] = true
	}

	matched := 0
	for _, h := range p.Headers {
		if present[Normalize(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(p.Headers))
}

// MatchProfiles returns the profiles scoring at least ProfileMatchThreshold,
// best first.
func MatchProfiles(profiles []Profile, headers []string) []ProfileMatch {
	var matches []ProfileMatch
	for _, p := range profiles {
		if s := p.MatchScore(headers); s >= ProfileMatchThreshold {
			matches = append(matches, ProfileMatch{Profile: p, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// ApplyProfile assigns the profile's field to every column whose header the
// profile knows. Columns the profile does not know keep their mapping.
// Unknown fields stored in the profile are skipped.
func ApplyProfile(result MappingResult, p Profile) MappingResult {
	out := derive(append([]ColumnMapping(nil), result.Mappings...))
	for _, m := range result.Mappings {
		field, ok := p.Fields[Normalize(m.Header)]
		if !ok {
			continue
		}
		if next, err := UpdateMapping(out, m.Index, field); err == nil {
			out = next
		}
	}
	return out
}
