package mapping

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	// AcceptThreshold is the score a header must exceed to claim a field.
	AcceptThreshold = 0.5

	// LowConfidence marks auto-detected mappings worth a second look.
	LowConfidence = 0.7

	substringBase  = 0.6
	substringRange = 0.3
	fuzzyMinimum   = 0.7
	fuzzyScale     = 0.8
)

var headerReplacer = strings.NewReplacer("_", " ", "-", " ", ".", " ")

// Normalize lowercases and trims h, turns _ - . into spaces and collapses
// runs of whitespace.
func Normalize(h string) string {
	h = headerReplacer.Replace(strings.ToLower(h))
	return strings.Join(strings.Fields(h), " ")
}

// Score rates how well header names field, in [0,1].
//
// Exact variation matches score 1.0. Substring containment in either
// direction scores 0.6-0.9 by length ratio. Otherwise the best edit-distance
// similarity of at least 0.7 is scaled by 0.8, so fuzzy matches never beat
// substring ones.
func Score(header string, field Field) float64 {
	return scoreNormalized(Normalize(header), field)
}

func scoreNormalized(h string, field Field) float64 {
	if h == "" {
		return 0
	}
	variations := field.variations()

	for _, v := range variations {
		if h == v {
			return 1.0
		}
	}

	best := 0.0
	for _, v := range variations {
		if strings.Contains(h, v) || strings.Contains(v, h) {
			shorter, longer := runeLen(h), runeLen(v)
			if shorter > longer {
				shorter, longer = longer, shorter
			}
			s := substringBase + substringRange*float64(shorter)/float64(longer)
			if s > best {
				best = s
			}
		}
	}
	if best > 0 {
		return best
	}

	for _, v := range variations {
		maxLen := max(runeLen(h), runeLen(v))
		sim := 1 - float64(levenshtein.ComputeDistance(h, v))/float64(maxLen)
		if sim >= fuzzyMinimum && sim > best {
			best = sim
		}
	}
	return best * fuzzyScale
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
