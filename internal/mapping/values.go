package mapping

// values.go coerces cell text into typed item values.
//
// The parsers accept the messy reality of spreadsheet exports: currency
// symbols and thousands separators in prices, US/EU/ISO/verbose dates,
// two-digit years. Each returns ok=false rather than an error; callers decide
// whether a failure is reportable.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates a cleaned price before decimal parsing.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

var priceReplacer = strings.NewReplacer(
	"$", "",
	"€", "", // Euro
	"£", "", // Pound
	"¥", "", // Yen
	",", "",
	" ", "",
	"\u00a0", "",
)

// ParsePrice parses a money amount. Accounting parentheses mean negative.
func ParsePrice(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = priceReplacer.Replace(s)
	if !numericRegex.MatchString(s) {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are moved
// back a century.
var TwoDigitYearPivot = 20

// Layouts are tried in order; the first that parses wins. US month-first
// forms come before EU day-first ones, so "03/04/2024" is March 4.
var (
	dateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"1/2/2006",
		"1-2-2006",
		"2/1/2006",
		"2.1.2006",
		"2-1-2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"2 January 2006",
		"Jan 2 2006",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "1-2-06", "2.1.06",
	}
	timestampLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
)

// ParseDate parses a calendar date and returns it as UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return dateOnly(t), true
		}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}

	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseQuantity parses a whole count, ignoring thousands separators and
// spaces. Callers additionally require a positive result.
func ParseQuantity(s string) (int, bool) {
	s = strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Condition is the normalized item condition vocabulary.
type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like-new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionPoor    Condition = "poor"
)

// conditionBuckets are checked in order. "like new" must precede "new" and
// "not working" must precede "working".
var conditionBuckets = []struct {
	condition Condition
	keywords  []string
}{
	{ConditionLikeNew, []string{"like new", "like-new", "likenew", "excellent", "near mint", "open box", "refurbished"}},
	{ConditionNew, []string{"brand new", "new", "mint", "sealed", "unopened"}},
	{ConditionPoor, []string{"poor", "damaged", "broken", "bad", "needs repair", "for parts", "not working"}},
	{ConditionFair, []string{"fair", "worn", "acceptable", "average", "okay"}},
	{ConditionGood, []string{"good", "used", "working"}},
}

// NormalizeCondition maps free text onto the condition vocabulary.
// Unrecognized text is ConditionGood.
func NormalizeCondition(s string) Condition {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ConditionGood
	}
	for _, b := range conditionBuckets {
		for _, kw := range b.keywords {
			if strings.Contains(s, kw) {
				return b.condition
			}
		}
	}
	return ConditionGood
}
