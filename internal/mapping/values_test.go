package mapping

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"29.99", "29.99", true},
		{"$1,299.00", "1299", true},
		{"€ 45", "45", true},
		{"£3.50", "3.5", true},
		{"¥1000", "1000", true},
		{"(12.50)", "-12.5", true},
		{"-5", "-5", true},
		{" 1 234,00 ", "123400", true},
		{".5", "0.5", true},
		{"abc", "", false},
		{"", "", false},
		{"1.2.3", "", false},
		{"$", "", false},
		{"1e5", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePrice(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"2024-03-15", day(2024, 3, 15), true},
		{"2024/03/15", day(2024, 3, 15), true},
		{"03/15/2024", day(2024, 3, 15), true},
		{"3-15-2024", day(2024, 3, 15), true},
		{"03/04/2024", day(2024, 3, 4), true}, // month first wins
		{"25/12/2024", day(2024, 12, 25), true},
		{"25.12.2024", day(2024, 12, 25), true},
		{"25-12-2024", day(2024, 12, 25), true},
		{"Mar 15, 2024", day(2024, 3, 15), true},
		{"March 15, 2024", day(2024, 3, 15), true},
		{"15 Mar 2024", day(2024, 3, 15), true},
		{"15 March 2024", day(2024, 3, 15), true},
		{"Mar 15 2024", day(2024, 3, 15), true},
		{"3/15/24", day(2024, 3, 15), true},
		{"3/15/99", day(1999, 3, 15), true},
		{"15.3.24", day(2024, 3, 15), true},
		{"2024-03-15T10:30:00Z", day(2024, 3, 15), true},
		{"2024-03-15T23:30:00-05:00", day(2024, 3, 15), true},
		{"2024-03-15 10:30:00", day(2024, 3, 15), true},
		{" 2024-03-15 ", day(2024, 3, 15), true},
		{"13/13/2024", time.Time{}, false},
		{"not a date", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"3", 3, true},
		{" 2 ", 2, true},
		{"1,000", 1000, true},
		{"0", 0, true},
		{"-1", -1, true},
		{"2.5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseQuantity(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeCondition(t *testing.T) {
	tests := []struct {
		in   string
		want Condition
	}{
		{"New", ConditionNew},
		{"Brand New in box", ConditionNew},
		{"sealed", ConditionNew},
		{"Like New", ConditionLikeNew},
		{"like-new", ConditionLikeNew},
		{"Excellent", ConditionLikeNew},
		{"Good", ConditionGood},
		{"used", ConditionGood},
		{"Fair", ConditionFair},
		{"a bit worn", ConditionFair},
		{"Poor", ConditionPoor},
		{"broken screen", ConditionPoor},
		{"not working", ConditionPoor},
		{"", ConditionGood},
		{"mysterious", ConditionGood},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCondition(tt.in))
		})
	}
}
