package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountTolerance is the exclusive bound on the absolute difference of two equal amounts.
// A difference of exactly one cent is a mismatch.
var AmountTolerance = decimal.NewFromFloat(0.01)

// GenerateID generates a new unique ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// AmountsMatch reports whether a and b differ by less than AmountTolerance
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(AmountTolerance)
}

// RoundMoney rounds to cents
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// StringPtr returns nil for empty strings
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
