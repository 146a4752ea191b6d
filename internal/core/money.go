// Package core provides money parsing and rounding utilities.
//
// Amounts are carried as float64 in the domain; every reported aggregate is
// rounded to cents through decimal arithmetic so that repeated sums do not
// drift.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a signed decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an
// optional leading sign and thousands separators written with the other
// symbol. Half-up rounding is applied on the third decimal place.
//
// Examples:
//
//	ParseAmount("-12.34")    -> -12.34, nil
//	ParseAmount("1.234,56")  -> 1234.56, nil
//	ParseAmount("12.345")    -> 12.35, nil
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, " ", "")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastDot >= 0 && lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return 0, ErrInvalidAmount
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return d.Round(2).InexactFloat64(), nil
}

// RoundCents rounds v half away from zero to two decimal places.
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// SumAbs adds the absolute values in decimal and returns the rounded total.
func SumAbs(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v).Abs())
	}
	return total.Round(2).InexactFloat64()
}
