// Package aggregate reduces record collections into summary values.
//
// Every function is pure. Quantities are decimal, so sums are exact and do not depend on the
// order of the input.
package aggregate

import (
	"github.com/shopspring/decimal"
)

var kilogramsPerTonne = decimal.NewFromInt(1000)

// Sum adds the selected field over every record. Empty input yields zero.
func Sum[T any](records []T, field func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(field(record))
	}
	return total
}

// SumWhere adds the selected field over the records matching keep.
func SumWhere[T any](records []T, keep func(T) bool, field func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		if keep(record) {
			total = total.Add(field(record))
		}
	}
	return total
}

// Count returns the number of records matching keep.
func Count[T any](records []T, keep func(T) bool) int {
	count := 0
	for _, record := range records {
		if keep(record) {
			count++
		}
	}
	return count
}

// GroupSum adds the selected field per category. The result holds every declared category,
// zero-filled; records whose category is not declared are ignored.
func GroupSum[T any, K comparable](records []T, categories []K, key func(T) K, field func(T) decimal.Decimal) map[K]decimal.Decimal {
	groups := make(map[K]decimal.Decimal, len(categories))
	for _, category := range categories {
		groups[category] = decimal.Zero
	}
	for _, record := range records {
		category := key(record)
		current, ok := groups[category]
		if !ok {
			continue
		}
		groups[category] = current.Add(field(record))
	}
	return groups
}

// GroupCount counts records per category with the same zero-fill rule as GroupSum.
func GroupCount[T any, K comparable](records []T, categories []K, key func(T) K) map[K]int {
	groups := make(map[K]int, len(categories))
	for _, category := range categories {
		groups[category] = 0
	}
	for _, record := range records {
		category := key(record)
		if _, ok := groups[category]; ok {
			groups[category]++
		}
	}
	return groups
}

// KilogramsToTonnes converts a CO2 mass for display.
func KilogramsToTonnes(kilograms decimal.Decimal) decimal.Decimal {
	return kilograms.Div(kilogramsPerTonne)
}
