package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocation is the amount planned to be taken from one batch.
type Allocation struct {
	Batch    Batch
	Quantity decimal.Decimal
}

// SortFIFO orders batches oldest first: received_at, then created_at, then id.
func SortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// AllocateFIFO walks eligible batches oldest first and plans min(remaining, batch qty) from each.
// The returned shortfall is the part of qty that eligible batches could not cover.
// Batches are not modified.
func AllocateFIFO(batches []Batch, qty decimal.Decimal) ([]Allocation, decimal.Decimal) {
	eligible := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Exhausted || !b.QuantityCurrent.IsPositive() {
			continue
		}
		eligible = append(eligible, b)
	}
	SortFIFO(eligible)

	remaining := qty
	var plan []Allocation
	for _, b := range eligible {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, b.QuantityCurrent)
		plan = append(plan, Allocation{Batch: b, Quantity: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return plan, remaining
}

// Available sums quantity of eligible batches.
func Available(batches []Batch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if b.Exhausted || !b.QuantityCurrent.IsPositive() {
			continue
		}
		total = total.Add(b.QuantityCurrent)
	}
	return total
}
