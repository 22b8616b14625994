package domain

// RemainingByProduct sums unfulfilled demand per product across a set
// of movements. Each movement contributes demanded minus done, floored
// at zero, so an over-fulfilled movement never subtracts from another.
func RemainingByProduct(movements []Movement) map[int64]float64 {
	remaining := make(map[int64]float64)
	for _, m := range movements {
		remaining[m.ProductID] += m.Remaining()
	}
	return remaining
}
