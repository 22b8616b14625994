package domain

import "sort"

// MoveAllocation is one planned write against a remote movement.
// NewDone is the absolute value to write, computed from the movement's
// current done figure plus the allocated share. Writing absolutes from
// a freshly read state keeps the push re-entrant: a second run against
// an already-allocated movement finds no remaining capacity instead of
// doubling the figure.
type MoveAllocation struct {
	MoveID    int64
	ProductID int64
	NewDone   float64
}

// AllocationPlan is the outcome of distributing prepared quantities
// across a shipment's movements.
type AllocationPlan struct {
	Writes []MoveAllocation
	// Shortfall is set when some requested quantity found no capacity.
	// It drives the backorder policy after validation.
	Shortfall bool
}

// PlanAllocation distributes prepared quantities across movements.
// Per product, the request is capped at the product's total remaining
// capacity, then spread greedily over its movements in the order they
// were returned, each movement absorbing up to its own remaining
// capacity. Products are visited in ascending id order so the plan is
// deterministic for a given input.
func PlanAllocation(movements []Movement, prepared map[int64]float64) *AllocationPlan {
	plan := &AllocationPlan{Writes: make([]MoveAllocation, 0, len(movements))}

	productIDs := make([]int64, 0, len(prepared))
	for productID := range prepared {
		productIDs = append(productIDs, productID)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	for _, productID := range productIDs {
		requested := prepared[productID]
		if requested <= 0 {
			continue
		}

		capacity := 0.0
		for _, m := range movements {
			if m.ProductID == productID {
				capacity += m.Remaining()
			}
		}

		if requested > capacity {
			plan.Shortfall = true
			requested = capacity
		}

		for _, m := range movements {
			if requested <= 0 {
				break
			}
			if m.ProductID != productID {
				continue
			}

			take := m.Remaining()
			if take > requested {
				take = requested
			}
			if take <= 0 {
				continue
			}

			plan.Writes = append(plan.Writes, MoveAllocation{
				MoveID:    m.MoveID,
				ProductID: m.ProductID,
				NewDone:   m.Done + take,
			})
			requested -= take
		}
	}

	return plan
}
