package domain

// deliveryStateRank orders picking states by how informative they are
// about an order still in flight. A shipment waiting to be picked beats
// one already done, because the open one is what the warehouse acts on.
var deliveryStateRank = map[PickingState]int{
	StateAssigned:  40,
	StateConfirmed: 30,
	StateWaiting:   20,
	StateDone:      10,
	StateCancel:    0,
}

// RankOf returns the precedence of a state, -1 for unknown values.
func RankOf(state PickingState) int {
	rank, ok := deliveryStateRank[state]
	if !ok {
		return -1
	}
	return rank
}

// BestDeliveryState derives one coarse delivery state for an order.
// The shipment summaries embedded in the order's payload snapshot are
// consulted first; only when the snapshot yields nothing are the live
// mirror records used. A nil result means no source had any shipment
// at all, which callers must keep distinct from an explicit cancel.
func BestDeliveryState(order *Order, records []*FulfillmentRecord) *PickingState {
	if order != nil && len(order.SnapshotPickings) > 0 {
		states := make([]PickingState, 0, len(order.SnapshotPickings))
		for _, p := range order.SnapshotPickings {
			states = append(states, p.State)
		}
		if best := bestOf(states); best != nil {
			return best
		}
	}

	states := make([]PickingState, 0, len(records))
	for _, r := range records {
		states = append(states, r.State)
	}
	return bestOf(states)
}

func bestOf(states []PickingState) *PickingState {
	var best *PickingState
	bestRank := -1
	for _, s := range states {
		rank := RankOf(s)
		if rank < 0 {
			continue
		}
		if rank > bestRank {
			state := s
			best = &state
			bestRank = rank
		}
	}
	return best
}
