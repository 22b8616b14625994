package application

// SyncOrderCommand imports one remote order by id or display name
type SyncOrderCommand struct {
	Ref string
}

// SyncBatchCommand imports remote orders matching a state and date window
type SyncBatchCommand struct {
	States []string
	Since  string
	Until  string
	Limit  int
	Offset int
}

// SyncPickingsCommand mirrors remote delivery documents locally
type SyncPickingsCommand struct {
	States []string
	Since  string
	Limit  int
	Offset int
}

// RecordPreparedCommand stores operator-entered prepared quantities,
// keyed by remote line id
type RecordPreparedCommand struct {
	OrderID    string
	Quantities map[int64]float64
}

// PushCommand pushes prepared quantities and validates the shipment
type PushCommand struct {
	OrderID         string
	CreateBackorder bool
}

// ListDeliveriesQuery lists mirrored delivery documents
type ListDeliveriesQuery struct {
	State  string
	Limit  int64
	Offset int64
}
