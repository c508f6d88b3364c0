package services

// Events published on the store's event bus after the store lock is released. Handlers
// run on the publishing goroutine and may read the store.

type ChangeReason string

const (
	ReasonLoaded     ChangeReason = "loaded"
	ReasonOptimistic ChangeReason = "optimistic"
	ReasonReconciled ChangeReason = "reconciled"
	ReasonRolledBack ChangeReason = "rolled_back"
	ReasonDirection  ChangeReason = "direction"
)

type GraphChangedEvent struct {
	Reason  ChangeReason
	Op      string
	NodeID  string
	Version uint64
	// RemovedNodeIDs lists nodes that are no longer in the graph after this change.
	RemovedNodeIDs []string
}

type MutationRolledBackEvent struct {
	Op     string
	NodeID string
	Err    error
}

type StoreFailedEvent struct {
	Op  string
	Err error
}
