package station

import (
	"fmt"
)

// SyncNetworkError is fatal for a connect attempt: the synchronized sampling
// network could not be established. A network that cannot guarantee
// clock-aligned sampling across nodes is unacceptable for the scale, so
// there is no fallback to unsynchronized operation.
type SyncNetworkError struct {
	Reason string
	Err    error
}

func (e *SyncNetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync sampling network: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sync sampling network: %s", e.Reason)
}

func (e *SyncNetworkError) Unwrap() error { return e.Err }

// NodeConfigError is per-node recoverable: one node refused its forced
// configuration. The node proceeds with whatever configuration it already
// has and the overall connection continues.
type NodeConfigError struct {
	NodeID uint32
	Err    error
}

func (e *NodeConfigError) Error() string {
	return fmt.Sprintf("configure node %d: %v", e.NodeID, e.Err)
}

func (e *NodeConfigError) Unwrap() error { return e.Err }

// TransportError wraps an I/O failure during sampling. It triggers the
// bounded reconnection policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
