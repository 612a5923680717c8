package discover

import (
	"net"

	"github.com/ledgerwatch/nodecore/enr"
)

// EventKind discriminates the v5 event union.
type EventKind int

const (
	EventSessionEstablished EventKind = iota
	EventNodeInserted
	EventDiscovered
)

// Event is the V5 half of the merged DiscoveryUpdate stream:
// `SessionEstablished(record, socket) | NodeInserted{id, replaced} | Discovered(record)`.
type Event struct {
	Kind     EventKind
	Record   *enr.Record
	Socket   net.Addr
	NodeID   enr.ID
	Replaced *enr.ID // non-nil only for NodeInserted when a bucket slot was evicted
}

// MutatesBuckets reports whether this event implies a k-bucket mutation,
// which is exactly the set of events that must trigger a v5_changed
// notification for the v4 downgrade mirror.
func (e Event) MutatesBuckets() bool {
	return e.Kind == EventNodeInserted || e.Kind == EventSessionEstablished
}
