package discover

import "fmt"

// AddNodeFailedError is returned by Handle.AddNode when a record cannot be
// added: its node id or ip is banned, or it has no usable UDP socket
// (non-fatal; the caller may retry or drop the node).
type AddNodeFailedError struct{ Reason string }

func (e *AddNodeFailedError) Error() string { return fmt.Sprintf("discover: add node failed: %s", e.Reason) }

// ForkIdMissingError is returned when a record carries no fork-id entry.
type ForkIdMissingError struct{ Key string }

func (e *ForkIdMissingError) Error() string {
	return fmt.Sprintf("discover: record has no %q entry", e.Key)
}

// ForkIdDecodeError is returned when a fork-id entry fails to decode.
type ForkIdDecodeError struct{ Err error }

func (e *ForkIdDecodeError) Error() string { return fmt.Sprintf("discover: fork id decode: %v", e.Err) }
func (e *ForkIdDecodeError) Unwrap() error { return e.Err }

// UnreachableDiscoveryError means the record has no usable UDP socket.
type UnreachableDiscoveryError struct{}

func (e *UnreachableDiscoveryError) Error() string { return "discover: no reachable discovery (UDP) socket" }

// UnreachableMempoolError means the record has no usable TCP socket and
// AllowNoTCPDiscoveredNodes is false.
type UnreachableMempoolError struct{}

func (e *UnreachableMempoolError) Error() string { return "discover: no reachable mempool (TCP) socket" }

// IpVersionMismatchDiscoveryError means the record has a UDP socket but not
// of the family the local IpMode requires for discovery.
type IpVersionMismatchDiscoveryError struct{}

func (e *IpVersionMismatchDiscoveryError) Error() string {
	return "discover: record's UDP socket family does not match local IpMode"
}

// IpVersionMismatchMempoolError means the record has a TCP socket but not
// of the family the local IpMode requires for mempool dialing.
type IpVersionMismatchMempoolError struct{}

func (e *IpVersionMismatchMempoolError) Error() string {
	return "discover: record's TCP socket family does not match local IpMode"
}

// InitFailureError is fatal for the discovery subsystem.
type InitFailureError struct{ Reason string }

func (e *InitFailureError) Error() string { return fmt.Sprintf("discover: init failure: %s", e.Reason) }

// Discv5Error wraps an underlying Kademlia-layer failure. Fatal during
// bootstrap; logged and swallowed during steady-state lookups.
type Discv5Error struct{ Err error }

func (e *Discv5Error) Error() string { return fmt.Sprintf("discover: %v", e.Err) }
func (e *Discv5Error) Unwrap() error { return e.Err }
