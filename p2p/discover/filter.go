package discover

import "github.com/ledgerwatch/nodecore/enr"

// Outcome is the result of running a Filter over a discovered record.
type Outcome struct {
	Ok     bool
	Reason string // populated when !Ok
}

// Ignore builds an Outcome reporting Ignore(reason).
func Ignore(reason string) Outcome { return Outcome{Ok: false, Reason: reason} }

// OK is the accept outcome.
var OK = Outcome{Ok: true}

// Filter is the pluggable predicate `record -> {Ok, Ignore(reason)}`.
// Stored as a capability (a plain interface value, implicitly shareable
// across goroutines), never as a closure captured over mutable local
// state, per the "filter as a capability" design note.
type Filter interface {
	FilterDiscoveredPeer(record *enr.Record) Outcome
}

// AllowAllFilter is the default filter: it never rejects a peer.
type AllowAllFilter struct{}

func (AllowAllFilter) FilterDiscoveredPeer(*enr.Record) Outcome { return OK }

// asPredicate wraps a Filter into the `Ok -> true, Ignore -> false`
// predicate the self-lookup loop and FindNodePredicate consume, tracing
// the reason for every rejection.
func asPredicate(f Filter, onIgnore func(id enr.ID, reason string)) func(*enr.Record) bool {
	return func(r *enr.Record) bool {
		outcome := f.FilterDiscoveredPeer(r)
		if outcome.Ok {
			return true
		}
		if onIgnore != nil {
			onIgnore(r.ID(), outcome.Reason)
		}
		return false
	}
}
