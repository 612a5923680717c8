// Package downgrade implements the legacy v4 discovery mirror and the
// stream that merges it with v5's event stream.
package downgrade

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ledgerwatch/log/v3"

	"github.com/ledgerwatch/nodecore/enr"
)

// V5StateView is the narrow capability v4 needs from v5: a pull callback
// for the current key set and a pull notification of bucket mutations.
// Per the "cyclic handles" design note, v4 holds only this abstract view,
// never a back-pointer into v5's handle.
type V5StateView interface {
	// ReadV5Keys returns the set of peer ids currently in v5's buckets.
	ReadV5Keys() mapset.Set[enr.ID]
	// Changed returns the channel that fires whenever v5's buckets mutate.
	Changed() <-chan struct{}
}

// UpdateKind discriminates the v4 update union.
type UpdateKind int

const (
	UpdateAdded UpdateKind = iota
	UpdateRemoved
	UpdateDiscovered
)

// Update is the V4 half of the merged stream: `Added(record) | Removed(id) | Discovered(record)`.
type Update struct {
	Kind   UpdateKind
	Record *enr.Record
	NodeID enr.ID
}

// Mirror is the legacy v4 discovery table, restricted to retain only peers
// not currently known to v5.
type Mirror struct {
	mu      sync.RWMutex
	nodes   map[enr.ID]*enr.Record
	v5      V5StateView
	logger  log.Logger
	updates chan Update
	closing chan struct{}
	wg      sync.WaitGroup

	// udpPort is the v4 listen port, distinct from every v5 port (set by
	// NewMirrorFor; zero when the mirror is driven without its own socket).
	udpPort uint16
}

// NewMirror binds a mirror against v5's state view. It runs its own
// reconciliation loop that re-evaluates pending candidates whenever
// v5.Changed() fires.
func NewMirror(v5 V5StateView, logger log.Logger) *Mirror {
	m := &Mirror{
		nodes:   make(map[enr.ID]*enr.Record),
		v5:      v5,
		logger:  logger,
		updates: make(chan Update, 256),
		closing: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reconcileLoop()
	return m
}

// Add inserts a candidate record into the mirror, unless its peer id is
// already present in v5's routing table.
func (m *Mirror) Add(record *enr.Record) {
	id := record.ID()
	if m.v5.ReadV5Keys().Contains(id) {
		m.logger.Trace("v4 mirror: rejecting node already known to v5", "id", id)
		return
	}
	m.mu.Lock()
	m.nodes[id] = record
	m.mu.Unlock()
	m.publish(Update{Kind: UpdateAdded, Record: record, NodeID: id})
}

// Discovered records a discovered-but-not-yet-added candidate.
func (m *Mirror) Discovered(record *enr.Record) {
	m.publish(Update{Kind: UpdateDiscovered, Record: record, NodeID: record.ID()})
}

// Remove evicts id from the mirror.
func (m *Mirror) Remove(id enr.ID) {
	m.mu.Lock()
	_, existed := m.nodes[id]
	delete(m.nodes, id)
	m.mu.Unlock()
	if existed {
		m.publish(Update{Kind: UpdateRemoved, NodeID: id})
	}
}

// ReconcileID evicts id from the mirror if present and returns the
// resulting Removed update (or nil if id wasn't mirrored). Unlike Remove,
// this does not publish onto the async updates channel: it's meant to be
// called synchronously from v5's bucket-mutation hook, with the caller
// responsible for delivering the returned update in the right order
// relative to the triggering v5 event.
func (m *Mirror) ReconcileID(id enr.ID) *Update {
	m.mu.Lock()
	_, existed := m.nodes[id]
	delete(m.nodes, id)
	m.mu.Unlock()
	if !existed {
		return nil
	}
	return &Update{Kind: UpdateRemoved, NodeID: id}
}

// Contains reports whether id is currently present in the mirror.
func (m *Mirror) Contains(id enr.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[id]
	return ok
}

// Updates returns the mirror's update channel, consumed by MergedStream.
func (m *Mirror) Updates() <-chan Update { return m.updates }

// UDPPort returns the v4 listen port, or zero if the mirror has none.
func (m *Mirror) UDPPort() uint16 { return m.udpPort }

func (m *Mirror) publish(u Update) {
	select {
	case m.updates <- u:
	default:
		m.logger.Debug("v4 mirror: update channel full, dropping", "kind", u.Kind)
	}
}

// reconcileLoop evicts any mirror entry that v5 has since learned about,
// each time v5's buckets mutate.
func (m *Mirror) reconcileLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.closing:
			return
		case <-m.v5.Changed():
			v5keys := m.v5.ReadV5Keys()
			m.mu.Lock()
			var toRemove []enr.ID
			for id := range m.nodes {
				if v5keys.Contains(id) {
					toRemove = append(toRemove, id)
					delete(m.nodes, id)
				}
			}
			m.mu.Unlock()
			for _, id := range toRemove {
				m.publish(Update{Kind: UpdateRemoved, NodeID: id})
			}
		}
	}
}

// Close stops the reconciliation loop.
func (m *Mirror) Close() error {
	close(m.closing)
	m.wg.Wait()
	return nil
}
