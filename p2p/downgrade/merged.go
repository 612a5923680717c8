package downgrade

import (
	"github.com/ledgerwatch/log/v3"

	"github.com/ledgerwatch/nodecore/enr"
	"github.com/ledgerwatch/nodecore/p2p/discover"
)

// ItemKind discriminates the merged stream's union type.
type ItemKind int

const (
	ItemV5 ItemKind = iota
	ItemV4
)

// Item is the merged stream's `V5(Event) | V4(Update)` union.
type Item struct {
	Kind ItemKind
	V5   discover.Event
	V4   Update
}

// MergedStream interleaves v5's event stream with the v4 mirror's update
// stream into a single ordered channel.
//
// Ordering guarantee: for any v4 update caused by a v5 event (a mirror
// eviction triggered by v5 inserting the same node), the v4 Removed update
// is observable on the merged channel before the triggering v5 event is
// yielded. A plain two-channel select cannot promise this — Go picks
// pseudo-randomly among ready cases — so NewMergedStream instead registers
// a synchronous bucket-mutation hook on h (discover.Handle.
// SetBucketMutationHook) that runs in h's own goroutine immediately before
// every v5 Event is emitted. The hook calls m.ReconcileID and, if it
// evicted a mirrored node, pushes the resulting Update directly onto this
// stream's single output channel before returning control to h. Only after
// the hook returns does h emit() the v5 Event, which this stream's run()
// loop later reads off v5Events and pushes to the same output channel.
// Because both pushes target one channel and the hook's push is always
// sequenced before the corresponding emit, channel FIFO order preserves
// the guarantee end to end.
type MergedStream struct {
	v5Events <-chan discover.Event
	v5Unsub  func()
	v4       *Mirror
	logger   log.Logger
	out      chan Item
	closing  chan struct{}
}

// NewMergedStream subscribes to h's event stream and m's updates, installs
// the ordering-critical bucket-mutation hook on h, and starts the
// interleaving loop for updates not tied to a specific v5 event.
func NewMergedStream(h *discover.Handle, m *Mirror, logger log.Logger) *MergedStream {
	events, unsub := h.EventStream()
	s := &MergedStream{
		v5Events: events,
		v5Unsub:  unsub,
		v4:       m,
		logger:   logger,
		out:      make(chan Item, 256),
		closing:  make(chan struct{}),
	}
	h.SetBucketMutationHook(func(id enr.ID) {
		if u := m.ReconcileID(id); u != nil {
			s.push(Item{Kind: ItemV4, V4: *u})
		}
	})
	go s.run()
	return s
}

func (s *MergedStream) run() {
	for {
		select {
		case <-s.closing:
			return
		case u, ok := <-s.v4.Updates():
			if !ok {
				return
			}
			s.push(Item{Kind: ItemV4, V4: u})
		case e, ok := <-s.v5Events:
			if !ok {
				return
			}
			s.push(Item{Kind: ItemV5, V5: e})
		}
	}
}

func (s *MergedStream) push(item Item) {
	select {
	case s.out <- item:
	default:
		s.logger.Debug("merged discovery stream: dropping item, consumer too slow")
	}
}

// Items returns the merged channel.
func (s *MergedStream) Items() <-chan Item { return s.out }

// Close unsubscribes from v5 and stops the interleaving loop.
func (s *MergedStream) Close() {
	close(s.closing)
	s.v5Unsub()
}
