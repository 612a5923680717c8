package discover

import (
	"math/bits"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ledgerwatch/nodecore/enr"
)

// MaxNodesPerBucket bounds the self-lookup loop's find-node call and each
// bucket's capacity.
const MaxNodesPerBucket = 16

const numBuckets = 256

type tableEntry struct {
	record   *enr.Record
	addr     net.Addr
	lastSeen time.Time
}

// Table is the Kademlia routing table: XOR-distance buckets keyed off a
// local node id. The discv5 wire handshake crypto lives outside this
// module, but the routing-table logic itself is implemented here.
type Table struct {
	mu      sync.RWMutex
	localID enr.ID
	buckets [numBuckets][]*tableEntry
}

// NewTable creates an empty table rooted at localID.
func NewTable(localID enr.ID) *Table {
	return &Table{localID: localID}
}

// bucketIndex returns the bucket index for id: the position of the first
// differing bit from localID, counting from the most significant bit.
// Distance 0 (identical ids) is folded into bucket 0.
func (t *Table) bucketIndex(id enr.ID) int {
	for i := 0; i < 32; i++ {
		x := t.localID[i] ^ id[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return 0
}

// Insert adds or refreshes a record. replaced is non-nil when the bucket
// was full and an existing entry was evicted to make room.
func (t *Table) Insert(record *enr.Record, addr net.Addr) (inserted bool, replaced *enr.ID) {
	id := record.ID()
	if id == t.localID {
		return false, nil
	}
	idx := t.bucketIndex(id)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.buckets[idx]
	for _, e := range bucket {
		if e.record.ID() == id {
			e.record = record
			e.addr = addr
			e.lastSeen = time.Now()
			return true, nil
		}
	}

	entry := &tableEntry{record: record, addr: addr, lastSeen: time.Now()}
	if len(bucket) < MaxNodesPerBucket {
		t.buckets[idx] = append(bucket, entry)
		return true, nil
	}

	// Bucket full: evict the least-recently-seen entry.
	oldestIdx := 0
	for i, e := range bucket {
		if e.lastSeen.Before(bucket[oldestIdx].lastSeen) {
			oldestIdx = i
		}
	}
	evictedID := bucket[oldestIdx].record.ID()
	bucket[oldestIdx] = entry
	return true, &evictedID
}

// Remove deletes id from the table, if present. Reports whether an entry
// was actually removed.
func (t *Table) Remove(id enr.ID) bool {
	idx := t.bucketIndex(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket := t.buckets[idx]
	for i, e := range bucket {
		if e.record.ID() == id {
			t.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether id is currently present.
func (t *Table) Contains(id enr.ID) bool {
	idx := t.bucketIndex(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.buckets[idx] {
		if e.record.ID() == id {
			return true
		}
	}
	return false
}

// Get returns the stored record and address for id.
func (t *Table) Get(id enr.ID) (*enr.Record, net.Addr, bool) {
	idx := t.bucketIndex(id)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.buckets[idx] {
		if e.record.ID() == id {
			return e.record, e.addr, true
		}
	}
	return nil, nil, false
}

// Size returns the number of entries across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, bucket := range t.buckets {
		n += len(bucket)
	}
	return n
}

// AllIDs returns every node id currently in the table, used by the v4
// downgrade mirror's read_v5_keys() callback.
func (t *Table) AllIDs() []enr.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []enr.ID
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			out = append(out, e.record.ID())
		}
	}
	return out
}

// Snapshot invokes f with a read-locked view of the table, matching
// kbuckets_snapshot's "callback observes a read-locked snapshot" contract.
func (t *Table) Snapshot(f func(*Table)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f(t)
}

// Closest returns up to k records passing pred, ordered by ascending XOR
// distance to target.
func (t *Table) Closest(target enr.ID, pred func(*enr.Record) bool, k int) []*enr.Record {
	t.mu.RLock()
	type scored struct {
		rec  *enr.Record
		dist enr.ID
	}
	var all []scored
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			if pred != nil && !pred(e.record) {
				continue
			}
			all = append(all, scored{rec: e.record, dist: xorDistance(target, e.record.ID())})
		}
	}
	t.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return lessID(all[i].dist, all[j].dist) })
	if len(all) > k {
		all = all[:k]
	}
	out := make([]*enr.Record, len(all))
	for i, s := range all {
		out[i] = s.rec
	}
	return out
}

func xorDistance(a, b enr.ID) enr.ID {
	var d enr.ID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func lessID(a, b enr.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
