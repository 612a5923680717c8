// Package discover implements the v5 discovery handle: local record
// lifecycle, boot ingestion, a background self-lookup loop, and a merged
// event stream, on top of the Kademlia table in table.go.
package discover

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerwatch/nodecore/enode"
	"github.com/ledgerwatch/nodecore/enr"
	"github.com/ledgerwatch/nodecore/rlpx"
)

const banCacheSize = 4096

// Handle is the v5 discovery coordinator.
type Handle struct {
	cfg       Config
	local     *enr.Record
	transport Transport
	logger    log.Logger
	table     *Table

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int

	pendingMu   sync.Mutex
	pendingPong map[enr.ID]chan *enr.Record

	banned    *lru.Cache[enr.ID, struct{}]
	bannedIPs *lru.Cache[string, struct{}]

	// v5Changed is fired whenever a bucket-mutating event happens, for the
	// v4 downgrade mirror. Buffered so a slow mirror never
	// blocks v5's own event delivery.
	v5Changed chan struct{}

	hookMu       sync.RWMutex
	mutationHook func(enr.ID)

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// BuildLocalRecord assembles the signed local record: listen sockets,
// advertised TCP port, fork id, and extra KV pairs.
func BuildLocalRecord(cfg Config, priv *btcec.PrivateKey) (*enr.Record, error) {
	rec := enr.NewLocal(priv)

	switch cfg.Listen {
	case ListenIp4:
		ip := net.ParseIP(cfg.Ipv4)
		if ip == nil {
			return nil, &InitFailureError{Reason: fmt.Sprintf("bad ipv4 %q", cfg.Ipv4)}
		}
		rec.SetIP4(ip, cfg.Ipv4Port, cfg.AdvertisedTCPPort)
	case ListenIp6:
		ip := net.ParseIP(cfg.Ipv6)
		if ip == nil {
			return nil, &InitFailureError{Reason: fmt.Sprintf("bad ipv6 %q", cfg.Ipv6)}
		}
		rec.SetIP6(ip, cfg.Ipv6Port, cfg.AdvertisedTCPPort)
	case ListenDual:
		ip4 := net.ParseIP(cfg.Ipv4)
		if ip4 == nil {
			return nil, &InitFailureError{Reason: fmt.Sprintf("bad ipv4 %q", cfg.Ipv4)}
		}
		ip6 := net.ParseIP(cfg.Ipv6)
		if ip6 == nil {
			return nil, &InitFailureError{Reason: fmt.Sprintf("bad ipv6 %q", cfg.Ipv6)}
		}
		rec.SetIP4(ip4, cfg.Ipv4Port, cfg.AdvertisedTCPPort)
		rec.SetIP6(ip6, cfg.Ipv6Port, cfg.AdvertisedTCPPort)
	}

	if err := rec.Set(cfg.ForkIDKey, cfg.ForkID.Encode()); err != nil {
		return nil, &InitFailureError{Reason: err.Error()}
	}
	for k, v := range cfg.ExtraENRKV {
		if err := rec.Set(k, v); err != nil {
			return nil, &InitFailureError{Reason: err.Error()}
		}
	}
	return rec, nil
}

// BuildBackwardsCompatibleRecord derives the single-socket companion of
// full: a record carrying exactly one reachable socket, selected by the
// IpMode's contactable-address rule, for consumers that cannot
// handle a dual-stack record.
func BuildBackwardsCompatibleRecord(full *enr.Record, mode enode.IpMode, priv *btcec.PrivateKey) (*enr.Record, error) {
	ip, udp, ok := ContactableAddr(full, mode)
	if !ok {
		return nil, &UnreachableDiscoveryError{}
	}
	rec := enr.NewLocal(priv)
	if ip4 := ip.To4(); ip4 != nil {
		_, _, tcp, _ := full.IP4()
		rec.SetIP4(ip4, udp, tcp)
	} else {
		_, _, tcp, _ := full.IP6()
		rec.SetIP6(ip, udp, tcp)
	}
	return rec, nil
}

// NewHandle runs the Init -> BuildEnr -> CreateKademlia steps of the
// startup state machine. Call Start to move to Running.
func NewHandle(cfg Config, priv *btcec.PrivateKey, transport Transport, logger log.Logger) (*Handle, error) {
	local, err := BuildLocalRecord(cfg, priv)
	if err != nil {
		return nil, err
	}
	banned, _ := lru.New[enr.ID, struct{}](banCacheSize)
	bannedIPs, _ := lru.New[string, struct{}](banCacheSize)

	return &Handle{
		cfg:          cfg,
		local:        local,
		transport:    transport,
		logger:       logger,
		table:        NewTable(local.ID()),
		subs:         make(map[int]chan Event),
		pendingPong:  make(map[enr.ID]chan *enr.Record),
		banned:       banned,
		bannedIPs:    bannedIPs,
		v5Changed:    make(chan struct{}, 1),
		closing:      make(chan struct{}),
	}, nil
}

// Start runs Start -> SpawnBoots -> SpawnSelfLookup -> Running.
// Boot-node ingestion is awaited (via errgroup) before the self-lookup
// loop is spawned, so a caller's first KBucketsSnapshot after Start
// returns reflects every signed boot record that AddNode accepted. Legacy
// boot URIs are only logged (see RequestRecord) and never reach the table.
func (h *Handle) Start(ctx context.Context) error {
	h.wg.Add(1)
	go h.readLoop()

	g, gctx := errgroup.WithContext(ctx)
	for _, boot := range h.cfg.Bootstrap {
		boot := boot
		g.Go(func() error {
			h.ingestBootNode(gctx, boot)
			return nil // per-node failures are logged, never fatal to Start
		})
	}
	if err := g.Wait(); err != nil {
		return &Discv5Error{Err: err}
	}

	h.wg.Add(1)
	go h.selfLookupLoop()

	return nil
}

func (h *Handle) ingestBootNode(ctx context.Context, boot enode.BootNode) {
	switch boot.Kind {
	case enode.KindSigned:
		if err := h.AddNode(boot.Signed); err != nil {
			h.logger.Debug("boot node rejected", "id", boot.Signed.ID(), "err", err)
		}
	case enode.KindLegacy:
		h.RequestRecord(boot.Legacy)
	}
}

// AddNode places a signed record into the Kademlia routing table.
func (h *Handle) AddNode(record *enr.Record) error {
	if h.isBanned(record.ID()) {
		return &AddNodeFailedError{Reason: "node id is banned"}
	}
	addr, err := h.recordUDPAddr(record)
	if err != nil {
		return &AddNodeFailedError{Reason: err.Error()}
	}
	if h.isBannedIP(addr) {
		return &AddNodeFailedError{Reason: "ip is banned"}
	}
	_, replaced := h.table.Insert(record, addr)
	h.notifyBucketMutation(record.ID())
	h.emit(Event{Kind: EventNodeInserted, NodeID: record.ID(), Replaced: replaced})
	return nil
}

// RequestRecord logs a legacy boot URI at debug level and returns. It does
// not resolve the URI into a record, send any request, or insert anything
// into the table: this module has no record-request wire protocol for
// legacy URIs.
func (h *Handle) RequestRecord(uri string) {
	h.logger.Debug("legacy boot uri recorded, awaiting discovery", "uri", uri)
}

// Ping sends a ping to record and blocks until a pong arrives or ctx is
// done. On success the peer is inserted into the table and a
// SessionEstablished event is emitted.
func (h *Handle) Ping(ctx context.Context, record *enr.Record) error {
	addr, err := h.recordUDPAddr(record)
	if err != nil {
		return &Discv5Error{Err: err}
	}

	ch := make(chan *enr.Record, 1)
	h.pendingMu.Lock()
	h.pendingPong[record.ID()] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pendingPong, record.ID())
		h.pendingMu.Unlock()
	}()

	msg, err := encodeWire(wireMessage{Kind: "ping", FromRecord: h.local.Marshal()})
	if err != nil {
		return &Discv5Error{Err: err}
	}
	if _, err := h.transport.WriteTo(msg, addr); err != nil {
		return &Discv5Error{Err: err}
	}

	select {
	case peerRecord := <-ch:
		_, replaced := h.table.Insert(peerRecord, addr)
		h.notifyBucketMutation(peerRecord.ID())
		h.emit(Event{Kind: EventSessionEstablished, Record: peerRecord, Socket: addr})
		sessionsEstablishedTotal.Inc()
		h.emit(Event{Kind: EventNodeInserted, NodeID: peerRecord.ID(), Replaced: replaced})
		return nil
	case <-ctx.Done():
		return &Discv5Error{Err: ctx.Err()}
	case <-h.closing:
		return &Discv5Error{Err: fmt.Errorf("handle closed")}
	}
}

// Ban blacklists a node id and its last-known ip. Removal is a bucket
// mutation, so the v5-changed notification fires here too.
func (h *Handle) Ban(id enr.ID, ip net.IP) {
	h.banned.Add(id, struct{}{})
	if ip != nil {
		h.bannedIPs.Add(ip.String(), struct{}{})
	}
	if h.table.Remove(id) {
		h.notifyBucketMutation(id)
	}
}

// BanIP blacklists an ip outright.
func (h *Handle) BanIP(ip net.IP) { h.bannedIPs.Add(ip.String(), struct{}{}) }

func (h *Handle) isBanned(id enr.ID) bool       { return h.banned.Contains(id) }
func (h *Handle) isBannedIP(addr net.Addr) bool { return h.bannedIPs.Contains(udpHost(addr)) }

// LocalRecord returns the current signed local record.
func (h *Handle) LocalRecord() *enr.Record { return h.local }

// UpdateLocalKV mutates the local record's key/value dictionary, bumping
// its sequence number and rebroadcasting (rebroadcast is a no-op placeholder
// here: the raw Kademlia transport's gossip layer is out of scope).
func (h *Handle) UpdateLocalKV(key string, value []byte) error {
	if err := h.local.Set(key, value); err != nil {
		h.logger.Error("update local kv failed", "key", key, "err", err)
		return nil // logged, not propagated
	}
	return nil
}

// KBucketsSnapshot observes a read-locked snapshot of the table.
func (h *Handle) KBucketsSnapshot(f func(*Table)) { h.table.Snapshot(f) }

// FindNodePredicate returns up to k records passing pred, ordered by XOR
// distance to target.
func (h *Handle) FindNodePredicate(target enr.ID, pred func(*enr.Record) bool, k int) ([]*enr.Record, error) {
	return h.table.Closest(target, pred, k), nil
}

// EventStream subscribes to the v5 event stream. The returned func
// unsubscribes and releases the channel.
func (h *Handle) EventStream() (<-chan Event, func()) {
	h.subMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch
	h.subMu.Unlock()

	return ch, func() {
		h.subMu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.subMu.Unlock()
	}
}

// GetForkID decodes the fork-id entry from a signed record.
func (h *Handle) GetForkID(record *enr.Record) (rlpx.ForkID, error) {
	raw, ok := record.Get(h.cfg.ForkIDKey)
	if !ok {
		return rlpx.ForkID{}, &ForkIdMissingError{Key: h.cfg.ForkIDKey}
	}
	id, err := rlpx.DecodeForkID(raw)
	if err != nil {
		return rlpx.ForkID{}, &ForkIdDecodeError{Err: err}
	}
	return id, nil
}

// FilterDiscoveredPeer runs the configured Filter over record.
func (h *Handle) FilterDiscoveredPeer(record *enr.Record) Outcome {
	return h.cfg.Filter.FilterDiscoveredPeer(record)
}

// ForkIDKey returns the configured ENR key under which the local fork id is
// published.
func (h *Handle) ForkIDKey() string { return h.cfg.ForkIDKey }

// ListenPorts returns every UDP port this handle's listen mode binds, used
// by the v4 downgrade layer to check its own port doesn't collide.
func (h *Handle) ListenPorts() []uint16 {
	switch h.cfg.Listen {
	case ListenIp4:
		return []uint16{h.cfg.Ipv4Port}
	case ListenIp6:
		return []uint16{h.cfg.Ipv6Port}
	default:
		return []uint16{h.cfg.Ipv4Port, h.cfg.Ipv6Port}
	}
}

// Close stops the handle's background work and closes its transport.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closing)
		h.transport.Close()
	})
	h.wg.Wait()
	return nil
}

// notifyBucketMutation signals the async v5Changed channel and, if a
// mutation hook is registered, invokes it synchronously before returning.
// Every call site invokes this immediately before emit()ing the
// corresponding v5 Event, so a hook that pushes directly into a shared
// output channel is guaranteed to enqueue before that Event does, even
// though emit() itself fans out asynchronously to subscriber channels.
func (h *Handle) notifyBucketMutation(id enr.ID) {
	kbucketNodesGauge.Set(float64(h.table.Size()))
	select {
	case h.v5Changed <- struct{}{}:
	default:
	}
	h.hookMu.RLock()
	hook := h.mutationHook
	h.hookMu.RUnlock()
	if hook != nil {
		hook(id)
	}
}

// SetBucketMutationHook registers fn to run synchronously, in the caller's
// own goroutine, immediately before every v5 bucket-mutation Event is
// emitted. Used by p2p/downgrade to splice v4-mirror evictions into a
// merged stream ahead of the triggering v5 event, ordering that a plain
// channel select cannot guarantee.
func (h *Handle) SetBucketMutationHook(fn func(enr.ID)) {
	h.hookMu.Lock()
	h.mutationHook = fn
	h.hookMu.Unlock()
}

// V5Keys returns the set of peer ids currently held in the routing table.
// Exposed for p2p/downgrade's exclusivity filter; v4 never dereferences
// more of the v5 handle than this.
func (h *Handle) V5Keys() mapset.Set[enr.ID] {
	keys := mapset.NewThreadUnsafeSet[enr.ID]()
	for _, id := range h.table.AllIDs() {
		keys.Add(id)
	}
	return keys
}

// V5Changed returns the channel that fires whenever the routing table
// mutates. Consumed by p2p/downgrade's mirror reconciliation loop.
func (h *Handle) V5Changed() <-chan struct{} {
	return h.v5Changed
}

func (h *Handle) emit(e Event) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *Handle) recordUDPAddr(record *enr.Record) (net.Addr, error) {
	ip, udp, ok := ContactableAddr(record, h.cfg.IpMode)
	if !ok {
		return nil, &UnreachableDiscoveryError{}
	}
	if _, isMem := h.transport.(*memPacketConn); isMem {
		return memAddr(fmt.Sprintf("%s:%d", ip.String(), udp)), nil
	}
	return &net.UDPAddr{IP: ip, Port: int(udp)}, nil
}

func udpHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (h *Handle) readLoop() {
	defer h.wg.Done()
	buf := make([]byte, 16384)
	for {
		n, addr, err := h.transport.ReadFrom(buf)
		if err != nil {
			select {
			case <-h.closing:
				return
			default:
				h.logger.Debug("transport read error", "err", err)
				return
			}
		}
		msg, err := decodeWire(buf[:n])
		if err != nil {
			h.logger.Trace("bad wire message", "err", err)
			continue
		}
		h.handleWireMessage(msg, addr)
	}
}

func (h *Handle) handleWireMessage(msg wireMessage, addr net.Addr) {
	switch msg.Kind {
	case "ping":
		peer, err := enr.Parse(msg.FromRecord)
		if err != nil {
			h.logger.Trace("ping with bad record", "err", err)
			return
		}
		_, replaced := h.table.Insert(peer, addr)
		h.notifyBucketMutation(peer.ID())
		h.emit(Event{Kind: EventSessionEstablished, Record: peer, Socket: addr})
		sessionsEstablishedTotal.Inc()
		h.emit(Event{Kind: EventNodeInserted, NodeID: peer.ID(), Replaced: replaced})

		reply, err := encodeWire(wireMessage{Kind: "pong", FromRecord: h.local.Marshal()})
		if err != nil {
			return
		}
		h.transport.WriteTo(reply, addr)

	case "pong":
		peer, err := enr.Parse(msg.FromRecord)
		if err != nil {
			return
		}
		h.pendingMu.Lock()
		ch, ok := h.pendingPong[peer.ID()]
		h.pendingMu.Unlock()
		if ok {
			select {
			case ch <- peer:
			default:
			}
		}

	case "findnode":
		records := h.table.Closest(msg.Target, nil, MaxNodesPerBucket)
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Marshal()
		}
		reply, err := encodeWire(wireMessage{Kind: "nodes", Records: texts})
		if err != nil {
			return
		}
		h.transport.WriteTo(reply, addr)

	case "nodes":
		for _, text := range msg.Records {
			if r, err := enr.Parse(text); err == nil {
				h.emit(Event{Kind: EventDiscovered, Record: r})
			}
		}
	}
}
