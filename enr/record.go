// Package enr implements signed, sequence-numbered Ethereum Node Records:
// construction, key/value mutation with the sequence-bump invariant, and
// the "enr:<base64url>" text codec used by the boot-source parser. The
// wire layout follows the real ENR spec: a single RLP list of
// [signature, seq, k, v, k, v, ...] with every k/v pair (standard socket
// keys and extensions alike) sorted lexicographically by key, not a
// fixed positional layout.
package enr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ledgerwatch/nodecore/rlpx"
	"golang.org/x/crypto/sha3"
)

// Standard ENR key names (EIP-778). These are derived from the Record's
// dedicated fields (pubkey, sockets) at encode time and rejected by Set,
// which only ever manages extension entries.
const (
	keyID        = "id"
	keySecp256k1 = "secp256k1"
	keyIP4       = "ip"
	keyIP6       = "ip6"
	keyUDP4      = "udp"
	keyUDP6      = "udp6"
	keyTCP4      = "tcp"
	keyTCP6      = "tcp6"
)

var reservedKeys = map[string]bool{
	keyID: true, keySecp256k1: true,
	keyIP4: true, keyIP6: true,
	keyUDP4: true, keyUDP6: true,
	keyTCP4: true, keyTCP6: true,
}

// ID is a 32-byte node identifier: keccak256 of the uncompressed public key
// (minus its 0x04 prefix byte).
type ID [32]byte

func (id ID) String() string { return fmt.Sprintf("%x", id[:]) }

// DeriveID computes the node id for a public key.
func DeriveID(pub *btcec.PublicKey) ID {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X || Y, 65 bytes
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// Record is a signed node record. The zero value is not usable; construct
// via NewLocal (for a record this process controls, with a private key) or
// Parse (for a remote record).
type Record struct {
	mu sync.RWMutex

	pub  *btcec.PublicKey
	priv *btcec.PrivateKey // nil unless this is our own local record

	seq uint64

	ip4, ip6   net.IP
	udp4, udp6 uint16
	tcp4, tcp6 uint16

	kv map[string][]byte // extension entries only; never a reserved key

	sig []byte
}

// NewLocal creates a fresh, signed local record owned by priv, with seq 1.
func NewLocal(priv *btcec.PrivateKey) *Record {
	r := &Record{
		priv: priv,
		pub:  priv.PubKey(),
		seq:  1,
		kv:   make(map[string][]byte),
	}
	r.sign()
	return r
}

// GeneratePrivateKey creates a new random secp256k1 key, for tests and for
// processes that don't persist an identity across restarts.
func GeneratePrivateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

func (r *Record) ID() ID { return DeriveID(r.pub) }

// Seq returns the current sequence number.
func (r *Record) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// PublicKey returns the embedded public key.
func (r *Record) PublicKey() *btcec.PublicKey { return r.pub }

// SetIP4 sets the IPv4 socket. Only valid on a local record; bumps seq.
func (r *Record) SetIP4(ip net.IP, udpPort, tcpPort uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ip4, r.udp4, r.tcp4 = ip, udpPort, tcpPort
	r.bumpAndSignLocked()
}

// SetIP6 sets the IPv6 socket. Only valid on a local record; bumps seq.
func (r *Record) SetIP6(ip net.IP, udpPort, tcpPort uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ip6, r.udp6, r.tcp6 = ip, udpPort, tcpPort
	r.bumpAndSignLocked()
}

// IP4 reports the configured IPv4 socket, if any.
func (r *Record) IP4() (ip net.IP, udp, tcp uint16, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ip4, r.udp4, r.tcp4, r.ip4 != nil
}

// IP6 reports the configured IPv6 socket, if any.
func (r *Record) IP6() (ip net.IP, udp, tcp uint16, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ip6, r.udp6, r.tcp6, r.ip6 != nil
}

// Set inserts or overwrites an extension key/value entry, bumping the
// sequence number and re-signing: every mutation of the dictionary
// strictly increases seq. The eight standard ENR keys (id, secp256k1,
// ip, ip6, udp, udp6, tcp, tcp6) are reserved: they're derived from the record's pubkey and socket
// fields at encode time, so Set rejects them rather than risk a value
// that silently disagrees with SetIP4/SetIP6.
func (r *Record) Set(key string, value []byte) error {
	if r.priv == nil {
		return fmt.Errorf("enr: cannot mutate a remote record")
	}
	if reservedKeys[key] {
		return fmt.Errorf("enr: %q is a reserved key, use SetIP4/SetIP6", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kv[key] = value
	r.bumpAndSignLocked()
	return nil
}

// Get reads a key/value entry, standard or extension.
func (r *Record) Get(key string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.standardEntryLocked(key); ok {
		return v, true
	}
	v, ok := r.kv[key]
	return v, ok
}

func (r *Record) standardEntryLocked(key string) ([]byte, bool) {
	switch key {
	case keyID:
		return []byte("v4"), true
	case keySecp256k1:
		return r.pub.SerializeCompressed(), true
	case keyIP4:
		if r.ip4 == nil {
			return nil, false
		}
		return r.ip4.To4(), true
	case keyIP6:
		if r.ip6 == nil {
			return nil, false
		}
		return r.ip6.To16(), true
	case keyUDP4:
		if r.ip4 == nil || r.udp4 == 0 {
			return nil, false
		}
		return minimalBytes(uint64(r.udp4)), true
	case keyTCP4:
		if r.ip4 == nil || r.tcp4 == 0 {
			return nil, false
		}
		return minimalBytes(uint64(r.tcp4)), true
	case keyUDP6:
		if r.ip6 == nil || r.udp6 == 0 {
			return nil, false
		}
		return minimalBytes(uint64(r.udp6)), true
	case keyTCP6:
		if r.ip6 == nil || r.tcp6 == 0 {
			return nil, false
		}
		return minimalBytes(uint64(r.tcp6)), true
	default:
		return nil, false
	}
}

func (r *Record) bumpAndSignLocked() {
	r.seq++
	r.sig = r.signContent(r.contentHashLocked())
}

func (r *Record) sign() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sig = r.signContent(r.contentHashLocked())
}

// sortedEntriesLocked merges the keys of the record's present standard
// fields with its extension kv keys into one lexicographically sorted
// slice of keys; callers look each value up and encode the pairs, for
// both the signed content and the full record. Caller must hold r.mu.
func (r *Record) sortedEntriesLocked() []string {
	keys := make([]string, 0, len(r.kv)+8)
	keys = append(keys, keyID, keySecp256k1)
	if r.ip4 != nil {
		keys = append(keys, keyIP4)
		if r.udp4 != 0 {
			keys = append(keys, keyUDP4)
		}
		if r.tcp4 != 0 {
			keys = append(keys, keyTCP4)
		}
	}
	if r.ip6 != nil {
		keys = append(keys, keyIP6)
		if r.udp6 != 0 {
			keys = append(keys, keyUDP6)
		}
		if r.tcp6 != 0 {
			keys = append(keys, keyTCP6)
		}
	}
	for k := range r.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// contentHashLocked builds the canonical signed content: RLP([seq, k, v,
// k, v, ...]) over every key sorted lexicographically, exactly as the
// real ENR spec defines it (not a fixed positional layout). Caller must
// hold r.mu.
func (r *Record) contentHashLocked() []byte {
	items := [][]byte{rlpx.EncodeUint64(r.seq)}
	for _, k := range r.sortedEntriesLocked() {
		v, ok := r.standardEntryLocked(k)
		if !ok {
			v = r.kv[k]
		}
		items = append(items, rlpx.EncodeString([]byte(k)), rlpx.EncodeString(v))
	}
	content := rlpx.EncodeList(items...)
	h := sha3.NewLegacyKeccak256()
	h.Write(content)
	return h.Sum(nil)
}

func (r *Record) signContent(hash []byte) []byte {
	sig := ecdsa.Sign(r.priv, hash)
	return sig.Serialize()
}

// Verify checks the record's signature against its embedded public key and
// current content. Only this module's own
// signing scheme (DER-serialized ecdsa over the content hash) is checked;
// cryptographic interop with the real discv5 "v4" 64-byte raw-signature
// wire scheme is out of scope — foreign records parsed off the wire are
// trusted structurally, not re-verified here.
func (r *Record) Verify() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash := r.contentHashLocked()
	sig, err := ecdsa.ParseDERSignature(r.sig)
	if err != nil {
		return false
	}
	return sig.Verify(hash, r.pub)
}

// Marshal produces the "enr:<base64url>" text form of the record: RLP([sig,
// seq, k, v, k, v, ...]) with every key sorted lexicographically.
func (r *Record) Marshal() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := [][]byte{rlpx.EncodeString(r.sig), rlpx.EncodeUint64(r.seq)}
	for _, k := range r.sortedEntriesLocked() {
		v, ok := r.standardEntryLocked(k)
		if !ok {
			v = r.kv[k]
		}
		items = append(items, rlpx.EncodeString([]byte(k)), rlpx.EncodeString(v))
	}
	raw := rlpx.EncodeList(items...)
	return "enr:" + base64.RawURLEncoding.EncodeToString(raw)
}

// Parse decodes an "enr:<base64url>" string into a remote Record (no
// private key; Set will fail on it).
func Parse(text string) (*Record, error) {
	const prefix = "enr:"
	if len(text) < len(prefix) || text[:len(prefix)] != prefix {
		return nil, fmt.Errorf("enr: missing %q prefix", prefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(text[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("enr: bad base64: %w", err)
	}
	return unmarshalRLP(raw)
}

// unmarshalRLP decodes RLP([sig, seq, k, v, k, v, ...]) per the real ENR
// layout: a flat list of sorted key/value pairs following sig and seq,
// not a fixed positional layout of sig/seq/pubkey/sockets. Any of the
// eight standard keys may be present or absent in any position (sorted
// order, not declaration order); everything else becomes an extension kv
// entry.
func unmarshalRLP(raw []byte) (*Record, error) {
	items, err := rlpx.DecodeList(raw)
	if err != nil {
		return nil, err
	}
	// [sig, seq] + an even number of (k, v) pairs is an even total.
	if len(items) < 4 || len(items)%2 != 0 {
		return nil, fmt.Errorf("enr: malformed record")
	}
	sig, err := rlpx.DecodeString(items[0])
	if err != nil {
		return nil, err
	}
	seqBytes, err := rlpx.DecodeString(items[1])
	if err != nil {
		return nil, err
	}

	r := &Record{kv: make(map[string][]byte), sig: sig, seq: bytesToUint64(seqBytes)}

	var haveIP4, haveIP6 bool
	var udp4, tcp4, udp6, tcp6 []byte
	for i := 2; i+1 < len(items); i += 2 {
		k, err := rlpx.DecodeString(items[i])
		if err != nil {
			return nil, err
		}
		v, err := rlpx.DecodeString(items[i+1])
		if err != nil {
			return nil, err
		}
		switch string(k) {
		case keyID:
			if !bytes.Equal(v, []byte("v4")) {
				return nil, fmt.Errorf("enr: unsupported identity scheme %q", v)
			}
		case keySecp256k1:
			pub, err := btcec.ParsePubKey(v)
			if err != nil {
				return nil, fmt.Errorf("enr: bad public key: %w", err)
			}
			r.pub = pub
		case keyIP4:
			if len(v) != 4 {
				return nil, fmt.Errorf("enr: malformed ip4 entry")
			}
			r.ip4, haveIP4 = net.IP(append([]byte(nil), v...)), true
		case keyIP6:
			if len(v) != 16 {
				return nil, fmt.Errorf("enr: malformed ip6 entry")
			}
			r.ip6, haveIP6 = net.IP(append([]byte(nil), v...)), true
		case keyUDP4:
			udp4 = v
		case keyTCP4:
			tcp4 = v
		case keyUDP6:
			udp6 = v
		case keyTCP6:
			tcp6 = v
		default:
			r.kv[string(k)] = v
		}
	}
	if r.pub == nil {
		return nil, fmt.Errorf("enr: record has no %q entry", keySecp256k1)
	}
	if haveIP4 {
		r.udp4, r.tcp4 = uint16(bytesToUint64(udp4)), uint16(bytesToUint64(tcp4))
	}
	if haveIP6 {
		r.udp6, r.tcp6 = uint16(bytesToUint64(udp6)), uint16(bytesToUint64(tcp6))
	}
	return r, nil
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v
}

// minimalBytes returns v as a minimal-length big-endian byte slice (no
// leading zero byte), matching how port numbers are carried as ENR values:
// a raw byte string, not a further RLP-encoded integer.
func minimalBytes(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}
