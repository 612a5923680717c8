// Package enode parses the two boot-source text formats (comma-separated
// signed ENRs and comma-separated legacy enode:// URIs) into a uniform
// BootNode set, and derives libp2p-style peer ids for the legacy format.
package enode

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/ledgerwatch/nodecore/enr"
)

// Kind distinguishes the two BootNode variants.
type Kind int

const (
	KindSigned Kind = iota
	KindLegacy
)

// BootNode is the tagged union { Signed(NodeRecord) | Legacy(multiaddress) }.
type BootNode struct {
	Kind   Kind
	Signed *enr.Record
	Legacy string // normalized multiaddress string
}

// Key returns a deterministic identity for deduplicating boot nodes
// across both variants.
func (b BootNode) Key() string {
	switch b.Kind {
	case KindSigned:
		return "enr:" + b.Signed.Marshal()
	default:
		return "legacy:" + b.Legacy
	}
}

// ParseSignedBootNodes splits a comma-separated list of "enr:<base64url>"
// records and parses each. Malformed entries are silently dropped: boot
// ingestion is best-effort and a single bad entry must not abort startup.
func ParseSignedBootNodes(csv string) []BootNode {
	var out []BootNode
	for _, item := range strings.Split(csv, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rec, err := enr.Parse(item)
		if err != nil {
			continue
		}
		out = append(out, BootNode{Kind: KindSigned, Signed: rec})
	}
	return out
}

// ParseLegacyBootNodes splits a comma-separated list of
// "enode://<128-hex-pubkey>@<ip>:<port>" URIs and normalizes each to a
// libp2p multiaddress string. A malformed entry is dropped, matching the
// same best-effort policy as the signed format.
func ParseLegacyBootNodes(csv string) []BootNode {
	var out []BootNode
	for _, item := range strings.Split(csv, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ma, err := ParseEnodeURI(item)
		if err != nil {
			continue
		}
		out = append(out, BootNode{Kind: KindLegacy, Legacy: ma})
	}
	return out
}

const enodeScheme = "enode://"

// ParseEnodeURI parses a single "enode://<128-hex-pubkey>@<ip>:<port>" URI
// into its normalized "/ip{4|6}/<ip>/udp/<port>/p2p/<peer-id>" form.
// Parsing the same input twice is guaranteed to yield an identical string.
func ParseEnodeURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, enodeScheme) {
		return "", fmt.Errorf("enode: missing %q scheme", enodeScheme)
	}
	rest := uri[len(enodeScheme):]

	at := strings.LastIndexByte(rest, '@')
	if at < 0 {
		return "", fmt.Errorf("enode: missing '@'")
	}
	pubHex, hostport := rest[:at], rest[at+1:]
	if len(pubHex) != 128 {
		return "", fmt.Errorf("enode: public key must be 128 hex chars, got %d", len(pubHex))
	}
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		return "", fmt.Errorf("enode: bad public key hex: %w", err)
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("enode: bad host:port: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", fmt.Errorf("enode: bad port: %w", err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("enode: bad ip %q", host)
	}

	peerID, err := PeerIDFromUncompressed(pubBytes)
	if err != nil {
		return "", err
	}

	proto := "ip4"
	normalizedIP := ip.To4()
	if normalizedIP == nil {
		proto = "ip6"
		normalizedIP = ip.To16()
	}

	maStr := fmt.Sprintf("/%s/%s/udp/%d/p2p/%s", proto, normalizedIP.String(), port, peerID.String())
	if _, err := multiaddr.NewMultiaddr(maStr); err != nil {
		return "", fmt.Errorf("enode: built invalid multiaddress %q: %w", maStr, err)
	}
	return maStr, nil
}

// PeerIDFromUncompressed derives the canonical libp2p peer id from a
// 64-byte uncompressed secp256k1 public key (no leading 0x04 byte, the
// format used by enode:// URIs).
func PeerIDFromUncompressed(uncompressed []byte) (peer.ID, error) {
	if len(uncompressed) != 64 {
		return "", fmt.Errorf("enode: expected 64-byte uncompressed public key, got %d", len(uncompressed))
	}
	full := append([]byte{0x04}, uncompressed...)
	pub, err := btcec.ParsePubKey(full)
	if err != nil {
		return "", fmt.Errorf("enode: bad public key point: %w", err)
	}

	libp2pPub, err := libp2pcrypto.UnmarshalSecp256k1PublicKey(pub.SerializeCompressed())
	if err != nil {
		return "", fmt.Errorf("enode: libp2p key conversion: %w", err)
	}
	return peer.IDFromPublicKey(libp2pPub)
}
