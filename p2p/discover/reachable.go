package discover

import (
	"net"

	"github.com/ledgerwatch/nodecore/enode"
	"github.com/ledgerwatch/nodecore/enr"
)

// ReachableNode is the legacy `NodeRecord{ip, udp, tcp, id}` produced by
// TryIntoReachable.
type ReachableNode struct {
	ID  enr.ID
	IP  net.IP
	UDP uint16
	TCP uint16 // 0 when AllowNoTCPDiscoveredNodes let a TCP-less record through
}

// TryIntoReachable converts a signed record into a ReachableNode respecting
// h's IpMode and AllowNoTCPDiscoveredNodes setting.
//
// UDP (discovery) and TCP (mempool) sockets are selected independently: a
// DualStack record prefers its IPv6 socket for UDP contact (falling back to
// IPv4) but always reads TCP from the IPv4 socket, since this process
// bootstraps tcp4 into its own local record for DualStack mode and expects
// peers to be reachable the same way. Only strict Ip6 mode reads TCP from
// the IPv6 socket. This mirrors discv5's upstream try_into_reachable: UDP
// and TCP family choice are never coupled to each other.
//
// AllowNoTCPDiscoveredNodes
// gates only UnreachableMempoolError (TCP family present, port unset). A
// record with no usable UDP socket, or whose TCP socket is the wrong family
// for the local IpMode, is always an error regardless of the flag.
func (h *Handle) TryIntoReachable(record *enr.Record) (*ReachableNode, error) {
	ip4, udp4, tcp4, has4 := record.IP4()
	ip6, udp6, tcp6, has6 := record.IP6()

	if !has4 && !has6 {
		return nil, &UnreachableDiscoveryError{}
	}

	var udpIP net.IP
	var udpPort uint16
	switch h.cfg.IpMode {
	case enode.Ip4:
		if !has4 {
			return nil, &IpVersionMismatchDiscoveryError{}
		}
		udpIP, udpPort = ip4, udp4
	case enode.Ip6:
		if !has6 {
			return nil, &IpVersionMismatchDiscoveryError{}
		}
		udpIP, udpPort = ip6, udp6
	default: // DualStack: IPv6 preferred, IPv4 fallback
		if has6 {
			udpIP, udpPort = ip6, udp6
		} else {
			udpIP, udpPort = ip4, udp4
		}
	}
	if udpPort == 0 {
		return nil, &UnreachableDiscoveryError{}
	}

	var tcpPort uint16
	var haveTCPFamily bool
	switch h.cfg.IpMode {
	case enode.Ip6:
		haveTCPFamily, tcpPort = has6, tcp6
	default: // Ip4, DualStack: always read TCP from the IPv4 socket
		haveTCPFamily, tcpPort = has4, tcp4
	}
	if !haveTCPFamily {
		return nil, &IpVersionMismatchMempoolError{}
	}
	if tcpPort == 0 && !h.cfg.AllowNoTCPDiscoveredNodes {
		return nil, &UnreachableMempoolError{}
	}

	return &ReachableNode{ID: record.ID(), IP: udpIP, UDP: udpPort, TCP: tcpPort}, nil
}

// ContactableAddr selects the single reachable socket used to build the
// "backwards compatible" record with exactly one socket: IPv4
// preferred on DualStack read-back, per IpMode.contactable_addr.
func ContactableAddr(record *enr.Record, mode enode.IpMode) (net.IP, uint16, bool) {
	ip4, udp4, _, has4 := record.IP4()
	ip6, udp6, _, has6 := record.IP6()
	switch mode {
	case enode.Ip6:
		if has6 {
			return ip6, udp6, true
		}
		return nil, 0, false
	default:
		if has4 {
			return ip4, udp4, true
		}
		if has6 {
			return ip6, udp6, true
		}
		return nil, 0, false
	}
}
