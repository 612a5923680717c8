package discover

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/nodecore/enode"
	"github.com/ledgerwatch/nodecore/enr"
)

func dualStackHandle(t *testing.T, port uint16) *Handle {
	t.Helper()
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	tr, err := NewMemTransport(fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	cfg := NewConfigBuilder().ListenDual("127.0.0.1", port, "::1", port).Build()
	h, err := NewHandle(cfg, priv, tr, testLogger())
	require.NoError(t, err)
	return h
}

// TestTryIntoReachableDualStackPrefersIPv6ForUDPAndIPv4ForTCP covers the
// decoupled UDP/TCP family selection: a record with both sockets set
// should contact over its IPv6 UDP socket but its IPv4 TCP port.
func TestTryIntoReachableDualStackPrefersIPv6ForUDPAndIPv4ForTCP(t *testing.T) {
	h := dualStackHandle(t, 42001)
	defer h.Close()

	rec := newRecordFor(t)
	rec.SetIP4(net.ParseIP("203.0.113.1"), 30301, 30303)
	rec.SetIP6(net.ParseIP("2001:db8::1"), 30301, 30304)

	reachable, err := h.TryIntoReachable(rec)
	require.NoError(t, err)
	require.True(t, reachable.IP.Equal(net.ParseIP("2001:db8::1")), "UDP contact must be over IPv6, got %v", reachable.IP)
	require.Equal(t, uint16(30303), reachable.TCP, "TCP port must come from the IPv4 socket")
}

// TestTryIntoReachableDualStackIPv6OnlyRecordMismatchesMempool covers the
// bug this decoupling fixes: a DualStack-mode node discovering a record
// that only has an IPv6 socket can still contact it over UDP (IPv6
// preferred) but must report IpVersionMismatchMempoolError for TCP, since
// this process dials mempool peers over IPv4 in DualStack mode.
func TestTryIntoReachableDualStackIPv6OnlyRecordMismatchesMempool(t *testing.T) {
	h := dualStackHandle(t, 42002)
	defer h.Close()

	rec := newRecordFor(t)
	rec.SetIP6(net.ParseIP("2001:db8::2"), 30301, 30303)

	reachable, err := h.TryIntoReachable(rec)
	require.Nil(t, reachable)
	require.IsType(t, &IpVersionMismatchMempoolError{}, err)
}

// TestTryIntoReachableIp6ModeReadsTCPFromIPv6Socket checks the strict Ip6
// branch of the decoupled selection.
func TestTryIntoReachableIp6ModeReadsTCPFromIPv6Socket(t *testing.T) {
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	tr, err := NewMemTransport("[::1]:42003")
	require.NoError(t, err)
	cfg := NewConfigBuilder().ListenIpv6("::1", 42003).Build()
	h, err := NewHandle(cfg, priv, tr, testLogger())
	require.NoError(t, err)
	defer h.Close()

	rec := newRecordFor(t)
	rec.SetIP6(net.ParseIP("2001:db8::3"), 30301, 30305)

	reachable, err := h.TryIntoReachable(rec)
	require.NoError(t, err)
	require.Equal(t, uint16(30305), reachable.TCP, "TCP port must come from the IPv6 socket")
}

// TestTryIntoReachableNoTCPPortHonorsAllowNoTCP covers the
// AllowNoTCPDiscoveredNodes gate: the TCP family is present but the port is
// unset, which is UnreachableMempoolError unless the flag allows it.
func TestTryIntoReachableNoTCPPortHonorsAllowNoTCP(t *testing.T) {
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	tr, err := NewMemTransport("127.0.0.1:42004")
	require.NoError(t, err)
	cfg := NewConfigBuilder().ListenIpv4("127.0.0.1", 42004).AllowNoTCP(true).Build()
	h, err := NewHandle(cfg, priv, tr, testLogger())
	require.NoError(t, err)
	defer h.Close()

	rec := newRecordFor(t)
	rec.SetIP4(net.ParseIP("203.0.113.5"), 30301, 0)

	reachable, err := h.TryIntoReachable(rec)
	require.NoError(t, err)
	require.Zero(t, reachable.TCP)
}

// TestBuildBackwardsCompatibleRecordKeepsOneSocket checks the
// single-socket companion record: DualStack read-back prefers the IPv4
// socket and the IPv6 one is dropped entirely.
func TestBuildBackwardsCompatibleRecordKeepsOneSocket(t *testing.T) {
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	full := enr.NewLocal(priv)
	full.SetIP4(net.ParseIP("203.0.113.9"), 30301, 30303)
	full.SetIP6(net.ParseIP("2001:db8::9"), 30401, 30403)

	rec, err := BuildBackwardsCompatibleRecord(full, enode.DualStack, priv)
	require.NoError(t, err)

	ip, udp, tcp, ok := rec.IP4()
	require.True(t, ok, "IPv4 socket must be carried over")
	require.True(t, ip.Equal(net.ParseIP("203.0.113.9")))
	require.Equal(t, uint16(30301), udp)
	require.Equal(t, uint16(30303), tcp)

	_, _, _, has6 := rec.IP6()
	require.False(t, has6, "IPv6 socket must be dropped from the compat record")
}

func newRecordFor(t *testing.T) *enr.Record {
	t.Helper()
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	return enr.NewLocal(priv)
}
