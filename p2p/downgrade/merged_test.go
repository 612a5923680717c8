package downgrade

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/nodecore/enr"
	"github.com/ledgerwatch/nodecore/p2p/discover"
	"github.com/ledgerwatch/nodecore/rlpx"
)

func newTestV5Handle(t *testing.T, port uint16) *discover.Handle {
	t.Helper()
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	tr, err := discover.NewMemTransport(fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	cfg := discover.NewConfigBuilder().
		ListenIpv4("127.0.0.1", port).
		ForkID("fork_id_key", rlpx.ForkID{Hash: [4]byte{9, 9, 9, 9}}).
		Build()
	h, err := discover.NewHandle(cfg, priv, tr, testLogger())
	require.NoError(t, err)
	return h
}

// TestNewMirrorForRejectsCollidingPort checks the v4 socket must use a
// different UDP port than v5's listen port.
func TestNewMirrorForRejectsCollidingPort(t *testing.T) {
	h := newTestV5Handle(t, 41010)
	defer h.Close()

	_, err := NewMirrorFor(h, 41010, testLogger())
	require.Error(t, err, "a v4 port colliding with v5's listen port must be rejected")

	m, err := NewMirrorFor(h, 41011, testLogger())
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, uint16(41011), m.UDPPort())
}

// TestMergedStreamOrdersV4RemovalBeforeV5Event: for a v5 NodeInserted that
// subsumes a mirrored peer, the merged stream yields the v4 Removed update
// before the triggering v5 event.
func TestMergedStreamOrdersV4RemovalBeforeV5Event(t *testing.T) {
	h := newTestV5Handle(t, 41001)
	defer h.Close()

	v5 := ViewOf(h)
	m := NewMirror(v5, testLogger())
	defer m.Close()

	stream := NewMergedStream(h, m, testLogger())
	defer stream.Close()

	peer := newRecord(t)
	peer.SetIP4(net.ParseIP("127.0.0.1"), 41002, 30303)
	m.Add(peer)
	require.True(t, m.Contains(peer.ID()), "mirror must admit a peer unknown to v5")

	require.NoError(t, h.AddNode(peer))

	var sawV4Removed, sawV5Insert bool
	deadline := time.After(2 * time.Second)
	for !sawV5Insert {
		select {
		case item := <-stream.Items():
			switch item.Kind {
			case ItemV4:
				if item.V4.Kind == UpdateRemoved && item.V4.NodeID == peer.ID() {
					require.False(t, sawV5Insert, "v4 Removed must not arrive after the triggering v5 event")
					sawV4Removed = true
				}
			case ItemV5:
				if item.V5.Kind == discover.EventNodeInserted && item.V5.NodeID == peer.ID() {
					sawV5Insert = true
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for merged stream items")
		}
	}
	require.True(t, sawV4Removed, "expected a v4 Removed update for the node v5 just inserted")
}
