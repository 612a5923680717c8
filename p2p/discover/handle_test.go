package discover

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/nodecore/enr"
	"github.com/ledgerwatch/nodecore/logging"
	"github.com/ledgerwatch/nodecore/rlpx"
)

func testLogger() log.Logger {
	return logging.New("discover-test", log.LvlCrit)
}

func newTestHandle(t *testing.T, port uint16) *Handle {
	t.Helper()
	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	tr, err := NewMemTransport(addr)
	require.NoError(t, err)
	cfg := NewConfigBuilder().
		ListenIpv4("127.0.0.1", port).
		ForkID("fork_id_key", rlpx.ForkID{Hash: [4]byte{1, 2, 3, 4}, Next: 0}).
		Build()
	h, err := NewHandle(cfg, priv, tr, testLogger())
	require.NoError(t, err)
	return h
}

// TestTwoNodeSession: node_1.AddNode(node_2's record) then Ping
// establishes a session on both event streams and node_1 ends up in
// node_2's k-buckets.
func TestTwoNodeSession(t *testing.T) {
	n1 := newTestHandle(t, 40001)
	n2 := newTestHandle(t, 40002)
	defer n1.Close()
	defer n2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, n1.Start(ctx))
	require.NoError(t, n2.Start(ctx))

	events1, unsub1 := n1.EventStream()
	defer unsub1()
	events2, unsub2 := n2.EventStream()
	defer unsub2()

	require.NoError(t, n1.AddNode(n2.LocalRecord()))
	require.NoError(t, n1.Ping(ctx, n2.LocalRecord()))

	waitForSessionEstablished(t, events1)
	waitForSessionEstablished(t, events2)

	found := false
	n2.KBucketsSnapshot(func(tbl *Table) {
		found = tbl.Contains(n1.LocalRecord().ID())
	})
	require.True(t, found, "node_1 must appear in node_2's k-buckets after ping")
}

func waitForSessionEstablished(t *testing.T, events <-chan Event) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == EventSessionEstablished {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for SessionEstablished")
		}
	}
}

func TestFilterPredicateTracesIgnoredReason(t *testing.T) {
	var gotID enr.ID
	var gotReason string
	f := rejectAllFilter{reason: "denylisted"}
	pred := asPredicate(f, func(id enr.ID, reason string) {
		gotID, gotReason = id, reason
	})

	priv, err := enr.GeneratePrivateKey()
	require.NoError(t, err)
	rec := enr.NewLocal(priv)

	require.False(t, pred(rec), "predicate must reject")
	require.Equal(t, rec.ID(), gotID)
	require.Equal(t, "denylisted", gotReason)
}

type rejectAllFilter struct{ reason string }

func (f rejectAllFilter) FilterDiscoveredPeer(*enr.Record) Outcome { return Ignore(f.reason) }

func TestConfigBuilderDefaults(t *testing.T) {
	cfg := NewConfigBuilder().Build()
	require.Equal(t, uint16(30303), cfg.AdvertisedTCPPort)
	require.Equal(t, 60*time.Second, cfg.SelfLookupInterval)
	require.False(t, cfg.AllowNoTCPDiscoveredNodes)
	require.IsType(t, AllowAllFilter{}, cfg.Filter)
}

func TestBanExcludesFromAddNode(t *testing.T) {
	n1 := newTestHandle(t, 40011)
	n2 := newTestHandle(t, 40012)
	defer n1.Close()
	defer n2.Close()

	n1.Ban(n2.LocalRecord().ID(), nil)
	require.Error(t, n1.AddNode(n2.LocalRecord()), "AddNode must fail for a banned node id")
}
