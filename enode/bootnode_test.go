package enode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Two real op-sepolia signed ENR bootnodes.
const opSepoliaBootnodes = "enr:-J64QBwRIWAco7lv6jImSOjPU_W266lHXzpAS5YOh7WmgTyBZkgLgOwo_mxKJq3wz2XRbsoBItbv1dCyjIoNq67mFguGAYrTxM42gmlkgnY0gmlwhBLSsHKHb3BzdGFja4S0lAUAiXNlY3AyNTZrMaEDmoWSi8hcsRpQf2eJsNUx-sqv6fH4btmo2HsAzZFAKnKDdGNwgiQGg3VkcIIkBg,enr:-J64QFa3qMsONLGphfjEkeYyF6Jkil_jCuJmm7_a42ckZeUQGLVzrzstZNb1dgBp1GGx9bzImq5VxJLP-BaptZThGiWGAYrTytOvgmlkgnY0gmlwhGsV-zeHb3BzdGFja4S0lAUAiXNlY3AyNTZrMaEDahfSECTIS_cXyZ8IyNf4leANlZnrsMEWTkEYxf4GMCmDdGNwgiQGg3VkcIIkBg"

// Five legacy op-geth enode:// bootnode URIs.
const opGethBootnodes = "enode://87a32fd13bd596b2ffca97020e31aef4ddcc1bbd4b95bb633d16c1329f654f34049ed240a36b449fda5e5225d70fe40bc667f53c304b71f8e68fc9d448690b51@3.231.138.188:30301,enode://ca21ea8f176adb2e229ce2d700830c844af0ea941a1d8152a9513b966fe525e809c3a6c73a2c18a12b74ed6ec4380edf91662778fe0b79f6a591236e49e176f9@184.72.129.189:30301,enode://acf4507a211ba7c1e52cdf4eef62cdc3c32e7c9c47998954f7ba024026f9a6b2150cd3f0b734d9c78e507ab70d59ba61dfe5c45e1078c7ad0775fb251d7735a2@3.220.145.177:30301,enode://8a5a5006159bf079d06a04e5eceab2a1ce6e0f721875b2a9c96905336219dbe14203d38f70f3754686a6324f786c2f9852d8c0dd3adac2d080f4db35efc678c5@3.231.11.52:30301,enode://cdadbe835308ad3557f9a1de8db411da1a260a98f8421d62da90e71da66e55e98aaa8e90aa7ce01b408a54e4bd2253d701218081ded3dbe5efbbc7b41d7cef79@54.198.153.150:30301"

func TestParseSignedBootNodesOpSepolia(t *testing.T) {
	nodes := ParseSignedBootNodes(opSepoliaBootnodes)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		ip4, udp, tcp, ok := n.Signed.IP4()
		require.True(t, ok, "expected an ipv4 socket")
		require.Contains(t, []string{"18.210.176.114", "107.21.251.55"}, ip4.String())
		require.Equal(t, uint16(9222), udp)
		require.Equal(t, uint16(9222), tcp)

		raw, ok := n.Signed.Get("opstack")
		require.True(t, ok, "expected opstack kv entry")
		require.Equal(t, []byte{0xb4, 0x94, 0x05, 0x00}, raw)
	}
}

func TestParseSignedBootNodesRobustness(t *testing.T) {
	// Boot parse is a filter, not all-or-nothing: a malformed entry must
	// not drop its well-formed neighbors.
	mixed := "not-an-enr," + opSepoliaBootnodes + ",also-garbage"
	nodes := ParseSignedBootNodes(mixed)
	require.Len(t, nodes, 2, "malformed entries must be dropped without affecting others")
}

func TestParseLegacyBootNodesOpGeth(t *testing.T) {
	nodes := ParseLegacyBootNodes(opGethBootnodes)
	require.Len(t, nodes, 5)
	seen := make(map[string]bool)
	for _, n := range nodes {
		require.False(t, seen[n.Legacy], "duplicate multiaddress %s", n.Legacy)
		seen[n.Legacy] = true
	}
}

func TestParseEnodeURIIsDeterministic(t *testing.T) {
	uri := "enode://87a32fd13bd596b2ffca97020e31aef4ddcc1bbd4b95bb633d16c1329f654f34049ed240a36b449fda5e5225d70fe40bc667f53c304b71f8e68fc9d448690b51@3.231.138.188:30301"
	a, err := ParseEnodeURI(uri)
	require.NoError(t, err)
	b, err := ParseEnodeURI(uri)
	require.NoError(t, err)
	require.Equal(t, a, b, "parsing the same enode URI twice must produce the same multiaddress")
	require.True(t, strings.HasPrefix(a, "/ip4/3.231.138.188/udp/30301/p2p/"), "unexpected multiaddress shape: %s", a)
}

func TestParseLegacyBootNodesRobustness(t *testing.T) {
	mixed := "enode://bad," + opGethBootnodes
	nodes := ParseLegacyBootNodes(mixed)
	require.Len(t, nodes, 5, "malformed entry must be dropped")
}
