package enr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetBumpsSequenceAndReSigns(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	r := NewLocal(priv)
	seq0 := r.Seq()
	require.True(t, r.Verify(), "fresh record must verify")

	require.NoError(t, r.Set("fork_id", []byte{1, 2, 3, 4}))
	require.Greater(t, r.Seq(), seq0, "sequence must increase on mutation")
	require.True(t, r.Verify(), "record must verify after mutation")

	seq1 := r.Seq()
	require.NoError(t, r.Set("fork_id", []byte{5, 6, 7, 8}))
	require.Greater(t, r.Seq(), seq1, "sequence must strictly increase on every mutation, even same key")
}

func TestMarshalParseRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	r := NewLocal(priv)
	require.NoError(t, r.Set("fork_id", []byte{0x84, 0xb4, 0x94, 0x05, 0x00}))

	text := r.Marshal()
	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, r.Seq(), parsed.Seq())
	require.True(t, parsed.Verify(), "parsed record must verify")

	v, ok := parsed.Get("fork_id")
	require.True(t, ok, "fork_id kv must be preserved")
	require.Equal(t, []byte{0x84, 0xb4, 0x94, 0x05, 0x00}, v)
	require.Equal(t, r.ID(), parsed.ID(), "node id must be derivable identically from the parsed public key")
}

func TestRemoteRecordCannotMutate(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	r := NewLocal(priv)
	text := r.Marshal()
	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Error(t, parsed.Set("k", []byte("v")), "Set on a remote record must fail")
}
