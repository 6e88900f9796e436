package merkle

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccak256KnownVector(t *testing.T) {
	assert.Equal(t,
		"4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45",
		hex.EncodeToString(Keccak256([]byte("abc"))))
}

func TestRootIsOrderIndependent(t *testing.T) {
	voters := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace"}
	want, err := ComputeRoot(voters)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]string(nil), voters...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := ComputeRoot(shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRootCanonicalizesInput(t *testing.T) {
	want, err := ComputeRoot([]string{"alice", "bob"})
	require.NoError(t, err)

	got, err := ComputeRoot([]string{" bob", "alice", "bob ", "", "alice"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEmptyVoterSet(t *testing.T) {
	_, err := ComputeRoot(nil)
	assert.ErrorIs(t, err, ErrEmptyVoterSet)

	_, err = ComputeRoot([]string{" ", ""})
	assert.ErrorIs(t, err, ErrEmptyVoterSet)
}

func TestTreeShape(t *testing.T) {
	t.Run("SingleLeaf", func(t *testing.T) {
		tree, err := Build([]string{"abc"})
		require.NoError(t, err)
		assert.Equal(t, "0x4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45", tree.RootHex())
	})

	t.Run("TwoLeavesHashedSorted", func(t *testing.T) {
		a, b := LeafHash("alice"), LeafHash("bob")
		tree, err := Build([]string{"alice", "bob"})
		require.NoError(t, err)
		assert.Equal(t, hashPair(a, b), tree.Root())
		assert.Equal(t, hashPair(b, a), tree.Root())
	})

	t.Run("OddNodePromoted", func(t *testing.T) {
		a, b, c := LeafHash("alice"), LeafHash("bob"), LeafHash("carol")
		tree, err := Build([]string{"carol", "alice", "bob"})
		require.NoError(t, err)
		assert.Equal(t, hashPair(hashPair(a, b), c), tree.Root())
		assert.Equal(t, 3, tree.Size())
	})

	t.Run("RootHexFormat", func(t *testing.T) {
		root, err := ComputeRoot([]string{"alice"})
		require.NoError(t, err)
		assert.Len(t, root, 66)
		assert.Regexp(t, "^0x[0-9a-f]{64}$", root)

		decoded, err := DecodeHex(root)
		require.NoError(t, err)
		assert.Equal(t, root, EncodeHex(decoded))
	})
}

func TestProofs(t *testing.T) {
	for n := 1; n <= 9; n++ {
		voters := make([]string, n)
		for i := range voters {
			voters[i] = fmt.Sprintf("voter-%02d", i)
		}
		tree, err := Build(voters)
		require.NoError(t, err)

		for _, v := range voters {
			proof, ok := tree.Proof(v)
			require.True(t, ok, "n=%d voter=%s", n, v)
			assert.True(t, Verify(v, proof, tree.Root()), "n=%d voter=%s", n, v)
		}
	}
}

func TestProofRejectsOutsiders(t *testing.T) {
	tree, err := Build([]string{"alice", "bob", "carol"})
	require.NoError(t, err)

	_, ok := tree.Proof("mallory")
	assert.False(t, ok)

	proof, ok := tree.Proof("alice")
	require.True(t, ok)
	assert.False(t, Verify("mallory", proof, tree.Root()))
	assert.False(t, Verify("alice", nil, tree.Root()))

	other, err := Build([]string{"alice", "bob"})
	require.NoError(t, err)
	assert.False(t, Verify("alice", proof, other.Root()))
}

func TestDecodeHexRejectsMalformed(t *testing.T) {
	_, err := DecodeHex("0x1234")
	assert.Error(t, err)
	_, err = DecodeHex("0xzz")
	assert.Error(t, err)
}
