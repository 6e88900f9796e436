package ledger

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election_engine/pkg/data"
	"election_engine/pkg/merkle"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x5FbDB2315678afecb367f032d93F642f64180aa3", true},
		{" 0x5fbdb2315678afecb367f032d93f642f64180aa3 ", true},
		{"5FbDB2315678afecb367f032d93F642f64180aa3", false},
		{"0x5FbDB2315678afecb367f032d93F642f64180a", false},
		{"0xZZbDB2315678afecb367f032d93F642f64180aa3", false},
		{"0x0000000000000000000000000000000000000000", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAddress(tt.addr), tt.addr)
	}
}

func TestStatePhaseMapping(t *testing.T) {
	cases := map[State]data.Phase{
		StateUpcoming:  data.PhaseUpcoming,
		StateActive:    data.PhaseActive,
		StateCompleted: data.PhaseCompleted,
		StateCancelled: data.PhaseCancelled,
	}
	for state, want := range cases {
		got, ok := state.Phase()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := State(9).Phase()
	assert.False(t, ok)
	assert.Equal(t, "unknown", State(9).String())
}

func TestDecodeContractOutputs(t *testing.T) {
	parsed, err := parseABI()
	require.NoError(t, err)

	roundTrip := func(method string, values ...interface{}) []interface{} {
		outputs := parsed.Methods[method].Outputs
		packed, err := outputs.Pack(values...)
		require.NoError(t, err)
		out, err := outputs.Unpack(packed)
		require.NoError(t, err)
		return out
	}

	t.Run("Stats", func(t *testing.T) {
		stats, err := decodeStats(roundTrip("getStats", big.NewInt(11), big.NewInt(3)))
		require.NoError(t, err)
		assert.Equal(t, &Stats{TotalVotes: 11, CandidateCount: 3}, stats)
	})

	t.Run("Candidates", func(t *testing.T) {
		out := roundTrip("getCandidates", []abiCandidate{
			{Id: big.NewInt(1), Name: "Ada", VoteCount: big.NewInt(4)},
			{Id: big.NewInt(2), Name: "Grace", VoteCount: big.NewInt(7)},
		})
		candidates, err := decodeCandidates(out)
		require.NoError(t, err)
		assert.Equal(t, []Candidate{{ID: 1, Name: "Ada", VoteCount: 4}, {ID: 2, Name: "Grace", VoteCount: 7}}, candidates)
	})

	t.Run("Details", func(t *testing.T) {
		start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
		out := roundTrip("getDetails", big.NewInt(42), "Board", big.NewInt(start.Unix()),
			big.NewInt(start.Add(time.Hour).Unix()), uint8(StateActive), true, big.NewInt(17))
		details, err := decodeDetails(out)
		require.NoError(t, err)
		assert.Equal(t, &Details{
			ID:         42,
			Title:      "Board",
			StartTime:  start,
			EndTime:    start.Add(time.Hour),
			State:      StateActive,
			IsPublic:   true,
			TotalVotes: 17,
		}, details)
	})

	t.Run("UnsetRoot", func(t *testing.T) {
		root, err := decodeRoot(roundTrip("merkleRoot", [32]byte{}))
		require.NoError(t, err)
		assert.Empty(t, root)
	})

	t.Run("Root", func(t *testing.T) {
		tree, err := merkle.Build([]string{"alice", "bob"})
		require.NoError(t, err)
		var raw [32]byte
		copy(raw[:], tree.Root())

		root, err := decodeRoot(roundTrip("merkleRoot", raw))
		require.NoError(t, err)
		assert.Equal(t, tree.RootHex(), root)
	})

	t.Run("WrongArity", func(t *testing.T) {
		_, err := decodeStats([]interface{}{big.NewInt(1)})
		assert.True(t, data.IsKind(err, data.KindLedgerUnavailable))

		_, err = decodeDetails([]interface{}{big.NewInt(1), "Board"})
		assert.True(t, data.IsKind(err, data.KindLedgerUnavailable))
	})

	t.Run("OutOfRange", func(t *testing.T) {
		huge := new(big.Int).Add(big.NewInt(math.MaxInt64), big.NewInt(1))

		_, err := decodeStats(roundTrip("getStats", huge, big.NewInt(3)))
		assert.True(t, data.IsKind(err, data.KindLedgerUnavailable))

		_, err = decodeCandidates(roundTrip("getCandidates", []abiCandidate{
			{Id: big.NewInt(1), Name: "Ada", VoteCount: huge},
		}))
		assert.True(t, data.IsKind(err, data.KindLedgerUnavailable))

		_, err = decodeDetails(roundTrip("getDetails", big.NewInt(1), "Board", huge,
			big.NewInt(2), uint8(StateActive), false, big.NewInt(0)))
		assert.True(t, data.IsKind(err, data.KindLedgerUnavailable))
	})
}

func TestSetRootRequiresSigner(t *testing.T) {
	c := &EthClient{}
	err := c.SetRoot(context.Background(), "0x5FbDB2315678afecb367f032d93F642f64180aa3", "0x01")
	assert.True(t, data.IsKind(err, data.KindValidation))
}

func TestCallRejectsInvalidAddress(t *testing.T) {
	parsed, err := parseABI()
	require.NoError(t, err)
	c := &EthClient{abi: parsed}

	_, err = c.GetStats(context.Background(), "not-an-address")
	assert.True(t, data.IsKind(err, data.KindValidation))
}
