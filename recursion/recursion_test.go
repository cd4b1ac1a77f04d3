package recursion

import (
	"context"
	"testing"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/prover"
	"github.com/btcq-org/lightproof/testutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

var (
	recursionSystem = testutil.NewHeadProofSystem()
	wrapperSystem   = testutil.NewHeadProofSystem()

	genesisCommittee = common.Hash{0xcc}
)

func testKeys(t *testing.T) Keys {
	t.Helper()
	rec, err := NewVerifierFromBytes(recursionSystem.VerifyingKey())
	require.NoError(t, err)
	wrap, err := NewVerifierFromBytes(wrapperSystem.VerifyingKey())
	require.NoError(t, err)
	return Keys{
		RecursionProgram: "recursion.bin",
		WrapperProgram:   "wrapper.bin",
		BaseVKDigest:     common.Hash{0xba},
		CommitteeHash:    genesisCommittee,
		Recursion:        rec,
		Wrapper:          wrap,
	}
}

func baseProof(prev, next common.Checkpoint) *common.BaseProof {
	return &common.BaseProof{
		Proof: common.Proof{Data: []byte{0xb0}, PublicValues: []byte{0xb1}},
		Outputs: common.ProofOutputs{
			PrevRoot:            prev.Root,
			PrevPosition:        prev.Position,
			PrevCommitteeHash:   genesisCommittee,
			NewRoot:             next.Root,
			NewPosition:         next.Position,
			CommitteeHash:       genesisCommittee,
			ActiveCommitteeHash: genesisCommittee,
		},
	}
}

// anchorAt resolves cp to a distinct execution commitment.
func anchorAt(cp common.Checkpoint) *common.Anchor {
	return &common.Anchor{
		Checkpoint: cp,
		Commitment: common.Commitment{Height: cp.Position.Uint64() * 10, StateRoot: common.Hash{0x5e, cp.Root[0]}},
		Evidence:   []byte{0xe0, cp.Root[0]},
	}
}

// recursionProof is what a well behaved recursion program returns.
func recursionProof(t *testing.T, c common.Commitment, active, vkDigest common.Hash) common.Proof {
	out, err := rlp.EncodeToBytes(&RecursionOutputs{ActiveCommittee: active, Root: c.StateRoot, Height: c.Height, VKDigest: vkDigest})
	require.NoError(t, err)
	return common.Proof{Data: recursionSystem.Prove(c.Checkpoint()), PublicValues: out}
}

func wrapperProof(t *testing.T, c common.Commitment) common.Proof {
	out, err := rlp.EncodeToBytes(&WrapperOutputs{Height: c.Height, Root: c.StateRoot})
	require.NoError(t, err)
	return common.Proof{Data: wrapperSystem.Prove(c.Checkpoint()), PublicValues: out}
}

func TestCheckContinuity(t *testing.T) {
	genesis := common.NewCheckpoint(common.Hash{0x01}, 1000)
	next := common.NewCheckpoint(common.Hash{0x02}, 1500)

	require.NoError(t, CheckContinuity(baseProof(genesis, next).Outputs, nil, genesis, genesisCommittee))

	other := common.NewCheckpoint(common.Hash{0x09}, 1000)
	require.ErrorIs(t, CheckContinuity(baseProof(other, next).Outputs, nil, genesis, genesisCommittee), common.ErrContinuity)

	prior := &common.RecursiveProof{Outputs: baseProof(genesis, next).Outputs, Head: next}
	after := common.NewCheckpoint(common.Hash{0x03}, 2000)
	require.NoError(t, CheckContinuity(baseProof(next, after).Outputs, prior, genesis, genesisCommittee))
	require.ErrorIs(t, CheckContinuity(baseProof(genesis, after).Outputs, prior, genesis, genesisCommittee), common.ErrContinuity)

	require.ErrorIs(t, CheckContinuity(baseProof(next, next).Outputs, prior, genesis, genesisCommittee), common.ErrContinuity)
}

func TestCheckContinuityCommittees(t *testing.T) {
	genesis := common.NewCheckpoint(common.Hash{0x01}, 1000)
	next := common.NewCheckpoint(common.Hash{0x02}, 1500)
	after := common.NewCheckpoint(common.Hash{0x03}, 2000)

	// first round must start from the committee trusted at genesis
	first := baseProof(genesis, next).Outputs
	first.PrevCommitteeHash = common.Hash{0xde, 0xad}
	err := CheckContinuity(first, nil, genesis, genesisCommittee)
	require.ErrorIs(t, err, common.ErrContinuity)
	require.Contains(t, err.Error(), "genesis committee")

	// later rounds must start from the committee the prior round handed over
	rotated := baseProof(genesis, next).Outputs
	rotated.NextCommitteeHash = common.Hash{0xaa}
	rotated.ActiveCommitteeHash = common.Hash{0xaa}
	prior := &common.RecursiveProof{Outputs: rotated, Head: next}

	stale := baseProof(next, after).Outputs
	err = CheckContinuity(stale, prior, genesis, genesisCommittee)
	require.ErrorIs(t, err, common.ErrContinuity)
	require.Contains(t, err.Error(), "handed over")

	forged := baseProof(next, after).Outputs
	forged.PrevCommitteeHash = common.Hash{0xde, 0xad}
	require.ErrorIs(t, CheckContinuity(forged, prior, genesis, genesisCommittee), common.ErrContinuity)

	handedOver := baseProof(next, after).Outputs
	handedOver.PrevCommitteeHash = common.Hash{0xaa}
	require.NoError(t, CheckContinuity(handedOver, prior, genesis, genesisCommittee))
}

func TestRecurseFirstRound(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := testutil.NewMockEngine(ctrl)
	keys := testKeys(t)
	genesis := common.NewCheckpoint(common.Hash{0x01}, 1000)
	next := common.NewCheckpoint(common.Hash{0x02}, 1500)
	anchor := anchorAt(next)

	engine.EXPECT().Prove(gomock.Any(), "recursion.bin", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, input []byte) (common.Proof, error) {
			var in RecursionInput
			require.NoError(t, rlp.DecodeBytes(input, &in))
			require.False(t, in.HasPrior)
			require.Equal(t, genesis.Root, in.GenesisRoot)
			require.EqualValues(t, 1000, in.GenesisPosition)
			require.Equal(t, genesisCommittee, in.GenesisCommitteeHash)
			require.Equal(t, []byte(anchor.Evidence), in.AnchorEvidence)
			require.Equal(t, common.Hash{0xba}, in.BaseVKDigest)
			return recursionProof(t, anchor.Commitment, genesisCommittee, keys.Recursion.Digest()), nil
		})

	r := NewRecursor(prover.NewInvoker(engine, nil, 0), keys)
	rec, err := r.Recurse(context.Background(), baseProof(genesis, next), anchor, nil, genesis)
	require.NoError(t, err)
	require.Equal(t, next, rec.Head)
	require.Equal(t, anchor.Commitment, rec.Commitment)
	require.Equal(t, genesis, rec.Outputs.Prev())
}

func TestRecurseGenesisMismatchSkipsProving(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := testutil.NewMockEngine(ctrl)
	engine.EXPECT().Prove(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	genesis := common.NewCheckpoint(common.Hash{0x01}, 1000)
	next := common.NewCheckpoint(common.Hash{0x02}, 1500)
	r := NewRecursor(prover.NewInvoker(engine, nil, 0), testKeys(t))
	_, err := r.Recurse(context.Background(),
		baseProof(common.NewCheckpoint(common.Hash{0x01}, 900), next), anchorAt(next), nil, genesis)
	require.ErrorIs(t, err, common.ErrContinuity)
	require.True(t, common.IsCritical(err))
	require.Equal(t, common.StageRecursing, common.StageOf(err))

	// an anchor for another checkpoint is a continuity failure too
	_, err = r.Recurse(context.Background(),
		baseProof(genesis, next), anchorAt(common.NewCheckpoint(common.Hash{0x02}, 1400)), nil, genesis)
	require.ErrorIs(t, err, common.ErrContinuity)
	require.True(t, common.IsCritical(err))
}

func TestRecurseWithPrior(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := testutil.NewMockEngine(ctrl)
	keys := testKeys(t)
	genesis := common.NewCheckpoint(common.Hash{0x01}, 1000)
	mid := common.NewCheckpoint(common.Hash{0x02}, 1500)
	next := common.NewCheckpoint(common.Hash{0x03}, 2000)
	prior := &common.RecursiveProof{
		Proof:      common.Proof{Data: []byte{0xaa}, PublicValues: []byte{0xab}},
		Outputs:    baseProof(genesis, mid).Outputs,
		Head:       mid,
		Commitment: anchorAt(mid).Commitment,
	}
	anchor := anchorAt(next)

	engine.EXPECT().Prove(gomock.Any(), "recursion.bin", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, input []byte) (common.Proof, error) {
			var in RecursionInput
			require.NoError(t, rlp.DecodeBytes(input, &in))
			require.True(t, in.HasPrior)
			require.Equal(t, []byte{0xaa}, in.PriorProof)
			return recursionProof(t, anchor.Commitment, genesisCommittee, keys.Recursion.Digest()), nil
		})

	rec, err := NewRecursor(prover.NewInvoker(engine, nil, 0), keys).
		Recurse(context.Background(), baseProof(mid, next), anchor, prior, genesis)
	require.NoError(t, err)
	require.Equal(t, next, rec.Head)
	require.Equal(t, anchor.Commitment, rec.Commitment)
}

func TestRecurseRejectsBadOutputs(t *testing.T) {
	genesis := common.NewCheckpoint(common.Hash{0x01}, 1000)
	next := common.NewCheckpoint(common.Hash{0x02}, 1500)
	anchor := anchorAt(next)
	keys := testKeys(t)

	testCases := []struct {
		name  string
		proof func() common.Proof
		err   error
	}{
		{
			name: "committed height differs",
			proof: func() common.Proof {
				c := anchor.Commitment
				c.Height--
				return recursionProof(t, c, genesisCommittee, keys.Recursion.Digest())
			},
			err: common.ErrInvalidProof,
		},
		{
			name: "committed consensus root instead of state root",
			proof: func() common.Proof {
				c := common.Commitment{Height: anchor.Commitment.Height, StateRoot: next.Root}
				return recursionProof(t, c, genesisCommittee, keys.Recursion.Digest())
			},
			err: common.ErrInvalidProof,
		},
		{
			name: "committed committee differs",
			proof: func() common.Proof {
				return recursionProof(t, anchor.Commitment, common.Hash{0xde, 0xad}, keys.Recursion.Digest())
			},
			err: common.ErrInvalidProof,
		},
		{
			name: "committed vk differs",
			proof: func() common.Proof {
				return recursionProof(t, anchor.Commitment, genesisCommittee, common.Hash{0xee})
			},
			err: common.ErrArtifactMismatch,
		},
		{
			name: "proof does not verify",
			proof: func() common.Proof {
				p := recursionProof(t, anchor.Commitment, genesisCommittee, keys.Recursion.Digest())
				p.Data = wrapperSystem.Prove(anchor.Commitment.Checkpoint())
				return p
			},
			err: common.ErrInvalidProof,
		},
		{
			name:  "garbage outputs",
			proof: func() common.Proof { return common.Proof{Data: []byte{1}, PublicValues: []byte{0xff, 0xff}} },
			err:   common.ErrInvalidProof,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			engine := testutil.NewMockEngine(ctrl)
			engine.EXPECT().Prove(gomock.Any(), gomock.Any(), gomock.Any()).Return(tc.proof(), nil)

			_, err := NewRecursor(prover.NewInvoker(engine, nil, 0), keys).
				Recurse(context.Background(), baseProof(genesis, next), anchor, nil, genesis)
			require.ErrorIs(t, err, tc.err)
			require.True(t, common.IsCritical(err))
		})
	}
}

func TestWrap(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := testutil.NewMockEngine(ctrl)
	keys := testKeys(t)
	head := common.NewCheckpoint(common.Hash{0x02}, 1500)
	commitment := anchorAt(head).Commitment
	rec := &common.RecursiveProof{
		Proof:      common.Proof{Data: []byte{0xaa}, PublicValues: []byte{0xab}},
		Head:       head,
		Commitment: commitment,
	}

	engine.EXPECT().Prove(gomock.Any(), "wrapper.bin", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, input []byte) (common.Proof, error) {
			var in WrapperInput
			require.NoError(t, rlp.DecodeBytes(input, &in))
			require.Equal(t, []byte{0xaa}, in.RecursiveProof)
			require.Equal(t, keys.Recursion.Digest(), in.RecursionVKDigest)
			return wrapperProof(t, commitment), nil
		})

	r := NewRecursor(prover.NewInvoker(engine, nil, 0), keys)
	wrapped, err := r.Wrap(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, head, wrapped.Head)
	require.Equal(t, commitment, wrapped.Commitment)

	// a wrapper proof for another commitment is rejected
	engine.EXPECT().Prove(gomock.Any(), "wrapper.bin", gomock.Any()).
		Return(wrapperProof(t, common.Commitment{Height: commitment.Height - 1, StateRoot: commitment.StateRoot}), nil)
	_, err = r.Wrap(context.Background(), rec)
	require.ErrorIs(t, err, common.ErrInvalidProof)
	require.Equal(t, common.StageWrapping, common.StageOf(err))

	// so is one committing the consensus head instead of the execution state
	engine.EXPECT().Prove(gomock.Any(), "wrapper.bin", gomock.Any()).
		Return(wrapperProof(t, common.Commitment{Height: head.Position.Uint64(), StateRoot: head.Root}), nil)
	_, err = r.Wrap(context.Background(), rec)
	require.ErrorIs(t, err, common.ErrInvalidProof)
}

func TestVerifier(t *testing.T) {
	v, err := NewVerifierFromBytes(recursionSystem.VerifyingKey())
	require.NoError(t, err)
	require.Equal(t, Digest(recursionSystem.VerifyingKey()), v.Digest())

	head := common.NewCheckpoint(testutil.GetRandomHash(), 31134400)
	proof := recursionSystem.Prove(head)
	require.NoError(t, v.Verify(proof, head))
	require.Error(t, v.Verify(proof, common.NewCheckpoint(head.Root, head.Position+1)))
	require.Error(t, v.Verify(proof, common.NewCheckpoint(testutil.GetRandomHash(), head.Position)))
	require.Error(t, v.Verify([]byte{1, 2, 3}, head))

	_, err = NewVerifierFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}
