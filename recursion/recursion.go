package recursion

import (
	"context"
	"fmt"

	"github.com/btcq-org/lightproof/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prover runs one program over an encoded input.
type Prover interface {
	Prove(ctx context.Context, stage common.Stage, program string, input []byte) (common.Proof, error)
}

// Keys are the build-time artifacts the recursion and wrapper rounds are
// bound to.
type Keys struct {
	RecursionProgram string
	WrapperProgram   string
	BaseVKDigest     common.Hash
	// CommitteeHash is the committee trusted at genesis.
	CommitteeHash common.Hash
	Recursion     *Verifier
	Wrapper       *Verifier
}

// RecursionInput is the RLP program input of the recursion program.
type RecursionInput struct {
	BaseProof         []byte
	BasePublicValues  []byte
	BaseVKDigest      common.Hash
	HasPrior          bool
	PriorProof        []byte
	PriorPublicValues []byte
	RecursionVKDigest common.Hash
	GenesisRoot       common.Hash
	GenesisPosition   uint64
	// GenesisCommitteeHash is the committee the first round must start from.
	GenesisCommitteeHash common.Hash
	// AnchorEvidence binds the reached checkpoint to the committed height
	// and state root. Empty when they are the checkpoint itself.
	AnchorEvidence []byte
}

// RecursionOutputs are committed by the recursion program.
type RecursionOutputs struct {
	ActiveCommittee common.Hash
	Root            common.Hash
	Height          uint64
	VKDigest        common.Hash
}

// WrapperInput is the RLP program input of the wrapper program.
type WrapperInput struct {
	RecursiveProof        []byte
	RecursivePublicValues []byte
	RecursionVKDigest     common.Hash
}

// WrapperOutputs are committed by the wrapper program.
type WrapperOutputs struct {
	Height uint64
	Root   common.Hash
}

// Recursor folds base proofs into the recursive chain and wraps the result.
type Recursor struct {
	prover Prover
	keys   Keys
	logger zerolog.Logger
}

func NewRecursor(prover Prover, keys Keys) *Recursor {
	return &Recursor{
		prover: prover,
		keys:   keys,
		logger: log.With().Str("module", "recursion").Logger(),
	}
}

// CheckContinuity verifies that base starts at genesis and its committee
// (first round) or where prior ended and from the committee prior handed
// over, and that it moves forward.
func CheckContinuity(base common.ProofOutputs, prior *common.RecursiveProof, genesis common.Checkpoint, genesisCommittee common.Hash) error {
	if !base.Advances() {
		return fmt.Errorf("%w: new position %d is not past %d", common.ErrContinuity, base.NewPosition, base.PrevPosition)
	}
	if prior == nil {
		if !base.Prev().Equals(genesis) {
			return fmt.Errorf("%w: first round starts at %s, genesis is %s", common.ErrContinuity, base.Prev(), genesis)
		}
		if base.PrevCommitteeHash != genesisCommittee {
			return fmt.Errorf("%w: first round starts from committee %s, genesis committee is %s",
				common.ErrContinuity, base.PrevCommitteeHash.Hex(), genesisCommittee.Hex())
		}
		return nil
	}
	if err := base.Follows(prior.Outputs); err != nil {
		return fmt.Errorf("%w: %w", common.ErrContinuity, err)
	}
	if active := prior.Outputs.ActiveCommitteeHash; base.PrevCommitteeHash != active {
		return fmt.Errorf("%w: round starts from committee %s, previous round handed over %s",
			common.ErrContinuity, base.PrevCommitteeHash.Hex(), active.Hex())
	}
	return nil
}

// Recurse proves that the chain from genesis extends through base and that
// the checkpoint base reached commits to anchor's height and state root.
// prior is nil on the first round.
func (r *Recursor) Recurse(ctx context.Context, base *common.BaseProof, anchor *common.Anchor, prior *common.RecursiveProof, genesis common.Checkpoint) (*common.RecursiveProof, error) {
	if err := CheckContinuity(base.Outputs, prior, genesis, r.keys.CommitteeHash); err != nil {
		return nil, common.Critical(common.StageRecursing, err)
	}
	head := base.Outputs.New()
	if !anchor.Checkpoint.Equals(head) {
		return nil, common.Critical(common.StageRecursing,
			fmt.Errorf("%w: anchor is for %s, base reached %s", common.ErrContinuity, anchor.Checkpoint, head))
	}
	in := RecursionInput{
		BaseProof:            base.Data,
		BasePublicValues:     base.PublicValues,
		BaseVKDigest:         r.keys.BaseVKDigest,
		RecursionVKDigest:    r.keys.Recursion.Digest(),
		GenesisRoot:          genesis.Root,
		GenesisPosition:      genesis.Position.Uint64(),
		GenesisCommitteeHash: r.keys.CommitteeHash,
		AnchorEvidence:       anchor.Evidence,
	}
	if prior != nil {
		in.HasPrior = true
		in.PriorProof = prior.Data
		in.PriorPublicValues = prior.PublicValues
	}
	buf, err := rlp.EncodeToBytes(&in)
	if err != nil {
		return nil, common.Critical(common.StageRecursing, fmt.Errorf("failed to encode recursion input: %w", err))
	}

	proof, err := r.prover.Prove(ctx, common.StageRecursing, r.keys.RecursionProgram, buf)
	if err != nil {
		return nil, err
	}

	var out RecursionOutputs
	if err := rlp.DecodeBytes(proof.PublicValues, &out); err != nil {
		return nil, common.Critical(common.StageRecursing, fmt.Errorf("%w: failed to decode recursion outputs: %w", common.ErrInvalidProof, err))
	}
	committed := common.Commitment{Height: out.Height, StateRoot: out.Root}
	if committed != anchor.Commitment {
		return nil, common.Critical(common.StageRecursing,
			fmt.Errorf("%w: recursion committed %s, %s commits to %s", common.ErrInvalidProof, committed, head, anchor.Commitment))
	}
	if out.ActiveCommittee != base.Outputs.ActiveCommitteeHash {
		return nil, common.Critical(common.StageRecursing,
			fmt.Errorf("%w: recursion committed committee %s, base hands over %s", common.ErrInvalidProof, out.ActiveCommittee.Hex(), base.Outputs.ActiveCommitteeHash.Hex()))
	}
	if out.VKDigest != r.keys.Recursion.Digest() {
		return nil, common.Critical(common.StageRecursing,
			fmt.Errorf("%w: recursion committed vk %s, expected %s", common.ErrArtifactMismatch, out.VKDigest.Hex(), r.keys.Recursion.Digest().Hex()))
	}
	if err := r.keys.Recursion.Verify(proof.Data, committed.Checkpoint()); err != nil {
		return nil, common.Critical(common.StageRecursing, fmt.Errorf("%w: %w", common.ErrInvalidProof, err))
	}

	r.logger.Info().
		Uint64("prev_position", base.Outputs.PrevPosition.Uint64()).
		Uint64("position", head.Position.Uint64()).
		Uint64("height", committed.Height).
		Bool("first_round", prior == nil).
		Msg("recursive proof verified")
	return &common.RecursiveProof{Proof: proof, Outputs: base.Outputs, Head: head, Commitment: committed}, nil
}

// Wrap re-proves rec under the wrapper program.
func (r *Recursor) Wrap(ctx context.Context, rec *common.RecursiveProof) (*common.WrapperProof, error) {
	buf, err := rlp.EncodeToBytes(&WrapperInput{
		RecursiveProof:        rec.Data,
		RecursivePublicValues: rec.PublicValues,
		RecursionVKDigest:     r.keys.Recursion.Digest(),
	})
	if err != nil {
		return nil, common.Critical(common.StageWrapping, fmt.Errorf("failed to encode wrapper input: %w", err))
	}
	proof, err := r.prover.Prove(ctx, common.StageWrapping, r.keys.WrapperProgram, buf)
	if err != nil {
		return nil, err
	}

	var out WrapperOutputs
	if err := rlp.DecodeBytes(proof.PublicValues, &out); err != nil {
		return nil, common.Critical(common.StageWrapping, fmt.Errorf("%w: failed to decode wrapper outputs: %w", common.ErrInvalidProof, err))
	}
	if committed := (common.Commitment{Height: out.Height, StateRoot: out.Root}); committed != rec.Commitment {
		return nil, common.Critical(common.StageWrapping,
			fmt.Errorf("%w: wrapper committed %s, recursive proof commits to %s", common.ErrInvalidProof, committed, rec.Commitment))
	}
	if err := r.keys.Wrapper.Verify(proof.Data, rec.Commitment.Checkpoint()); err != nil {
		return nil, common.Critical(common.StageWrapping, fmt.Errorf("%w: %w", common.ErrInvalidProof, err))
	}
	r.logger.Info().
		Uint64("position", rec.Head.Position.Uint64()).
		Uint64("height", rec.Commitment.Height).
		Msg("wrapper proof verified")
	return &common.WrapperProof{Proof: proof, Head: rec.Head, Commitment: rec.Commitment}, nil
}
