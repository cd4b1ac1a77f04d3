package lightclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcq-org/lightproof/common"
	"github.com/cometbft/cometbft/light/provider"
	lighthttp "github.com/cometbft/cometbft/light/provider/http"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTendermintTrustWindow is measured in block heights.
const DefaultTendermintTrustWindow = 100_000

// LightBlockProvider is the part of the cometbft light provider in use.
type LightBlockProvider interface {
	LightBlock(ctx context.Context, height int64) (*cmttypes.LightBlock, error)
}

// TendermintEvidence is the RLP program input of the tendermint base program.
type TendermintEvidence struct {
	TrustedHeight     uint64
	TargetHeight      uint64
	TrustedLightBlock []byte
	TargetLightBlock  []byte
}

type tendermintOutputs struct {
	TrustedHeight            uint64      `json:"trusted_height"`
	TargetHeight             uint64      `json:"target_height"`
	TrustedHeaderHash        common.Hash `json:"trusted_header_hash"`
	TargetHeaderHash         common.Hash `json:"target_header_hash"`
	TrustedValidatorsHash    common.Hash `json:"trusted_validators_hash"`
	TargetValidatorsHash     common.Hash `json:"target_validators_hash"`
	TargetNextValidatorsHash common.Hash `json:"target_next_validators_hash"`
}

type Tendermint struct {
	provider LightBlockProvider
	window   uint64
	logger   zerolog.Logger
}

var _ Backend = &Tendermint{}

// NewTendermint creates a backend reading light blocks from p. A zero window
// selects DefaultTendermintTrustWindow.
func NewTendermint(p LightBlockProvider, window uint64) *Tendermint {
	if window == 0 {
		window = DefaultTendermintTrustWindow
	}
	return &Tendermint{
		provider: p,
		window:   window,
		logger:   log.With().Str("module", "lightclient").Str("backend", common.TendermintBackend.String()).Logger(),
	}
}

// NewTendermintRPC connects to a cometbft RPC endpoint.
func NewTendermintRPC(chainID, remote string, window uint64) (*Tendermint, error) {
	p, err := lighthttp.New(chainID, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create light provider for %s: %w", remote, err)
	}
	return NewTendermint(p, window), nil
}

func (t *Tendermint) Kind() common.BackendKind { return common.TendermintBackend }

func (t *Tendermint) TrustWindow() uint64 { return t.window }

func (t *Tendermint) ComputeDistance(ctx context.Context, trusted common.Checkpoint) (Head, error) {
	lb, err := t.lightBlock(ctx, 0)
	if err != nil {
		return Head{}, err
	}
	head := common.NewCheckpoint(common.BytesToHash(lb.Hash()), common.Position(lb.Height))
	return Head{
		Checkpoint: head,
		Distance:   trusted.Position.Distance(head.Position),
	}, nil
}

func (t *Tendermint) FetchEvidence(ctx context.Context, trusted common.Checkpoint, target common.Position) (*Evidence, error) {
	trustedBlock, err := t.lightBlock(ctx, trusted.Position)
	if err != nil {
		return nil, err
	}
	if got := common.BytesToHash(trustedBlock.Hash()); got != trusted.Root {
		return nil, common.Critical(common.StagePreprocessing,
			fmt.Errorf("%w: header hash at %d is %s, trusted %s", ErrCheckpointMismatch, trusted.Position, got.Hex(), trusted.Root.Hex()))
	}
	targetBlock, err := t.lightBlock(ctx, target)
	if err != nil {
		return nil, err
	}

	trustedBuf, err := encodeLightBlock(trustedBlock)
	if err != nil {
		return nil, err
	}
	targetBuf, err := encodeLightBlock(targetBlock)
	if err != nil {
		return nil, err
	}
	t.logger.Debug().
		Uint64("trusted", trusted.Position.Uint64()).
		Uint64("target", target.Uint64()).
		Msg("fetched light blocks")
	return &Evidence{
		Target: target,
		Input: &TendermintEvidence{
			TrustedHeight:     trusted.Position.Uint64(),
			TargetHeight:      target.Uint64(),
			TrustedLightBlock: trustedBuf,
			TargetLightBlock:  targetBuf,
		},
		CommitteeHash: common.BytesToHash(trustedBlock.ValidatorsHash),
	}, nil
}

func (t *Tendermint) CommitteeHash(ctx context.Context, cp common.Checkpoint) (common.Hash, error) {
	lb, err := t.lightBlock(ctx, cp.Position)
	if err != nil {
		return common.Hash{}, err
	}
	if got := common.BytesToHash(lb.Hash()); got != cp.Root {
		return common.Hash{}, common.Critical(common.StageStartup,
			fmt.Errorf("%w: header hash at %d is %s, want %s", ErrCheckpointMismatch, cp.Position, got.Hex(), cp.Root.Hex()))
	}
	return common.BytesToHash(lb.ValidatorsHash), nil
}

func (t *Tendermint) VerifyCheckpointShape(cp common.Checkpoint) error {
	return verifyBaseShape(cp)
}

func (t *Tendermint) DecodeOutputs(publicValues []byte) (common.ProofOutputs, error) {
	var out tendermintOutputs
	if err := json.Unmarshal(publicValues, &out); err != nil {
		return common.ProofOutputs{}, fmt.Errorf("%w: %w", ErrInvalidOutputs, err)
	}
	return checkOutputs(common.ProofOutputs{
		PrevRoot:          out.TrustedHeaderHash,
		PrevPosition:      common.Position(out.TrustedHeight),
		PrevCommitteeHash: out.TrustedValidatorsHash,
		NewPosition:       common.Position(out.TargetHeight),
		NewRoot:           out.TargetHeaderHash,
		CommitteeHash:     out.TargetValidatorsHash,
		NextCommitteeHash: out.TargetNextValidatorsHash,
		// the next transition trusts the target header's validator set
		ActiveCommitteeHash: out.TargetValidatorsHash,
	})
}

// Anchor commits the reached header itself: its height and header hash.
func (t *Tendermint) Anchor(ctx context.Context, reached common.Checkpoint) (*common.Anchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &common.Anchor{
		Checkpoint: reached,
		Commitment: common.Commitment{Height: reached.Position.Uint64(), StateRoot: reached.Root},
	}, nil
}

// lightBlock fetches a light block and classifies provider failures.
// Position 0 asks for the latest block.
func (t *Tendermint) lightBlock(ctx context.Context, pos common.Position) (*cmttypes.LightBlock, error) {
	lb, err := t.provider.LightBlock(ctx, int64(pos))
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrLightBlockNotFound):
		return nil, common.Unavailable(common.StagePreprocessing, fmt.Errorf("light block %d: %w: %w", pos, common.ErrEvidenceUnavailable, err))
	case errors.Is(err, provider.ErrHeightTooHigh):
		return nil, common.Recoverable(common.StagePreprocessing, fmt.Errorf("light block %d: %w: %w", pos, common.ErrNotYetAdvanced, err))
	default:
		return nil, common.Recoverable(common.StagePreprocessing, fmt.Errorf("failed to get light block %d: %w", pos, err))
	}
	if lb == nil || lb.SignedHeader == nil || lb.Header == nil {
		return nil, common.Recoverable(common.StagePreprocessing, fmt.Errorf("light block %d: empty response", pos))
	}
	if pos != 0 && lb.Height != int64(pos) {
		return nil, common.Critical(common.StagePreprocessing, fmt.Errorf("asked for light block %d, got %d", pos, lb.Height))
	}
	return lb, nil
}

func encodeLightBlock(lb *cmttypes.LightBlock) ([]byte, error) {
	pb, err := lb.ToProto()
	if err != nil {
		return nil, common.Critical(common.StagePreprocessing, fmt.Errorf("failed to convert light block %d: %w", lb.Height, err))
	}
	buf, err := pb.Marshal()
	if err != nil {
		return nil, common.Critical(common.StagePreprocessing, fmt.Errorf("failed to encode light block %d: %w", lb.Height, err))
	}
	return buf, nil
}
