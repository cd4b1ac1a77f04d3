package lightclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcq-org/lightproof/common"
)

var (
	ErrInvalidCheckpoint  = errors.New("invalid checkpoint")
	ErrCheckpointMismatch = errors.New("checkpoint does not match remote chain")
	ErrInvalidOutputs     = errors.New("invalid proof outputs")
)

// Head is the latest finalized remote head and its distance from the
// trusted checkpoint.
type Head struct {
	Checkpoint common.Checkpoint
	Distance   int64
}

// Evidence is everything the base program needs to prove trusted -> target.
// Input must be RLP encodable.
type Evidence struct {
	Target        common.Position
	Input         any
	CommitteeHash common.Hash
}

// Backend is one light-client flavour. Exactly one backend is active per
// process.
type Backend interface {
	Kind() common.BackendKind
	// TrustWindow is the largest distance a single base proof may cover.
	TrustWindow() uint64
	ComputeDistance(ctx context.Context, trusted common.Checkpoint) (Head, error)
	FetchEvidence(ctx context.Context, trusted common.Checkpoint, target common.Position) (*Evidence, error)
	// CommitteeHash returns the committee or validator set hash that is
	// trusted at cp.
	CommitteeHash(ctx context.Context, cp common.Checkpoint) (common.Hash, error)
	VerifyCheckpointShape(cp common.Checkpoint) error
	DecodeOutputs(publicValues []byte) (common.ProofOutputs, error)
	// Anchor resolves a proven checkpoint to the execution commitment
	// published for it.
	Anchor(ctx context.Context, reached common.Checkpoint) (*common.Anchor, error)
}

func verifyBaseShape(cp common.Checkpoint) error {
	if cp.Root == (common.Hash{}) {
		return fmt.Errorf("%w: zero root", ErrInvalidCheckpoint)
	}
	if cp.Position == 0 {
		return fmt.Errorf("%w: zero position", ErrInvalidCheckpoint)
	}
	return nil
}

func checkOutputs(out common.ProofOutputs) (common.ProofOutputs, error) {
	if !out.Advances() {
		return common.ProofOutputs{}, fmt.Errorf("%w: new position %d does not advance past %d", ErrInvalidOutputs, out.NewPosition, out.PrevPosition)
	}
	return out, nil
}
