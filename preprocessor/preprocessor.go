package preprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZeroDistancePolicy decides what happens when the remote head has not moved
// past the trusted checkpoint.
type ZeroDistancePolicy string

const (
	// PolicyWait reports ErrNotYetAdvanced and lets the caller poll.
	PolicyWait ZeroDistancePolicy = "wait"
	// PolicyForce targets exactly one position past the trusted checkpoint.
	PolicyForce ZeroDistancePolicy = "force"
)

var ErrUnknownPolicy = errors.New("unknown zero distance policy")

func ParsePolicy(s string) (ZeroDistancePolicy, error) {
	switch p := ZeroDistancePolicy(s); p {
	case PolicyWait, PolicyForce:
		return p, nil
	case "":
		return PolicyWait, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// ProvingInputs is everything needed to run one base proof.
type ProvingInputs struct {
	Backend common.BackendKind
	Trusted common.Checkpoint
	Target  common.Position
	// Head is the remote finalized head observed while preparing.
	Head          common.Checkpoint
	Clamped       bool
	Payload       []byte
	CommitteeHash common.Hash
}

// Preprocessor selects the next target and serialises the base program
// inputs for it.
type Preprocessor struct {
	backend lightclient.Backend
	policy  ZeroDistancePolicy
	timeout time.Duration
	logger  zerolog.Logger
}

func New(backend lightclient.Backend, policy ZeroDistancePolicy) *Preprocessor {
	if policy == "" {
		policy = PolicyWait
	}
	return &Preprocessor{
		backend: backend,
		policy:  policy,
		logger:  log.With().Str("module", "preprocessor").Logger(),
	}
}

// SetRequestTimeout bounds every remote call made while preparing a round.
// Zero leaves calls bounded only by the caller's context.
func (p *Preprocessor) SetRequestTimeout(d time.Duration) {
	p.timeout = d
}

func (p *Preprocessor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// NextTarget is trusted advanced by min(distance, window). A zero distance
// is reported as ErrNotYetAdvanced unless force is set; a negative one, a
// remote head behind the trusted checkpoint, is never forced.
func NextTarget(trusted common.Position, distance int64, window uint64, force bool) (target common.Position, clamped bool, err error) {
	switch {
	case distance < 0:
		return 0, false, fmt.Errorf("%w: remote head is %d behind trusted", common.ErrNotYetAdvanced, -distance)
	case distance == 0 && !force:
		return 0, false, fmt.Errorf("%w: distance 0", common.ErrNotYetAdvanced)
	case distance == 0:
		distance = 1
	}
	step := uint64(distance)
	if window > 0 && step > window {
		step = window
		clamped = true
	}
	return trusted + common.Position(step), clamped, nil
}

// Prepare computes the next target from trusted, fetches the evidence and
// encodes it.
func (p *Preprocessor) Prepare(ctx context.Context, trusted common.Checkpoint) (*ProvingInputs, error) {
	distCtx, cancel := p.bounded(ctx)
	head, err := p.backend.ComputeDistance(distCtx, trusted)
	cancel()
	if err != nil {
		return nil, common.Recoverable(common.StagePreprocessing, err)
	}
	target, clamped, err := NextTarget(trusted.Position, head.Distance, p.backend.TrustWindow(), p.policy == PolicyForce)
	if err != nil {
		return nil, common.Recoverable(common.StagePreprocessing, err)
	}
	if clamped {
		p.logger.Info().
			Uint64("trusted", trusted.Position.Uint64()).
			Uint64("head", head.Checkpoint.Position.Uint64()).
			Uint64("target", target.Uint64()).
			Uint64("trust_window", p.backend.TrustWindow()).
			Msg("distance exceeds trust window, clamping target")
	}

	fetchCtx, cancel := p.bounded(ctx)
	evidence, err := p.backend.FetchEvidence(fetchCtx, trusted, target)
	cancel()
	if err != nil {
		return nil, common.Recoverable(common.StagePreprocessing, err)
	}
	payload, err := rlp.EncodeToBytes(evidence.Input)
	if err != nil {
		return nil, common.Critical(common.StagePreprocessing, fmt.Errorf("failed to encode program inputs: %w", err))
	}
	p.logger.Debug().
		Uint64("trusted", trusted.Position.Uint64()).
		Uint64("target", target.Uint64()).
		Int("payload_size", len(payload)).
		Msg("program inputs ready")
	return &ProvingInputs{
		Backend:       p.backend.Kind(),
		Trusted:       trusted,
		Target:        target,
		Head:          head.Checkpoint,
		Clamped:       clamped,
		Payload:       payload,
		CommitteeHash: evidence.CommitteeHash,
	}, nil
}
