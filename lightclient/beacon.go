package lightclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcq-org/lightproof/common"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/beacon/light/api"
	"github.com/ethereum/go-ethereum/beacon/merkle"
	"github.com/ethereum/go-ethereum/beacon/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SlotsPerEpoch  = 32
	SlotsPerPeriod = 8192
	// MaxUpdatesPerRequest is the largest sync committee update range a
	// beacon node serves in one request.
	MaxUpdatesPerRequest = 128
	// DefaultBeaconTrustWindow is measured in slots.
	DefaultBeaconTrustWindow = MaxUpdatesPerRequest * SlotsPerPeriod
	EpochsPerPeriod          = SlotsPerPeriod / SlotsPerEpoch
	// EpochsBeforeRotation is how close to the end of a sync period the next
	// committee becomes the one the chain must continue from.
	EpochsBeforeRotation = 10
)

// BeaconAPI is the part of the go-ethereum beacon light API in use.
type BeaconAPI interface {
	GetFinalityUpdate() (types.FinalityUpdate, error)
	GetBestUpdatesAndCommittees(firstPeriod, count uint64) ([]*types.LightClientUpdate, []*types.SerializedSyncCommittee, error)
	GetCheckpointData(checkpointHash common.Hash) (*types.BootstrapData, error)
	// ExecutionBlock returns the execution payload summary of the beacon
	// block with the given root.
	ExecutionBlock(blockRoot common.Hash) (*ExecutionBlock, error)
}

// ExecutionBlock is a beacon block header with the execution payload it
// carries.
type ExecutionBlock struct {
	Header      BeaconHeader
	BlockNumber uint64
	StateRoot   common.Hash
	BlockHash   common.Hash
	// PayloadHeader is the RLP encoded execution header.
	PayloadHeader []byte
}

// lightAPI adds execution payload lookups to the go-ethereum light API.
type lightAPI struct {
	*api.BeaconLightApi
}

func (l *lightAPI) ExecutionBlock(blockRoot common.Hash) (*ExecutionBlock, error) {
	block, err := l.GetBeaconBlock(blockRoot)
	if err != nil {
		return nil, err
	}
	payload, err := block.ExecutionPayload()
	if err != nil {
		return nil, fmt.Errorf("invalid execution payload in block %s: %w", blockRoot.Hex(), err)
	}
	header, err := rlp.EncodeToBytes(payload.Header())
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution header %d: %w", payload.NumberU64(), err)
	}
	return &ExecutionBlock{
		Header:        beaconHeader(block.Header()),
		BlockNumber:   payload.NumberU64(),
		StateRoot:     payload.Root(),
		BlockHash:     payload.Hash(),
		PayloadHeader: header,
	}, nil
}

// BeaconHeader mirrors the beacon block header.
type BeaconHeader struct {
	Slot          uint64
	ProposerIndex uint64
	ParentRoot    common.Hash
	StateRoot     common.Hash
	BodyRoot      common.Hash
}

type BeaconBootstrap struct {
	Header          BeaconHeader
	CommitteeRoot   common.Hash
	Committee       []byte
	CommitteeBranch []common.Hash
}

type BeaconUpdate struct {
	Attested            BeaconHeader
	SignatureSlot       uint64
	Signers             []byte
	Signature           []byte
	NextCommitteeRoot   common.Hash
	NextCommitteeBranch []common.Hash
	NextCommittee       []byte
	Finalized           BeaconHeader
	FinalityBranch      []common.Hash
}

// BeaconEvidence is the RLP program input of the helios base program.
type BeaconEvidence struct {
	TrustedSlot uint64
	TrustedRoot common.Hash
	TargetSlot  uint64
	Bootstrap   BeaconBootstrap
	Updates     []BeaconUpdate
	HasFinality bool
	Finality    BeaconUpdate
}

var beaconOutputs = abi.Arguments{
	{Name: "prevHeader", Type: mustType("bytes32")},
	{Name: "prevHead", Type: mustType("uint256")},
	{Name: "prevSyncCommitteeHash", Type: mustType("bytes32")},
	{Name: "newHead", Type: mustType("uint256")},
	{Name: "newHeader", Type: mustType("bytes32")},
	{Name: "syncCommitteeHash", Type: mustType("bytes32")},
	{Name: "nextSyncCommitteeHash", Type: mustType("bytes32")},
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

type Beacon struct {
	api    BeaconAPI
	window uint64
	logger zerolog.Logger
}

var _ Backend = &Beacon{}

// NewBeacon creates a backend on top of a beacon node light API. A zero
// window selects DefaultBeaconTrustWindow.
func NewBeacon(beaconAPI BeaconAPI, window uint64) *Beacon {
	if window == 0 {
		window = DefaultBeaconTrustWindow
	}
	return &Beacon{
		api:    beaconAPI,
		window: window,
		logger: log.With().Str("module", "lightclient").Str("backend", common.HeliosBackend.String()).Logger(),
	}
}

// NewBeaconRPC connects to the beacon node REST API at url.
func NewBeaconRPC(url string, window uint64) *Beacon {
	return NewBeacon(&lightAPI{api.NewBeaconLightApi(url, nil)}, window)
}

// ActiveCommittee is the sync committee a transition ending at slot hands
// over: the next committee once the period is within EpochsBeforeRotation
// epochs of its end and the next committee is known, the current one
// otherwise.
func ActiveCommittee(slot common.Position, current, next common.Hash) common.Hash {
	epoch := slot.Uint64() / SlotsPerEpoch
	untilRotation := EpochsPerPeriod - epoch%EpochsPerPeriod
	if untilRotation <= EpochsBeforeRotation && next != (common.Hash{}) {
		return next
	}
	return current
}

func SyncPeriod(slot common.Position) uint64 {
	return slot.Uint64() / SlotsPerPeriod
}

func (b *Beacon) Kind() common.BackendKind { return common.HeliosBackend }

func (b *Beacon) TrustWindow() uint64 { return b.window }

// ComputeDistance uses the latest finality update. The finalized slot is
// floored to its epoch boundary.
func (b *Beacon) ComputeDistance(ctx context.Context, trusted common.Checkpoint) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}
	update, err := b.api.GetFinalityUpdate()
	if err != nil {
		return Head{}, classifyBeaconError(common.StagePreprocessing, "finality update", err)
	}
	finalized := update.Finalized.Header
	slot := finalized.Slot - finalized.Slot%SlotsPerEpoch
	head := common.NewCheckpoint(common.Hash{}, common.Position(slot))
	if slot == finalized.Slot {
		head.Root = finalized.Hash()
	}
	return Head{
		Checkpoint: head,
		Distance:   trusted.Position.Distance(head.Position),
	}, nil
}

func (b *Beacon) FetchEvidence(ctx context.Context, trusted common.Checkpoint, target common.Position) (*Evidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bootstrap, err := b.api.GetCheckpointData(trusted.Root)
	if err != nil {
		return nil, classifyBeaconError(common.StagePreprocessing, fmt.Sprintf("bootstrap %s", trusted.Root.Hex()), err)
	}
	if bootstrap.Header.Slot != trusted.Position.Uint64() {
		return nil, common.Critical(common.StagePreprocessing,
			fmt.Errorf("%w: bootstrap slot %d, trusted %d", ErrCheckpointMismatch, bootstrap.Header.Slot, trusted.Position))
	}

	trustedPeriod, targetPeriod := SyncPeriod(trusted.Position), SyncPeriod(target)
	count := uint64(1)
	if targetPeriod > trustedPeriod {
		count = targetPeriod - trustedPeriod
	}
	if count > MaxUpdatesPerRequest {
		count = MaxUpdatesPerRequest
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	updates, committees, err := b.api.GetBestUpdatesAndCommittees(trustedPeriod, count)
	if err != nil {
		return nil, classifyBeaconError(common.StagePreprocessing, fmt.Sprintf("updates %d+%d", trustedPeriod, count), err)
	}

	input := &BeaconEvidence{
		TrustedSlot: trusted.Position.Uint64(),
		TrustedRoot: trusted.Root,
		TargetSlot:  target.Uint64(),
		Bootstrap: BeaconBootstrap{
			Header:          beaconHeader(bootstrap.Header),
			CommitteeRoot:   bootstrap.CommitteeRoot,
			CommitteeBranch: hashes(bootstrap.CommitteeBranch),
		},
		Updates: make([]BeaconUpdate, 0, len(updates)),
	}
	if bootstrap.Committee != nil {
		input.Bootstrap.Committee = bootstrap.Committee[:]
	}
	reached := common.Position(0)
	for i, u := range updates {
		if u == nil {
			continue
		}
		w := BeaconUpdate{
			Attested:            beaconHeader(u.AttestedHeader.Header),
			SignatureSlot:       u.AttestedHeader.SignatureSlot,
			Signers:             u.AttestedHeader.Signature.Signers[:],
			Signature:           u.AttestedHeader.Signature.Signature[:],
			NextCommitteeRoot:   u.NextSyncCommitteeRoot,
			NextCommitteeBranch: hashes(u.NextSyncCommitteeBranch),
			FinalityBranch:      hashes(u.FinalityBranch),
		}
		if u.FinalizedHeader != nil {
			w.Finalized = beaconHeader(*u.FinalizedHeader)
			reached = common.Position(u.FinalizedHeader.Slot)
		}
		if i < len(committees) && committees[i] != nil {
			w.NextCommittee = committees[i][:]
		}
		input.Updates = append(input.Updates, w)
	}

	// the terminal point is the finality update when the target is the
	// finalized head, otherwise the last rotation update
	update, err := b.api.GetFinalityUpdate()
	if err != nil {
		return nil, classifyBeaconError(common.StagePreprocessing, "finality update", err)
	}
	if finalized := update.Finalized.Header; finalized.Slot <= target.Uint64()+SlotsPerEpoch-1 && finalized.Slot >= target.Uint64() {
		input.HasFinality = true
		input.Finality = BeaconUpdate{
			Attested:       beaconHeader(update.Attested.Header),
			SignatureSlot:  update.SignatureSlot,
			Signers:        update.Signature.Signers[:],
			Signature:      update.Signature.Signature[:],
			Finalized:      beaconHeader(finalized),
			FinalityBranch: hashes(update.FinalityBranch),
		}
		reached = common.Position(finalized.Slot)
	}
	if reached <= trusted.Position {
		return nil, common.Unavailable(common.StagePreprocessing,
			fmt.Errorf("%w: no update past slot %d in periods %d+%d", common.ErrEvidenceUnavailable, trusted.Position, trustedPeriod, count))
	}
	b.logger.Debug().
		Uint64("trusted", trusted.Position.Uint64()).
		Uint64("target", target.Uint64()).
		Uint64("reached", reached.Uint64()).
		Int("updates", len(input.Updates)).
		Bool("finality", input.HasFinality).
		Msg("fetched beacon evidence")
	return &Evidence{
		Target:        target,
		Input:         input,
		CommitteeHash: bootstrap.CommitteeRoot,
	}, nil
}

func (b *Beacon) CommitteeHash(ctx context.Context, cp common.Checkpoint) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	bootstrap, err := b.api.GetCheckpointData(cp.Root)
	if err != nil {
		return common.Hash{}, classifyBeaconError(common.StagePreprocessing, fmt.Sprintf("bootstrap %s", cp.Root.Hex()), err)
	}
	return bootstrap.CommitteeRoot, nil
}

func (b *Beacon) VerifyCheckpointShape(cp common.Checkpoint) error {
	if err := verifyBaseShape(cp); err != nil {
		return err
	}
	if cp.Position%SlotsPerEpoch != 0 {
		return fmt.Errorf("%w: slot %d is not on an epoch boundary", ErrInvalidCheckpoint, cp.Position)
	}
	return nil
}

func (b *Beacon) DecodeOutputs(publicValues []byte) (common.ProofOutputs, error) {
	values, err := beaconOutputs.Unpack(publicValues)
	if err != nil {
		return common.ProofOutputs{}, fmt.Errorf("%w: %w", ErrInvalidOutputs, err)
	}
	if len(values) != len(beaconOutputs) {
		return common.ProofOutputs{}, fmt.Errorf("%w: got %d values", ErrInvalidOutputs, len(values))
	}
	prevHead, err := position(values[1])
	if err != nil {
		return common.ProofOutputs{}, err
	}
	newHead, err := position(values[3])
	if err != nil {
		return common.ProofOutputs{}, err
	}
	committee, next := bytes32(values[5]), bytes32(values[6])
	return checkOutputs(common.ProofOutputs{
		PrevRoot:            bytes32(values[0]),
		PrevPosition:        prevHead,
		PrevCommitteeHash:   bytes32(values[2]),
		NewPosition:         newHead,
		NewRoot:             bytes32(values[4]),
		CommitteeHash:       committee,
		NextCommitteeHash:   next,
		ActiveCommitteeHash: ActiveCommittee(newHead, committee, next),
	})
}

// Anchor resolves the finalized beacon block at reached to the execution
// payload it carries. The commitment is the payload block number and state
// root; the evidence is the RLP encoded ExecutionBlock.
func (b *Beacon) Anchor(ctx context.Context, reached common.Checkpoint) (*common.Anchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	block, err := b.api.ExecutionBlock(reached.Root)
	if err != nil {
		return nil, classifyBeaconError(common.StageRecursing, fmt.Sprintf("block %s", reached.Root.Hex()), err)
	}
	if block.Header.Slot != reached.Position.Uint64() {
		return nil, common.Critical(common.StageRecursing,
			fmt.Errorf("%w: block %s is at slot %d, proof reached %d", ErrCheckpointMismatch, reached.Root.Hex(), block.Header.Slot, reached.Position))
	}
	if block.StateRoot == (common.Hash{}) {
		return nil, common.Critical(common.StageRecursing,
			fmt.Errorf("%w: block %s carries no execution payload", ErrCheckpointMismatch, reached.Root.Hex()))
	}
	evidence, err := rlp.EncodeToBytes(block)
	if err != nil {
		return nil, common.Critical(common.StageRecursing, fmt.Errorf("failed to encode execution block: %w", err))
	}
	b.logger.Debug().
		Uint64("slot", block.Header.Slot).
		Uint64("block_number", block.BlockNumber).
		Str("state_root", block.StateRoot.Hex()).
		Msg("resolved execution payload")
	return &common.Anchor{
		Checkpoint: reached,
		Commitment: common.Commitment{Height: block.BlockNumber, StateRoot: block.StateRoot},
		Evidence:   evidence,
	}, nil
}

// EncodeBeaconOutputs ABI-encodes outputs the way the helios base program
// commits them.
func EncodeBeaconOutputs(out common.ProofOutputs) ([]byte, error) {
	return beaconOutputs.Pack(
		[32]byte(out.PrevRoot),
		new(big.Int).SetUint64(out.PrevPosition.Uint64()),
		[32]byte(out.PrevCommitteeHash),
		new(big.Int).SetUint64(out.NewPosition.Uint64()),
		[32]byte(out.NewRoot),
		[32]byte(out.CommitteeHash),
		[32]byte(out.NextCommitteeHash),
	)
}

func bytes32(v any) common.Hash {
	b, _ := v.([32]byte)
	return common.Hash(b)
}

func position(v any) (common.Position, error) {
	n, ok := v.(*big.Int)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("%w: head %v is not a slot", ErrInvalidOutputs, v)
	}
	return common.Position(n.Uint64()), nil
}

func beaconHeader(h types.Header) BeaconHeader {
	return BeaconHeader{
		Slot:          h.Slot,
		ProposerIndex: h.ProposerIndex,
		ParentRoot:    h.ParentRoot,
		StateRoot:     h.StateRoot,
		BodyRoot:      h.BodyRoot,
	}
}

func hashes(values merkle.Values) []common.Hash {
	out := make([]common.Hash, len(values))
	for i, v := range values {
		out[i] = common.Hash(v)
	}
	return out
}

func classifyBeaconError(stage common.Stage, what string, err error) error {
	if errors.Is(err, api.ErrNotFound) {
		return common.Unavailable(stage, fmt.Errorf("%s: %w: %w", what, common.ErrEvidenceUnavailable, err))
	}
	return common.Recoverable(stage, fmt.Errorf("failed to get %s: %w", what, err))
}
