package lightclient

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/cometbft/cometbft/light/provider"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	latest int64
	pruned int64
	err    error
}

func (f *fakeProvider) LightBlock(_ context.Context, height int64) (*cmttypes.LightBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if height == 0 {
		height = f.latest
	}
	if height > f.latest {
		return nil, provider.ErrHeightTooHigh
	}
	if height <= f.pruned {
		return nil, provider.ErrLightBlockNotFound
	}
	return testLightBlock(height), nil
}

func testLightBlock(height int64) *cmttypes.LightBlock {
	valHash := make([]byte, 32)
	valHash[0] = byte(height % 251)
	valHash[31] = 0x01
	return &cmttypes.LightBlock{
		SignedHeader: &cmttypes.SignedHeader{
			Header: &cmttypes.Header{
				ChainID:            "test-chain",
				Height:             height,
				Time:               time.Unix(1700000000+height, 0).UTC(),
				ValidatorsHash:     valHash,
				NextValidatorsHash: valHash,
			},
		},
	}
}

func headerHash(height int64) common.Hash {
	return common.BytesToHash(testLightBlock(height).Hash())
}

func TestTendermintComputeDistance(t *testing.T) {
	tm := NewTendermint(&fakeProvider{latest: 2200}, 0)
	require.EqualValues(t, DefaultTendermintTrustWindow, tm.TrustWindow())
	require.Equal(t, common.TendermintBackend, tm.Kind())

	head, err := tm.ComputeDistance(context.Background(), common.NewCheckpoint(headerHash(1000), 1000))
	require.NoError(t, err)
	require.EqualValues(t, 1200, head.Distance)
	require.Equal(t, common.Position(2200), head.Checkpoint.Position)
	require.Equal(t, headerHash(2200), head.Checkpoint.Root)

	head, err = tm.ComputeDistance(context.Background(), common.NewCheckpoint(headerHash(2200), 2300))
	require.NoError(t, err)
	require.EqualValues(t, -100, head.Distance)
}

func TestTendermintFetchEvidence(t *testing.T) {
	tm := NewTendermint(&fakeProvider{latest: 2200}, 500)
	trusted := common.NewCheckpoint(headerHash(1000), 1000)

	ev, err := tm.FetchEvidence(context.Background(), trusted, 1500)
	require.NoError(t, err)
	require.Equal(t, common.Position(1500), ev.Target)
	require.Equal(t, common.BytesToHash(testLightBlock(1000).ValidatorsHash), ev.CommitteeHash)
	input, ok := ev.Input.(*TendermintEvidence)
	require.True(t, ok)
	require.EqualValues(t, 1000, input.TrustedHeight)
	require.EqualValues(t, 1500, input.TargetHeight)
	require.NotEmpty(t, input.TrustedLightBlock)
	require.NotEmpty(t, input.TargetLightBlock)
}

func TestTendermintFetchEvidenceMismatch(t *testing.T) {
	tm := NewTendermint(&fakeProvider{latest: 2200}, 500)
	_, err := tm.FetchEvidence(context.Background(), common.NewCheckpoint(common.Hash{0x01}, 1000), 1500)
	require.ErrorIs(t, err, ErrCheckpointMismatch)
	require.True(t, common.IsCritical(err))
}

func TestTendermintErrorClasses(t *testing.T) {
	tm := NewTendermint(&fakeProvider{latest: 2200, pruned: 1200}, 500)
	_, err := tm.FetchEvidence(context.Background(), common.NewCheckpoint(headerHash(1000), 1000), 1500)
	require.ErrorIs(t, err, common.ErrEvidenceUnavailable)
	require.Equal(t, common.ClassUnavailable, common.ClassOf(err))

	_, err = tm.FetchEvidence(context.Background(), common.NewCheckpoint(headerHash(1300), 1300), 3000)
	require.ErrorIs(t, err, common.ErrNotYetAdvanced)
	require.Equal(t, common.ClassRecoverable, common.ClassOf(err))

	tm = NewTendermint(&fakeProvider{err: fmt.Errorf("connection refused")}, 500)
	_, err = tm.ComputeDistance(context.Background(), common.NewCheckpoint(headerHash(1000), 1000))
	require.Error(t, err)
	require.Equal(t, common.ClassRecoverable, common.ClassOf(err))
	require.Equal(t, common.StagePreprocessing, common.StageOf(err))
}

func TestTendermintCommitteeHash(t *testing.T) {
	tm := NewTendermint(&fakeProvider{latest: 2200}, 0)
	hash, err := tm.CommitteeHash(context.Background(), common.NewCheckpoint(headerHash(1000), 1000))
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash(testLightBlock(1000).ValidatorsHash), hash)

	_, err = tm.CommitteeHash(context.Background(), common.NewCheckpoint(common.Hash{0x02}, 1000))
	require.ErrorIs(t, err, ErrCheckpointMismatch)
}

func TestTendermintDecodeOutputs(t *testing.T) {
	tm := NewTendermint(&fakeProvider{}, 0)
	raw, err := json.Marshal(map[string]any{
		"trusted_height":              1000,
		"target_height":               1500,
		"trusted_header_hash":         common.Hash{0x01},
		"target_header_hash":          common.Hash{0x02},
		"trusted_validators_hash":     common.Hash{0x03},
		"target_validators_hash":      common.Hash{0x04},
		"target_next_validators_hash": common.Hash{0x05},
	})
	require.NoError(t, err)

	out, err := tm.DecodeOutputs(raw)
	require.NoError(t, err)
	require.Equal(t, common.NewCheckpoint(common.Hash{0x01}, 1000), out.Prev())
	require.Equal(t, common.NewCheckpoint(common.Hash{0x02}, 1500), out.New())
	require.Equal(t, common.Hash{0x03}, out.PrevCommitteeHash)
	require.Equal(t, common.Hash{0x04}, out.CommitteeHash)
	require.Equal(t, common.Hash{0x05}, out.NextCommitteeHash)
	require.Equal(t, common.Hash{0x04}, out.ActiveCommitteeHash)

	_, err = tm.DecodeOutputs([]byte("not json"))
	require.ErrorIs(t, err, ErrInvalidOutputs)

	backwards, err := json.Marshal(map[string]any{"trusted_height": 1500, "target_height": 1000})
	require.NoError(t, err)
	_, err = tm.DecodeOutputs(backwards)
	require.ErrorIs(t, err, ErrInvalidOutputs)
}

func TestTendermintAnchor(t *testing.T) {
	tm := NewTendermint(&fakeProvider{}, 0)
	reached := common.NewCheckpoint(common.Hash{0x02}, 1500)
	anchor, err := tm.Anchor(context.Background(), reached)
	require.NoError(t, err)
	require.Equal(t, reached, anchor.Checkpoint)
	require.Equal(t, reached, anchor.Commitment.Checkpoint())
	require.Empty(t, anchor.Evidence)
}

func TestVerifyCheckpointShape(t *testing.T) {
	tm := NewTendermint(&fakeProvider{}, 0)
	require.NoError(t, tm.VerifyCheckpointShape(common.NewCheckpoint(common.Hash{0x01}, 10)))
	require.ErrorIs(t, tm.VerifyCheckpointShape(common.NewCheckpoint(common.Hash{}, 10)), ErrInvalidCheckpoint)
	require.ErrorIs(t, tm.VerifyCheckpointShape(common.NewCheckpoint(common.Hash{0x01}, 0)), ErrInvalidCheckpoint)

	b := NewBeacon(&fakeBeacon{}, 0)
	require.NoError(t, b.VerifyCheckpointShape(common.NewCheckpoint(common.Hash{0x01}, 64)))
	require.ErrorIs(t, b.VerifyCheckpointShape(common.NewCheckpoint(common.Hash{0x01}, 65)), ErrInvalidCheckpoint)
}
