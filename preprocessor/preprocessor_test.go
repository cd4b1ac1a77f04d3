package preprocessor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/btcq-org/lightproof/preprocessor"
	"github.com/btcq-org/lightproof/testutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

type testInput struct {
	From uint64
	To   uint64
}

func TestNextTarget(t *testing.T) {
	testCases := []struct {
		name     string
		trusted  common.Position
		distance int64
		window   uint64
		force    bool
		target   common.Position
		clamped  bool
		err      error
	}{
		{name: "within window", trusted: 1000, distance: 400, window: 500, target: 1400},
		{name: "exactly the window", trusted: 1000, distance: 500, window: 500, target: 1500},
		{name: "clamped to window", trusted: 1000, distance: 1200, window: 500, target: 1500, clamped: true},
		{name: "zero distance", trusted: 500, distance: 0, window: 500, err: common.ErrNotYetAdvanced},
		{name: "negative distance", trusted: 500, distance: -3, window: 500, err: common.ErrNotYetAdvanced},
		{name: "zero distance forced", trusted: 500, distance: 0, window: 500, force: true, target: 501},
		{name: "negative distance forced", trusted: 500, distance: -3, window: 500, force: true, err: common.ErrNotYetAdvanced},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			target, clamped, err := preprocessor.NextTarget(tc.trusted, tc.distance, tc.window, tc.force)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.target, target)
			require.Equal(t, tc.clamped, clamped)
		})
	}
}

func TestPrepareClampsToTrustWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 1000)
	head := common.NewCheckpoint(common.Hash{0x09}, 2200)

	backend.EXPECT().Kind().Return(common.TendermintBackend).AnyTimes()
	backend.EXPECT().TrustWindow().Return(uint64(500)).AnyTimes()
	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).Return(lightclient.Head{Checkpoint: head, Distance: 1200}, nil)
	backend.EXPECT().FetchEvidence(gomock.Any(), trusted, common.Position(1500)).Return(&lightclient.Evidence{
		Target:        1500,
		Input:         &testInput{From: 1000, To: 1500},
		CommitteeHash: common.Hash{0xcc},
	}, nil)

	p := preprocessor.New(backend, preprocessor.PolicyWait)
	inputs, err := p.Prepare(context.Background(), trusted)
	require.NoError(t, err)
	require.Equal(t, common.Position(1500), inputs.Target)
	require.True(t, inputs.Clamped)
	require.Equal(t, head, inputs.Head)
	require.Equal(t, common.Hash{0xcc}, inputs.CommitteeHash)
	require.Equal(t, common.TendermintBackend, inputs.Backend)

	var decoded testInput
	require.NoError(t, rlp.DecodeBytes(inputs.Payload, &decoded))
	require.Equal(t, testInput{From: 1000, To: 1500}, decoded)
}

func TestPrepareNotYetAdvanced(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 500)

	backend.EXPECT().TrustWindow().Return(uint64(500)).AnyTimes()
	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).Return(lightclient.Head{Checkpoint: trusted, Distance: 0}, nil)
	// no evidence may be fetched
	backend.EXPECT().FetchEvidence(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := preprocessor.New(backend, "").Prepare(context.Background(), trusted)
	require.ErrorIs(t, err, common.ErrNotYetAdvanced)
	require.Equal(t, common.ClassRecoverable, common.ClassOf(err))
}

func TestPrepareForcePolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 500)

	backend.EXPECT().Kind().Return(common.TendermintBackend).AnyTimes()
	backend.EXPECT().TrustWindow().Return(uint64(500)).AnyTimes()
	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).Return(lightclient.Head{Checkpoint: trusted, Distance: 0}, nil)
	backend.EXPECT().FetchEvidence(gomock.Any(), trusted, common.Position(501)).Return(&lightclient.Evidence{Target: 501, Input: &testInput{}}, nil)

	inputs, err := preprocessor.New(backend, preprocessor.PolicyForce).Prepare(context.Background(), trusted)
	require.NoError(t, err)
	require.Equal(t, common.Position(501), inputs.Target)
	require.False(t, inputs.Clamped)
}

func TestPrepareUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 1000)

	backend.EXPECT().TrustWindow().Return(uint64(500)).AnyTimes()
	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).Return(lightclient.Head{Distance: 100}, nil)
	backend.EXPECT().FetchEvidence(gomock.Any(), trusted, common.Position(1100)).
		Return(nil, common.Unavailable(common.StagePreprocessing, common.ErrEvidenceUnavailable))

	_, err := preprocessor.New(backend, preprocessor.PolicyWait).Prepare(context.Background(), trusted)
	require.ErrorIs(t, err, common.ErrEvidenceUnavailable)
	require.Equal(t, common.ClassUnavailable, common.ClassOf(err))
}

func TestPrepareUnencodableInput(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 1000)

	backend.EXPECT().TrustWindow().Return(uint64(500)).AnyTimes()
	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).Return(lightclient.Head{Distance: 100}, nil)
	backend.EXPECT().FetchEvidence(gomock.Any(), trusted, common.Position(1100)).
		Return(&lightclient.Evidence{Input: map[string]int{"a": 1}}, nil)

	_, err := preprocessor.New(backend, preprocessor.PolicyWait).Prepare(context.Background(), trusted)
	require.Error(t, err)
	require.True(t, common.IsCritical(err))
}

func TestPrepareTransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 1000)

	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).Return(lightclient.Head{}, errors.New("dial tcp: connection refused"))
	_, err := preprocessor.New(backend, preprocessor.PolicyWait).Prepare(context.Background(), trusted)
	require.Error(t, err)
	require.Equal(t, common.ClassRecoverable, common.ClassOf(err))
}

func TestPrepareRequestTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := testutil.NewMockBackend(ctrl)
	trusted := common.NewCheckpoint(common.Hash{0x01}, 1000)

	backend.EXPECT().ComputeDistance(gomock.Any(), trusted).DoAndReturn(
		func(ctx context.Context, _ common.Checkpoint) (lightclient.Head, error) {
			<-ctx.Done()
			return lightclient.Head{}, ctx.Err()
		})

	p := preprocessor.New(backend, preprocessor.PolicyWait)
	p.SetRequestTimeout(20 * time.Millisecond)
	_, err := p.Prepare(context.Background(), trusted)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, common.ClassRecoverable, common.ClassOf(err))
}

func TestParsePolicy(t *testing.T) {
	p, err := preprocessor.ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, preprocessor.PolicyWait, p)
	p, err = preprocessor.ParsePolicy("force")
	require.NoError(t, err)
	require.Equal(t, preprocessor.PolicyForce, p)
	_, err = preprocessor.ParsePolicy("skip")
	require.ErrorIs(t, err, preprocessor.ErrUnknownPolicy)
}
