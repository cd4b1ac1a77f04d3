package testutil

import (
	"context"
	"reflect"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/golang/mock/gomock"
)

type MockBackendRecorder struct {
	mock *MockBackend
}
type MockBackend struct {
	ctrl     *gomock.Controller
	recorder *MockBackendRecorder
}

var _ lightclient.Backend = &MockBackend{}

func NewMockBackend(ctrl *gomock.Controller) *MockBackend {
	mock := &MockBackend{ctrl: ctrl}
	mock.recorder = &MockBackendRecorder{mock: mock}
	return mock
}

func (m *MockBackend) EXPECT() *MockBackendRecorder {
	return m.recorder
}

// Kind implements lightclient.Backend.
func (m *MockBackend) Kind() common.BackendKind {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Kind")
	ret0, _ := ret[0].(common.BackendKind)
	return ret0
}
func (mr *MockBackendRecorder) Kind() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Kind", reflect.TypeOf((*MockBackend)(nil).Kind))
}

// TrustWindow implements lightclient.Backend.
func (m *MockBackend) TrustWindow() uint64 {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TrustWindow")
	ret0, _ := ret[0].(uint64)
	return ret0
}
func (mr *MockBackendRecorder) TrustWindow() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TrustWindow", reflect.TypeOf((*MockBackend)(nil).TrustWindow))
}

// ComputeDistance implements lightclient.Backend.
func (m *MockBackend) ComputeDistance(ctx context.Context, trusted common.Checkpoint) (lightclient.Head, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ComputeDistance", ctx, trusted)
	ret0, _ := ret[0].(lightclient.Head)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockBackendRecorder) ComputeDistance(ctx, trusted interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ComputeDistance", reflect.TypeOf((*MockBackend)(nil).ComputeDistance), ctx, trusted)
}

// FetchEvidence implements lightclient.Backend.
func (m *MockBackend) FetchEvidence(ctx context.Context, trusted common.Checkpoint, target common.Position) (*lightclient.Evidence, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FetchEvidence", ctx, trusted, target)
	ret0, _ := ret[0].(*lightclient.Evidence)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockBackendRecorder) FetchEvidence(ctx, trusted, target interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FetchEvidence", reflect.TypeOf((*MockBackend)(nil).FetchEvidence), ctx, trusted, target)
}

// CommitteeHash implements lightclient.Backend.
func (m *MockBackend) CommitteeHash(ctx context.Context, cp common.Checkpoint) (common.Hash, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "CommitteeHash", ctx, cp)
	ret0, _ := ret[0].(common.Hash)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockBackendRecorder) CommitteeHash(ctx, cp interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "CommitteeHash", reflect.TypeOf((*MockBackend)(nil).CommitteeHash), ctx, cp)
}

// VerifyCheckpointShape implements lightclient.Backend.
func (m *MockBackend) VerifyCheckpointShape(cp common.Checkpoint) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "VerifyCheckpointShape", cp)
	ret0, _ := ret[0].(error)
	return ret0
}
func (mr *MockBackendRecorder) VerifyCheckpointShape(cp interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "VerifyCheckpointShape", reflect.TypeOf((*MockBackend)(nil).VerifyCheckpointShape), cp)
}

// DecodeOutputs implements lightclient.Backend.
func (m *MockBackend) DecodeOutputs(publicValues []byte) (common.ProofOutputs, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "DecodeOutputs", publicValues)
	ret0, _ := ret[0].(common.ProofOutputs)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockBackendRecorder) DecodeOutputs(publicValues interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DecodeOutputs", reflect.TypeOf((*MockBackend)(nil).DecodeOutputs), publicValues)
}

// Anchor implements lightclient.Backend.
func (m *MockBackend) Anchor(ctx context.Context, reached common.Checkpoint) (*common.Anchor, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Anchor", ctx, reached)
	ret0, _ := ret[0].(*common.Anchor)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockBackendRecorder) Anchor(ctx, reached interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Anchor", reflect.TypeOf((*MockBackend)(nil).Anchor), ctx, reached)
}
