package testutil

import (
	"context"
	"reflect"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/prover"
	"github.com/golang/mock/gomock"
)

type MockEngineRecorder struct {
	mock *MockEngine
}
type MockEngine struct {
	ctrl     *gomock.Controller
	recorder *MockEngineRecorder
}

var _ prover.Engine = &MockEngine{}

func NewMockEngine(ctrl *gomock.Controller) *MockEngine {
	mock := &MockEngine{ctrl: ctrl}
	mock.recorder = &MockEngineRecorder{mock: mock}
	return mock
}

func (m *MockEngine) EXPECT() *MockEngineRecorder {
	return m.recorder
}

// Setup implements prover.Engine.
func (m *MockEngine) Setup(ctx context.Context, program string) (common.ArtifactPair, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Setup", ctx, program)
	ret0, _ := ret[0].(common.ArtifactPair)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockEngineRecorder) Setup(ctx, program interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Setup", reflect.TypeOf((*MockEngine)(nil).Setup), ctx, program)
}

// Prove implements prover.Engine.
func (m *MockEngine) Prove(ctx context.Context, program string, input []byte) (common.Proof, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Prove", ctx, program, input)
	ret0, _ := ret[0].(common.Proof)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}
func (mr *MockEngineRecorder) Prove(ctx, program, input interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Prove", reflect.TypeOf((*MockEngine)(nil).Prove), ctx, program, input)
}
