package orchestrator

import (
	"context"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/btcq-org/lightproof/preprocessor"
	"github.com/btcq-org/lightproof/store"
)

// State is the stage the orchestrator is currently in.
type State string

const (
	StateIdle              State = "idle"
	StatePreprocessing     State = "preprocessing"
	StateWaitingForAdvance State = "waiting_for_advance"
	StateProving           State = "proving"
	StateRecursing         State = "recursing"
	StateWrapping          State = "wrapping"
	StatePersisting        State = "persisting"
)

func (s State) String() string { return string(s) }

// Mode selects how the orchestrator treats existing state on startup.
type Mode int

const (
	// ModeResume continues from the stored state, initialising from genesis
	// when there is none.
	ModeResume Mode = iota
	// ModeFresh discards the stored state and starts from genesis.
	ModeFresh
)

func (m Mode) String() string {
	if m == ModeFresh {
		return "fresh"
	}
	return "resume"
}

type Config struct {
	Genesis     common.Checkpoint
	BaseProgram string
	// PollInterval is the wait between polls while the remote head has not
	// advanced.
	PollInterval  time.Duration
	RetryInterval time.Duration
	// UnavailableRetryThreshold is the number of consecutive unavailable
	// evidence failures after which the checkpoint is considered pruned.
	// Zero retries forever.
	UnavailableRetryThreshold int
	// MaxRounds stops Run after that many completed rounds. Zero runs until
	// the context is cancelled.
	MaxRounds int
}

type Preparer interface {
	Prepare(ctx context.Context, trusted common.Checkpoint) (*preprocessor.ProvingInputs, error)
}

type BaseProver interface {
	ProveBase(ctx context.Context, backend lightclient.Backend, program string, payload []byte) (*common.BaseProof, error)
}

type Folder interface {
	Recurse(ctx context.Context, base *common.BaseProof, anchor *common.Anchor, prior *common.RecursiveProof, genesis common.Checkpoint) (*common.RecursiveProof, error)
	Wrap(ctx context.Context, rec *common.RecursiveProof) (*common.WrapperProof, error)
}

type StateStore interface {
	Load(kind common.BackendKind) (*store.ServiceState, error)
	Save(state *store.ServiceState) error
	Initialize(kind common.BackendKind, genesis common.Checkpoint) (*store.ServiceState, error)
	Reset(kind common.BackendKind) error
}
