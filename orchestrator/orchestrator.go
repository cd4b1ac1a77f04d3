package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/btcq-org/lightproof/metrics"
	"github.com/btcq-org/lightproof/preprocessor"
	"github.com/btcq-org/lightproof/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrGenesisChanged = errors.New("stored genesis differs from the configured genesis, use a fresh start")

// Orchestrator drives proving rounds one after another. Only one round is
// ever in flight and a round is committed to the store before the next one
// starts.
type Orchestrator struct {
	cfg     Config
	backend lightclient.Backend
	pre     Preparer
	prover  BaseProver
	folder  Folder
	store   StateStore
	metrics *metrics.Metrics

	mu     sync.RWMutex
	state  State
	logger zerolog.Logger
}

func New(cfg Config, backend lightclient.Backend, pre Preparer, prover BaseProver, folder Folder, st StateStore, m *metrics.Metrics) *Orchestrator {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Orchestrator{
		cfg:     cfg,
		backend: backend,
		pre:     pre,
		prover:  prover,
		folder:  folder,
		store:   st,
		metrics: m,
		state:   StateIdle,
		logger:  log.With().Str("module", "orchestrator").Str("backend", backend.Kind().String()).Logger(),
	}
}

// State returns the current stage.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status is State as a string, for status reporting.
func (o *Orchestrator) Status() string {
	return o.State().String()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.metrics.SetState(s.String())
}

// Start prepares the stored state according to mode and returns it.
func (o *Orchestrator) Start(ctx context.Context, mode Mode) (*store.ServiceState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind := o.backend.Kind()
	genesis := o.cfg.Genesis
	if err := o.backend.VerifyCheckpointShape(genesis); err != nil {
		return nil, common.Critical(common.StageStartup, fmt.Errorf("invalid genesis checkpoint: %w", err))
	}
	if mode == ModeFresh {
		if err := o.store.Reset(kind); err != nil {
			return nil, common.Critical(common.StageStartup, err)
		}
	}
	st, err := o.store.Initialize(kind, genesis)
	if err != nil {
		return nil, common.Critical(common.StageStartup, err)
	}
	if !st.Genesis.Equals(genesis) {
		return nil, common.Critical(common.StageStartup,
			fmt.Errorf("%w: stored %s, configured %s", ErrGenesisChanged, st.Genesis, genesis))
	}
	o.metrics.SetTrusted(st.Trusted.Position.Uint64(), st.UpdateCounter)
	o.logger.Info().
		Str("mode", mode.String()).
		Str("genesis", genesis.String()).
		Str("trusted", st.Trusted.String()).
		Uint64("update_counter", st.UpdateCounter).
		Msg("orchestrator started")
	return st, nil
}

// Run starts according to mode and runs rounds until ctx is cancelled,
// MaxRounds is reached or a critical error occurs.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) error {
	defer o.setState(StateIdle)
	st, err := o.Start(ctx, mode)
	if err != nil {
		return err
	}
	for rounds := 0; o.cfg.MaxRounds == 0 || rounds < o.cfg.MaxRounds; rounds++ {
		st, err = o.RunRound(ctx, st)
		if err != nil {
			return err
		}
	}
	return nil
}

// RunRound advances st by one proof and returns the committed successor.
func (o *Orchestrator) RunRound(ctx context.Context, st *store.ServiceState) (*store.ServiceState, error) {
	start := time.Now()
	logger := o.logger.With().Uint64("trusted", st.Trusted.Position.Uint64()).Logger()

	inputs, err := attempt(ctx, o, StatePreprocessing, common.StagePreprocessing, func(ctx context.Context) (*preprocessor.ProvingInputs, error) {
		return o.pre.Prepare(ctx, st.Trusted)
	})
	if err != nil {
		return nil, err
	}
	if inputs.Clamped {
		o.metrics.IncrCounter(metrics.MetricNameClampedTargets)
	}
	logger = logger.With().Uint64("target", inputs.Target.Uint64()).Logger()
	logger.Info().Uint64("head", inputs.Head.Position.Uint64()).Bool("clamped", inputs.Clamped).Msg("round started")

	base, err := attempt(ctx, o, StateProving, common.StageProving, func(ctx context.Context) (*common.BaseProof, error) {
		return o.prover.ProveBase(ctx, o.backend, o.cfg.BaseProgram, inputs.Payload)
	})
	if err != nil {
		return nil, err
	}
	if reached := base.Outputs.NewPosition; reached <= st.Trusted.Position || reached > inputs.Target {
		err := fmt.Errorf("%w: base proof reached %d, expected a position in (%d, %d]", common.ErrInvalidProof, reached, st.Trusted.Position, inputs.Target)
		return nil, o.fail(common.Critical(common.StageProving, err))
	}

	anchor, err := attempt(ctx, o, StateRecursing, common.StageRecursing, func(ctx context.Context) (*common.Anchor, error) {
		return o.backend.Anchor(ctx, base.Outputs.New())
	})
	if err != nil {
		return nil, err
	}

	rec, err := attempt(ctx, o, StateRecursing, common.StageRecursing, func(ctx context.Context) (*common.RecursiveProof, error) {
		return o.folder.Recurse(ctx, base, anchor, st.MostRecentRecursive, st.Genesis)
	})
	if err != nil {
		return nil, err
	}

	wrapper, err := attempt(ctx, o, StateWrapping, common.StageWrapping, func(ctx context.Context) (*common.WrapperProof, error) {
		return o.folder.Wrap(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	next := st.Advance(rec, wrapper)
	if _, err := attempt(ctx, o, StatePersisting, common.StagePersisting, func(context.Context) (struct{}, error) {
		if err := o.store.Save(next); err != nil {
			return struct{}{}, common.Critical(common.StagePersisting, err)
		}
		return struct{}{}, nil
	}); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	o.metrics.IncrCounter(metrics.MetricNameRoundsCompleted)
	o.metrics.ObserveRound(elapsed)
	o.metrics.SetTrusted(next.Trusted.Position.Uint64(), next.UpdateCounter)
	o.setState(StateIdle)
	logger.Info().
		Str("new_trusted", next.Trusted.String()).
		Str("committed", next.Committed.String()).
		Uint64("update_counter", next.UpdateCounter).
		Dur("elapsed", elapsed).
		Msg("round committed")
	return next, nil
}

func (o *Orchestrator) fail(err error) error {
	o.metrics.IncrFailure(string(common.StageOf(err)), common.ClassOf(err).String())
	o.logger.Error().Err(err).Str("stage", string(common.StageOf(err))).Msg("critical failure, stopping")
	return err
}

// attempt runs fn until it succeeds, applying the error policy of the
// orchestrator between tries.
func attempt[T any](ctx context.Context, o *Orchestrator, state State, stage common.Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	unavailable := 0
	for {
		o.setState(state)
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		wait := o.cfg.RetryInterval
		class := common.ClassOf(err)
		switch {
		case errors.Is(err, common.ErrNotYetAdvanced):
			unavailable = 0
			wait = o.cfg.PollInterval
			o.setState(StateWaitingForAdvance)
			o.metrics.IncrCounter(metrics.MetricNameWaits)
			o.logger.Info().Str("stage", string(stage)).Err(err).Dur("wait", wait).Msg("remote head has not advanced")
		case class == common.ClassCritical:
			return zero, o.fail(err)
		case class == common.ClassUnavailable:
			unavailable++
			o.metrics.IncrFailure(string(stage), class.String())
			if o.cfg.UnavailableRetryThreshold > 0 && unavailable >= o.cfg.UnavailableRetryThreshold {
				pruned := fmt.Errorf("%w after %d attempts: %w", common.ErrCheckpointPruned, unavailable, err)
				return zero, o.fail(common.Critical(stage, pruned))
			}
			o.logger.Warn().Str("stage", string(stage)).Err(err).Int("attempt", unavailable).Dur("wait", wait).Msg("evidence unavailable, retrying")
		default:
			unavailable = 0
			o.metrics.IncrFailure(string(stage), class.String())
			o.logger.Warn().Str("stage", string(stage)).Err(err).Dur("wait", wait).Msg("recoverable failure, retrying")
		}
		o.metrics.IncrCounter(metrics.MetricNameRetries)

		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
