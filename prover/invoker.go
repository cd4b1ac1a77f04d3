package prover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Invoker runs proving units under an accelerator claim and an operational
// timeout, and classifies their failures.
type Invoker struct {
	engine  Engine
	accel   *Accelerator
	timeout time.Duration
	logger  zerolog.Logger
}

// NewInvoker creates an invoker. accel may be nil when no exclusive hardware
// is involved; a zero timeout disables the operational timeout.
func NewInvoker(engine Engine, accel *Accelerator, timeout time.Duration) *Invoker {
	return &Invoker{
		engine:  engine,
		accel:   accel,
		timeout: timeout,
		logger:  log.With().Str("module", "invoker").Logger(),
	}
}

func (i *Invoker) Engine() Engine { return i.engine }

// Prove runs program over input. Crashes and malformed output are critical,
// the operational timeout is recoverable.
func (i *Invoker) Prove(ctx context.Context, stage common.Stage, program string, input []byte) (common.Proof, error) {
	if program == "" {
		return common.Proof{}, common.Critical(stage, ErrNoProgram)
	}
	start := time.Now()
	proof, err := invoke(ctx, i, stage, func(ctx context.Context) (common.Proof, error) {
		return i.engine.Prove(ctx, program, input)
	})
	if err != nil {
		return common.Proof{}, err
	}
	i.logger.Info().
		Str("stage", string(stage)).
		Str("program", program).
		Dur("elapsed", time.Since(start)).
		Int("proof_size", len(proof.Data)).
		Msg("proof generated")
	return proof, nil
}

// Setup derives the key pair of program under the same claim and timeout as
// proving.
func (i *Invoker) Setup(ctx context.Context, program string) (common.ArtifactPair, error) {
	if program == "" {
		return common.ArtifactPair{}, common.Critical(common.StageStartup, ErrNoProgram)
	}
	return invoke(ctx, i, common.StageStartup, func(ctx context.Context) (common.ArtifactPair, error) {
		return i.engine.Setup(ctx, program)
	})
}

// ProveBase runs the backend base program and decodes its outputs.
func (i *Invoker) ProveBase(ctx context.Context, backend lightclient.Backend, program string, payload []byte) (*common.BaseProof, error) {
	proof, err := i.Prove(ctx, common.StageProving, program, payload)
	if err != nil {
		return nil, err
	}
	outputs, err := backend.DecodeOutputs(proof.PublicValues)
	if err != nil {
		return nil, common.Critical(common.StageProving, fmt.Errorf("%w: %w", common.ErrInvalidProof, err))
	}
	return &common.BaseProof{Proof: proof, Outputs: outputs}, nil
}

func invoke[T any](parent context.Context, i *Invoker, stage common.Stage, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx := parent
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, i.timeout)
		defer cancel()
	}

	var value T
	unit := func(ctx context.Context) error {
		v, err := Supervise(ctx, stage, fn)
		value = v
		return err
	}
	var err error
	if i.accel != nil {
		err = i.accel.With(ctx, unit)
	} else {
		err = unit(ctx)
	}
	if err == nil {
		return value, nil
	}

	switch {
	case parent.Err() != nil:
		return zero, parent.Err()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return zero, common.Recoverable(stage, fmt.Errorf("%w after %s", common.ErrProverTimeout, i.timeout))
	case errors.Is(err, ErrAcceleratorBusy):
		return zero, common.Recoverable(stage, err)
	}
	i.logger.Error().Err(err).Str("stage", string(stage)).Msg("proving unit failed")
	var classified *common.StageError
	if errors.As(err, &classified) {
		return zero, err
	}
	if transient(err) {
		return zero, common.Recoverable(stage, err)
	}
	if errors.Is(err, common.ErrProverCrashed) || errors.Is(err, ErrMalformedOutput) {
		return zero, common.Critical(stage, err)
	}
	return zero, common.Critical(stage, fmt.Errorf("%w: %w", common.ErrProverCrashed, err))
}

// transient reports i/o failures between the service and the prover that
// leave no trace in the proving state. Crashes and bad output never are.
func transient(err error) bool {
	if errors.Is(err, common.ErrProverCrashed) || errors.Is(err, ErrMalformedOutput) {
		return false
	}
	if errors.Is(err, ErrProverIO) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EAGAIN, syscall.EINTR, syscall.EPIPE, syscall.ECONNRESET, syscall.EMFILE, syscall.ENFILE} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
