package prover

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/btcq-org/lightproof/common"
	"github.com/rs/zerolog/log"
)

type result[T any] struct {
	value T
	err   error
}

// Supervise runs fn on its own goroutine and joins on it. A panic inside fn
// is returned as a critical ErrProverCrashed for stage.
func Supervise[T any](ctx context.Context, stage common.Stage, fn func(context.Context) (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("module", "prover").
					Str("stage", string(stage)).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("proving unit panicked")
				var zero T
				ch <- result[T]{value: zero, err: common.Critical(stage, fmt.Errorf("%w: panic: %v", common.ErrProverCrashed, r))}
			}
		}()
		v, err := fn(ctx)
		ch <- result[T]{value: v, err: err}
	}()
	res := <-ch
	return res.value, res.err
}
