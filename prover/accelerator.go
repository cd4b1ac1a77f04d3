package prover

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const lockRetryDelay = 250 * time.Millisecond

// Accelerator is an exclusive claim on the proving hardware, identified by
// a tag. Stale claims under the same tag are force-released before a new
// claim is taken and the claim is released again when the holder is done.
type Accelerator struct {
	tag     string
	lock    *flock.Flock
	release []string
	logger  zerolog.Logger
}

// NewAccelerator creates a claim for tag, locked through a file in lockDir.
// releaseCmd, when set, is run with the tag appended to force-release a
// stale claim (for example "docker rm -f").
func NewAccelerator(tag, lockDir, releaseCmd string) *Accelerator {
	return &Accelerator{
		tag:     tag,
		lock:    flock.New(filepath.Join(lockDir, tag+".lock")),
		release: strings.Fields(releaseCmd),
		logger:  log.With().Str("module", "accelerator").Str("tag", tag).Logger(),
	}
}

func (a *Accelerator) Tag() string { return a.tag }

// Acquire blocks until the claim is held or ctx is done. The returned func
// must be called exactly once to give the claim back.
func (a *Accelerator) Acquire(ctx context.Context) (func() error, error) {
	if err := a.forceRelease(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("no stale claim released")
	}
	if dir := filepath.Dir(a.lock.Path()); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock dir %s: %w", dir, err)
		}
	}
	ok, err := a.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcceleratorBusy, err)
	}
	if !ok {
		return nil, ErrAcceleratorBusy
	}
	a.logger.Debug().Msg("accelerator claimed")

	return func() error {
		var result error
		if err := a.lock.Unlock(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to unlock %s: %w", a.lock.Path(), err))
		}
		// the holder may have been cancelled; releasing must still happen
		if err := a.forceRelease(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
		a.logger.Debug().Msg("accelerator released")
		return result
	}, nil
}

// With runs fn while holding the claim.
func (a *Accelerator) With(ctx context.Context, fn func(context.Context) error) error {
	done, err := a.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx)
	if releaseErr := done(); releaseErr != nil {
		a.logger.Warn().Err(releaseErr).Msg("failed to release accelerator")
	}
	return err
}

func (a *Accelerator) forceRelease(ctx context.Context) error {
	if len(a.release) == 0 {
		return nil
	}
	args := append(append([]string{}, a.release[1:]...), a.tag)
	out, err := exec.CommandContext(ctx, a.release[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("release command %q failed: %w: %s", strings.Join(a.release, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
