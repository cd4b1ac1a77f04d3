package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine is the external proving system.
type Engine interface {
	// Setup derives the proving/verifying key pair of a program.
	Setup(ctx context.Context, program string) (common.ArtifactPair, error)
	// Prove runs program over input and returns the proof with its public values.
	Prove(ctx context.Context, program string, input []byte) (common.Proof, error)
}

// SubprocessEngine drives a prover binary:
//
//	<bin> prove --program <path>   input on stdin, {"proof","public_values"} on stdout
//	<bin> setup --program <path>   {"proving_key","verifying_key"} on stdout
type SubprocessEngine struct {
	bin       string
	waitDelay time.Duration
	logger    zerolog.Logger
}

var _ Engine = &SubprocessEngine{}

func NewSubprocessEngine(bin string) *SubprocessEngine {
	return &SubprocessEngine{
		bin:       bin,
		waitDelay: 5 * time.Second,
		logger:    log.With().Str("module", "prover").Str("bin", bin).Logger(),
	}
}

func (e *SubprocessEngine) Setup(ctx context.Context, program string) (common.ArtifactPair, error) {
	var pair common.ArtifactPair
	if err := e.run(ctx, "setup", program, nil, &pair); err != nil {
		return common.ArtifactPair{}, err
	}
	if len(pair.ProvingKey) == 0 || len(pair.VerifyingKey) == 0 {
		return common.ArtifactPair{}, fmt.Errorf("%w: setup of %s returned empty keys", ErrMalformedOutput, program)
	}
	return pair, nil
}

func (e *SubprocessEngine) Prove(ctx context.Context, program string, input []byte) (common.Proof, error) {
	var proof common.Proof
	if err := e.run(ctx, "prove", program, input, &proof); err != nil {
		return common.Proof{}, err
	}
	if proof.IsEmpty() {
		return common.Proof{}, fmt.Errorf("%w: %s returned an empty proof", ErrMalformedOutput, program)
	}
	return proof, nil
}

func (e *SubprocessEngine) run(ctx context.Context, command, program string, input []byte, out any) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.bin, command, "--program", program)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = e.waitDelay

	start := time.Now()
	err := cmd.Run()
	e.logger.Debug().
		Str("command", command).
		Str("program", program).
		Dur("elapsed", time.Since(start)).
		Msg("prover exited")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s %s exit code %d: %s", common.ErrProverCrashed, command, program, exitErr.ExitCode(), tail(stderr.String()))
		}
		if missingBinary(err) {
			return fmt.Errorf("%w: failed to start %s: %w", common.ErrProverCrashed, e.bin, err)
		}
		return fmt.Errorf("%w: %s %s: %w", ErrProverIO, command, program, err)
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return nil
}

// missingBinary reports start failures that retrying cannot fix.
func missingBinary(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// tail keeps the last few lines of the prover's stderr for error messages.
func tail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}
