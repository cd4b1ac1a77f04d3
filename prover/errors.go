package prover

import "errors"

var (
	ErrMalformedOutput = errors.New("malformed prover output")
	ErrAcceleratorBusy = errors.New("accelerator is claimed by another process")
	ErrNoProgram       = errors.New("program not set")
	// ErrProverIO is a failure talking to the prover rather than inside it:
	// a pipe, fork or read error that a later attempt may not hit.
	ErrProverIO = errors.New("prover i/o error")
)
