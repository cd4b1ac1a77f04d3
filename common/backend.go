package common

import (
	"errors"
	"fmt"
	"strings"
)

const (
	EmptyBackend      = BackendKind("")
	HeliosBackend     = BackendKind("HELIOS")
	TendermintBackend = BackendKind("TENDERMINT")
)

// BackendKind identifies which light-client backend drives the proof chain.
type BackendKind string

var ErrUnknownBackend = errors.New("unknown light client backend")

func (b BackendKind) String() string {
	// convert it to upper case again just in case someone created a backend via BackendKind("helios")
	return strings.ToUpper(string(b))
}

// Valid returns an error unless b is one of the supported backends
func (b BackendKind) Valid() error {
	switch BackendKind(b.String()) {
	case HeliosBackend, TendermintBackend:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownBackend, string(b))
}

func (b BackendKind) IsEmpty() bool {
	return strings.TrimSpace(b.String()) == ""
}

func (b BackendKind) Equals(b2 BackendKind) bool {
	return strings.EqualFold(b.String(), b2.String())
}

// NewBackendKind parses a backend name, case-insensitively
func NewBackendKind(name string) (BackendKind, error) {
	kind := BackendKind(strings.ToUpper(strings.TrimSpace(name)))
	if err := kind.Valid(); err != nil {
		return EmptyBackend, err
	}
	return kind, nil
}
