package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/btcq-org/lightproof/recursion"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Program is one of the three programs of a backend.
type Program string

const (
	ProgramBase      Program = "base"
	ProgramRecursion Program = "recursion"
	ProgramWrapper   Program = "wrapper"
)

var Programs = []Program{ProgramBase, ProgramRecursion, ProgramWrapper}

var ErrMissingArtifact = errors.New("missing artifact")

// Setuper derives the key pair of a program.
type Setuper interface {
	Setup(ctx context.Context, program string) (common.ArtifactPair, error)
}

// RecursionManifest binds the recursion program to its genesis and to the
// base program it accepts.
type RecursionManifest struct {
	Backend         common.BackendKind `json:"backend"`
	TrustedPosition common.Position    `json:"trusted_position"`
	TrustedRoot     common.Hash        `json:"trusted_root"`
	CommitteeHash   common.Hash        `json:"committee_hash"`
	BaseVKDigest    common.Hash        `json:"base_vk_digest"`
}

func (m RecursionManifest) Genesis() common.Checkpoint {
	return common.NewCheckpoint(m.TrustedRoot, m.TrustedPosition)
}

// WrapperManifest binds the wrapper program to the recursion program and
// pins the wrapper verifying key the published proofs are checked against.
type WrapperManifest struct {
	Backend           common.BackendKind `json:"backend"`
	RecursionVKDigest common.Hash        `json:"recursion_vk_digest"`
	WrapperVKDigest   common.Hash        `json:"wrapper_vk_digest"`
}

// Store lays out the artifacts of one backend inside a directory.
type Store struct {
	dir    string
	kind   common.BackendKind
	logger zerolog.Logger
}

func NewStore(dir string, kind common.BackendKind) *Store {
	return &Store{
		dir:    dir,
		kind:   kind,
		logger: log.With().Str("module", "artifacts").Str("backend", kind.String()).Logger(),
	}
}

func (s *Store) name(p Program) string {
	return strings.ToLower(s.kind.String()) + "-" + string(p)
}

// ProgramPath is the compiled program handed to the proving engine.
func (s *Store) ProgramPath(p Program) string {
	return filepath.Join(s.dir, s.name(p)+".bin")
}

func (s *Store) provingKeyPath(p Program) string {
	return filepath.Join(s.dir, s.name(p)+".pk")
}

func (s *Store) verifyingKeyPath(p Program) string {
	return filepath.Join(s.dir, s.name(p)+".vk")
}

func (s *Store) manifestPath(p Program) string {
	return filepath.Join(s.dir, s.name(p)+".json")
}

// Dump runs setup for every program and writes the key pairs.
func (s *Store) Dump(ctx context.Context, setup Setuper) error {
	for _, p := range Programs {
		program := s.ProgramPath(p)
		if _, err := os.Stat(program); err != nil {
			return fmt.Errorf("%w: program %s: %w", ErrMissingArtifact, program, err)
		}
		pair, err := setup.Setup(ctx, program)
		if err != nil {
			return fmt.Errorf("failed to set up %s: %w", program, err)
		}
		if err := s.WritePair(p, pair); err != nil {
			return err
		}
		s.logger.Info().
			Str("program", string(p)).
			Str("vk_digest", recursion.Digest(pair.VerifyingKey).Hex()).
			Msg("artifacts written")
	}
	return nil
}

// WritePair stores a key pair, plus the verifying key in hex.
func (s *Store) WritePair(p Program, pair common.ArtifactPair) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}
	var result error
	if err := os.WriteFile(s.provingKeyPath(p), pair.ProvingKey, 0o644); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.WriteFile(s.verifyingKeyPath(p), pair.VerifyingKey, 0o644); err != nil {
		result = multierror.Append(result, err)
	}
	if err := os.WriteFile(s.verifyingKeyPath(p)+".hex", []byte(hexutil.Encode(pair.VerifyingKey)), 0o644); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		return fmt.Errorf("failed to write %s keys: %w", p, result)
	}
	return nil
}

// VerifyingKey reads the verifying key of p.
func (s *Store) VerifyingKey(p Program) ([]byte, error) {
	buf, err := os.ReadFile(s.verifyingKeyPath(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %s verifying key: %w", ErrMissingArtifact, p, err)
	}
	return buf, nil
}

// GenerateRecursionManifest binds the recursion program to genesis and to
// the current base verifying key.
func (s *Store) GenerateRecursionManifest(ctx context.Context, backend lightclient.Backend, genesis common.Checkpoint) (*RecursionManifest, error) {
	if err := backend.VerifyCheckpointShape(genesis); err != nil {
		return nil, err
	}
	baseVK, err := s.VerifyingKey(ProgramBase)
	if err != nil {
		return nil, err
	}
	committee, err := backend.CommitteeHash(ctx, genesis)
	if err != nil {
		return nil, fmt.Errorf("failed to get committee hash at %s: %w", genesis, err)
	}
	m := &RecursionManifest{
		Backend:         s.kind,
		TrustedPosition: genesis.Position,
		TrustedRoot:     genesis.Root,
		CommitteeHash:   committee,
		BaseVKDigest:    recursion.Digest(baseVK),
	}
	if err := s.writeJSON(s.manifestPath(ProgramRecursion), m); err != nil {
		return nil, err
	}
	s.logger.Info().Str("genesis", genesis.String()).Str("committee_hash", committee.Hex()).Msg("recursion manifest written")
	return m, nil
}

// GenerateWrapperManifest binds the wrapper program to the current recursion
// and wrapper verifying keys.
func (s *Store) GenerateWrapperManifest() (*WrapperManifest, error) {
	recursionVK, err := s.VerifyingKey(ProgramRecursion)
	if err != nil {
		return nil, err
	}
	wrapperVK, err := s.VerifyingKey(ProgramWrapper)
	if err != nil {
		return nil, err
	}
	m := &WrapperManifest{
		Backend:           s.kind,
		RecursionVKDigest: recursion.Digest(recursionVK),
		WrapperVKDigest:   recursion.Digest(wrapperVK),
	}
	if err := s.writeJSON(s.manifestPath(ProgramWrapper), m); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("recursion_vk_digest", m.RecursionVKDigest.Hex()).
		Str("wrapper_vk_digest", m.WrapperVKDigest.Hex()).
		Msg("wrapper manifest written")
	return m, nil
}

func (s *Store) RecursionManifest() (*RecursionManifest, error) {
	var m RecursionManifest
	if err := s.readJSON(s.manifestPath(ProgramRecursion), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) WrapperManifest() (*WrapperManifest, error) {
	var m WrapperManifest
	if err := s.readJSON(s.manifestPath(ProgramWrapper), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadVerifyingKeys loads the recursion and wrapper verifying keys and
// checks every digest against the manifests. Any difference means the
// artifacts were rebuilt without regenerating the chain and is critical.
func (s *Store) LoadVerifyingKeys(genesis common.Checkpoint) (recursion.Keys, error) {
	keys, err := s.loadVerifyingKeys(genesis)
	if err != nil {
		return recursion.Keys{}, common.Critical(common.StageStartup, err)
	}
	return keys, nil
}

func (s *Store) loadVerifyingKeys(genesis common.Checkpoint) (recursion.Keys, error) {
	recManifest, err := s.RecursionManifest()
	if err != nil {
		return recursion.Keys{}, err
	}
	wrapManifest, err := s.WrapperManifest()
	if err != nil {
		return recursion.Keys{}, err
	}
	if !recManifest.Backend.Equals(s.kind) || !wrapManifest.Backend.Equals(s.kind) {
		return recursion.Keys{}, fmt.Errorf("%w: manifests built for %s/%s, running %s", common.ErrArtifactMismatch, recManifest.Backend, wrapManifest.Backend, s.kind)
	}
	if !recManifest.Genesis().Equals(genesis) {
		return recursion.Keys{}, fmt.Errorf("%w: recursion program is bound to genesis %s, configured %s", common.ErrArtifactMismatch, recManifest.Genesis(), genesis)
	}

	baseVK, err := s.VerifyingKey(ProgramBase)
	if err != nil {
		return recursion.Keys{}, err
	}
	if got := recursion.Digest(baseVK); got != recManifest.BaseVKDigest {
		return recursion.Keys{}, fmt.Errorf("%w: base vk digest %s, manifest %s", common.ErrArtifactMismatch, got.Hex(), recManifest.BaseVKDigest.Hex())
	}

	recVK, err := s.VerifyingKey(ProgramRecursion)
	if err != nil {
		return recursion.Keys{}, err
	}
	recVerifier, err := recursion.NewVerifierFromBytes(recVK)
	if err != nil {
		return recursion.Keys{}, fmt.Errorf("%w: %w", common.ErrArtifactMismatch, err)
	}
	if recVerifier.Digest() != wrapManifest.RecursionVKDigest {
		return recursion.Keys{}, fmt.Errorf("%w: recursion vk digest %s, wrapper manifest %s", common.ErrArtifactMismatch, recVerifier.Digest().Hex(), wrapManifest.RecursionVKDigest.Hex())
	}

	wrapVK, err := s.VerifyingKey(ProgramWrapper)
	if err != nil {
		return recursion.Keys{}, err
	}
	wrapVerifier, err := recursion.NewVerifierFromBytes(wrapVK)
	if err != nil {
		return recursion.Keys{}, fmt.Errorf("%w: %w", common.ErrArtifactMismatch, err)
	}
	if wrapVerifier.Digest() != wrapManifest.WrapperVKDigest {
		return recursion.Keys{}, fmt.Errorf("%w: wrapper vk digest %s, wrapper manifest %s", common.ErrArtifactMismatch, wrapVerifier.Digest().Hex(), wrapManifest.WrapperVKDigest.Hex())
	}

	s.logger.Info().
		Str("recursion_vk_digest", recVerifier.Digest().Hex()).
		Str("wrapper_vk_digest", wrapVerifier.Digest().Hex()).
		Msg("verifying keys loaded")
	return recursion.Keys{
		RecursionProgram: s.ProgramPath(ProgramRecursion),
		WrapperProgram:   s.ProgramPath(ProgramWrapper),
		BaseVKDigest:     recManifest.BaseVKDigest,
		CommitteeHash:    recManifest.CommitteeHash,
		Recursion:        recVerifier,
		Wrapper:          wrapVerifier,
	}, nil
}

func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) readJSON(path string, v any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMissingArtifact, path, err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
