package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/btcq-org/lightproof/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var (
	ErrNotFound      = errors.New("service state not found")
	ErrInvalidState  = errors.New("invalid service state")
	ErrStoreClosed   = errors.New("state store is closed")
	ErrBackendChange = errors.New("stored state belongs to another backend")
)

const keyPrefix = "service_state/"

// StateStore persists one ServiceState per backend. Writes are synchronous
// and atomic; concurrent readers always observe a committed record.
type StateStore struct {
	db     *leveldb.DB
	mu     sync.RWMutex
	closed bool
	logger zerolog.Logger
}

// Open opens the store at path. An empty path keeps everything in memory.
func Open(path string) (*StateStore, error) {
	db, err := openLevelDB(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

func New(db *leveldb.DB) *StateStore {
	return &StateStore{
		db:     db,
		logger: log.With().Str("module", "store").Logger(),
	}
}

func stateKey(kind common.BackendKind) []byte {
	return []byte(keyPrefix + kind.String())
}

// Load returns the stored state for kind, or ErrNotFound.
func (s *StateStore) Load(kind common.BackendKind) (*ServiceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	buf, err := s.db.Get(stateKey(kind), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state for %s: %w", kind, err)
	}
	var state ServiceState
	if err := json.Unmarshal(buf, &state); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if !state.Backend.Equals(kind) {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrBackendChange, kind, state.Backend)
	}
	return &state, nil
}

// Save replaces the stored state with state in one synchronous write.
func (s *StateStore) Save(state *ServiceState) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidState)
	}
	if err := state.Backend.Valid(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	batch := new(leveldb.Batch)
	batch.Put(stateKey(state.Backend), buf)
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write state for %s: %w", state.Backend, err)
	}
	s.logger.Debug().
		Str("backend", state.Backend.String()).
		Uint64("position", state.Trusted.Position.Uint64()).
		Uint64("update_counter", state.UpdateCounter).
		Msg("state saved")
	return nil
}

// Initialize stores a genesis state for kind unless one already exists, and
// returns whatever is stored afterwards.
func (s *StateStore) Initialize(kind common.BackendKind, genesis common.Checkpoint) (*ServiceState, error) {
	state, err := s.Load(kind)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	state = NewServiceState(kind, genesis)
	if err := s.Save(state); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("backend", kind.String()).
		Str("genesis", genesis.String()).
		Msg("initialized state from genesis")
	return state, nil
}

// Reset discards the stored state for kind. Resetting a missing state is not an error.
func (s *StateStore) Reset(kind common.BackendKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := s.db.Delete(stateKey(kind), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", kind, err)
	}
	s.logger.Info().Str("backend", kind.String()).Msg("state deleted")
	return nil
}

func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
