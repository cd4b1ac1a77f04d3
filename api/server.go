package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/metrics"
	"github.com/btcq-org/lightproof/store"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StateReader reads the last committed state.
type StateReader interface {
	Load(kind common.BackendKind) (*store.ServiceState, error)
}

// StatusProvider reports the live stage of the proving loop.
type StatusProvider interface {
	Status() string
}

// ProofResponse is the latest wrapper proof.
type ProofResponse struct {
	Proof         hexutil.Bytes     `json:"proof"`
	PublicValues  hexutil.Bytes     `json:"public_values"`
	Head          common.Checkpoint `json:"head"`
	Height        uint64            `json:"height"`
	StateRoot     common.Hash       `json:"state_root"`
	UpdateCounter uint64            `json:"update_counter"`
}

type StateResponse struct {
	Backend       common.BackendKind   `json:"backend"`
	Status        string               `json:"status,omitempty"`
	Genesis       common.Checkpoint    `json:"genesis"`
	Trusted       common.Checkpoint    `json:"trusted"`
	Committed     *common.Commitment   `json:"committed,omitempty"`
	UpdateCounter uint64               `json:"update_counter"`
	UpdatedAt     time.Time            `json:"updated_at"`
	LatestOutputs *common.ProofOutputs `json:"latest_outputs,omitempty"`
}

// Server is the read-only proof retrieval interface. It only ever reflects
// fully committed rounds.
type Server struct {
	kind    common.BackendKind
	states  StateReader
	status  StatusProvider
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewServer creates the API. status and m may be nil.
func NewServer(kind common.BackendKind, states StateReader, status StatusProvider, m *metrics.Metrics) *Server {
	return &Server{
		kind:    kind,
		states:  states,
		status:  status,
		metrics: m,
		logger:  log.With().Str("module", "api").Logger(),
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleLatestProof).Methods(http.MethodGet)
	router.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.metrics.RegisterHandlers(router)
	}
	return router
}

// ListenAndServe serves on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", port).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server stopped: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleLatestProof(w http.ResponseWriter, r *http.Request) {
	state, ok := s.load(w)
	if !ok {
		return
	}
	if state.MostRecentWrapper == nil || state.MostRecentWrapper.IsEmpty() {
		http.Error(w, "no proof available yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, ProofResponse{
		Proof:         state.MostRecentWrapper.Data,
		PublicValues:  state.MostRecentWrapper.PublicValues,
		Head:          state.MostRecentWrapper.Head,
		Height:        state.MostRecentWrapper.Commitment.Height,
		StateRoot:     state.MostRecentWrapper.Commitment.StateRoot,
		UpdateCounter: state.UpdateCounter,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, ok := s.load(w)
	if !ok {
		return
	}
	resp := StateResponse{
		Backend:       state.Backend,
		Genesis:       state.Genesis,
		Trusted:       state.Trusted,
		Committed:     state.Committed,
		UpdateCounter: state.UpdateCounter,
		UpdatedAt:     state.UpdatedAt,
		LatestOutputs: state.MostRecentOutputs,
	}
	if s.status != nil {
		resp.Status = s.status.Status()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Error().Err(err).Msg("failed to write health response")
	}
}

func (s *Server) load(w http.ResponseWriter) (*store.ServiceState, bool) {
	state, err := s.states.Load(s.kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no state available yet", http.StatusNotFound)
			return nil, false
		}
		s.logger.Error().Err(err).Msg("failed to load state")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	return state, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
