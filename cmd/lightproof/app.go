package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcq-org/lightproof/api"
	"github.com/btcq-org/lightproof/artifacts"
	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/config"
	"github.com/btcq-org/lightproof/lightclient"
	"github.com/btcq-org/lightproof/metrics"
	"github.com/btcq-org/lightproof/orchestrator"
	"github.com/btcq-org/lightproof/preprocessor"
	"github.com/btcq-org/lightproof/prover"
	"github.com/btcq-org/lightproof/recursion"
	"github.com/btcq-org/lightproof/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func newBackend(cfg *config.Config) (lightclient.Backend, error) {
	switch kind := cfg.BackendKind(); kind {
	case common.HeliosBackend:
		if cfg.ConsensusRPCURL == "" {
			return nil, errors.New("SOURCE_CONSENSUS_RPC_URL is required")
		}
		return lightclient.NewBeaconRPC(cfg.ConsensusRPCURL, cfg.ResolvedTrustWindow(lightclient.DefaultBeaconTrustWindow)), nil
	case common.TendermintBackend:
		if cfg.ConsensusRPCURL == "" || cfg.ChainID == "" {
			return nil, errors.New("SOURCE_CONSENSUS_RPC_URL and SOURCE_CHAIN_ID are required")
		}
		return lightclient.NewTendermintRPC(cfg.ChainID, cfg.ConsensusRPCURL, cfg.ResolvedTrustWindow(lightclient.DefaultTendermintTrustWindow))
	default:
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownBackend, kind)
	}
}

func newInvoker(cfg *config.Config) *prover.Invoker {
	var accel *prover.Accelerator
	if cfg.Prover.AcceleratorTag != "" {
		accel = prover.NewAccelerator(cfg.Prover.AcceleratorTag, cfg.LockDir(), cfg.Prover.ReleaseCommand)
	}
	return prover.NewInvoker(prover.NewSubprocessEngine(cfg.Prover.Bin), accel, cfg.Prover.Timeout)
}

// runService runs the retrieval API and the proving loop until one of them
// fails or the process is signalled.
func runService(ctx context.Context, cfg *config.Config, mode orchestrator.Mode, maxRounds int) error {
	kind := cfg.BackendKind()
	genesis, err := cfg.Genesis()
	if err != nil {
		return err
	}
	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	arts := artifacts.NewStore(cfg.ArtifactsDir, kind)
	keys, err := arts.LoadVerifyingKeys(genesis)
	if err != nil {
		return err
	}
	policy, err := preprocessor.ParsePolicy(cfg.ZeroDistance)
	if err != nil {
		return err
	}

	states, err := store.Open(cfg.StateDBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := states.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close state store")
		}
	}()

	m := metrics.NewMetrics()
	invoker := newInvoker(cfg)
	pre := preprocessor.New(backend, policy)
	pre.SetRequestTimeout(cfg.RequestTimeout)
	o := orchestrator.New(orchestrator.Config{
		Genesis:                   genesis,
		BaseProgram:               arts.ProgramPath(artifacts.ProgramBase),
		PollInterval:              cfg.Retry.PollInterval,
		RetryInterval:             cfg.Retry.Interval,
		UnavailableRetryThreshold: cfg.Retry.UnavailableThreshold,
		MaxRounds:                 maxRounds,
	},
		backend,
		pre,
		invoker,
		recursion.NewRecursor(invoker, keys),
		states,
		m,
	)
	srv := api.NewServer(kind, states, o, m)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.APIPort)
	})
	g.Go(func() error {
		// a bounded run ends the service once the last round is committed
		defer cancel()
		err := o.Run(ctx, mode)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error().
			Err(err).
			Str("stage", string(common.StageOf(err))).
			Str("class", common.ClassOf(err).String()).
			Msg("lightproof stopped")
		return err
	}
	log.Info().Msg("lightproof stopped")
	return nil
}
