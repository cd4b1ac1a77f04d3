package main

import (
	"fmt"

	"github.com/btcq-org/lightproof/artifacts"
	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/config"
	"github.com/btcq-org/lightproof/orchestrator"
	"github.com/btcq-org/lightproof/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

func resetAndRunCmd(opts *options) *cobra.Command {
	var maxRounds int
	cmd := &cobra.Command{
		Use:   "reset-and-run",
		Short: "Discard stored state and prove from the genesis checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), opts.cfg, orchestrator.ModeFresh, maxRounds)
		},
	}
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "stop after this many rounds, 0 runs forever")
	return cmd
}

func resumeCmd(opts *options) *cobra.Command {
	var maxRounds int
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue proving from the stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), opts.cfg, orchestrator.ModeResume, maxRounds)
		},
	}
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "stop after this many rounds, 0 runs forever")
	return cmd
}

func deleteStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-state",
		Short: "Delete the stored state of the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := store.Open(opts.cfg.StateDBPath)
			if err != nil {
				return err
			}
			defer states.Close()
			return states.Reset(opts.cfg.BackendKind())
		},
	}
}

func generateRecursionCircuitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-recursion-circuit [position]",
		Short: "Bind the recursion program to the genesis checkpoint",
		Long: `Writes the recursion manifest binding the recursion program to the genesis
checkpoint, its committee hash and the base program verifying key.

The optional position overrides GENESIS_POSITION; GENESIS_ROOT must then name
the root at that position. Run dump-artifacts first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			genesis, err := genesisFor(opts.cfg, args)
			if err != nil {
				return err
			}
			backend, err := newBackend(opts.cfg)
			if err != nil {
				return err
			}
			arts := artifacts.NewStore(opts.cfg.ArtifactsDir, opts.cfg.BackendKind())
			m, err := arts.GenerateRecursionManifest(cmd.Context(), backend, genesis)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recursion manifest: genesis %s committee %s base vk %s\n",
				m.Genesis(), m.CommitteeHash.Hex(), m.BaseVKDigest.Hex())
			return nil
		},
	}
}

func generateWrapperCircuitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-wrapper-circuit",
		Short: "Bind the wrapper program to the recursion verifying key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arts := artifacts.NewStore(opts.cfg.ArtifactsDir, opts.cfg.BackendKind())
			m, err := arts.GenerateWrapperManifest()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrapper manifest: recursion vk %s\n", m.RecursionVKDigest.Hex())
			return nil
		},
	}
}

func dumpArtifactsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-artifacts",
		Short: "Derive and write the proving and verifying keys of every program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arts := artifacts.NewStore(opts.cfg.ArtifactsDir, opts.cfg.BackendKind())
			if err := arts.Dump(cmd.Context(), newInvoker(opts.cfg)); err != nil {
				return err
			}
			log.Info().Str("dir", opts.cfg.ArtifactsDir).Msg("artifacts dumped")
			return nil
		},
	}
}

// genesisFor returns the configured genesis, with the position replaced by
// the first argument when given.
func genesisFor(cfg *config.Config, args []string) (common.Checkpoint, error) {
	genesis, err := cfg.Genesis()
	if err != nil {
		return common.Checkpoint{}, err
	}
	if len(args) == 0 {
		return genesis, nil
	}
	pos, err := cast.ToUint64E(args[0])
	if err != nil || pos == 0 {
		return common.Checkpoint{}, fmt.Errorf("invalid position %q", args[0])
	}
	if common.Position(pos) != genesis.Position && cfg.GenesisRoot == "" {
		return common.Checkpoint{}, fmt.Errorf("GENESIS_ROOT must be set when overriding the genesis position")
	}
	genesis.Position = common.Position(pos)
	return genesis, nil
}
