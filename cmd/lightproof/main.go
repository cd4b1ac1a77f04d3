// Package main runs the recursive proof-chain orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/btcq-org/lightproof/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type options struct {
	configDir string
	cfg       *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "lightproof",
		Short: "Advance a trusted head of a remote chain with recursive proofs",
		Long: `lightproof keeps a verified trusted head of a remote chain. Each round
proves a light-client transition from the trusted head, folds that proof into
the recursive proof of the whole chain since genesis, wraps it and persists the
new head.

Configuration is read from config.json in --config-dir and the environment
(CLIENT_BACKEND, SOURCE_CONSENSUS_RPC_URL, SOURCE_CHAIN_ID, ...).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.New(), opts.configDir)
			if err != nil {
				return err
			}
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
			}
			zerolog.SetGlobalLevel(level)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			opts.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "directory containing config.json")

	rootCmd.AddCommand(
		resetAndRunCmd(opts),
		resumeCmd(opts),
		deleteStateCmd(opts),
		generateRecursionCircuitCmd(opts),
		generateWrapperCircuitCmd(opts),
		dumpArtifactsCmd(opts),
	)
	return rootCmd
}
