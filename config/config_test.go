package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/preprocessor"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, common.TendermintBackend, cfg.BackendKind())
	require.Equal(t, 7778, cfg.APIPort)
	require.Equal(t, "service_state.db", cfg.StateDBPath)
	require.Equal(t, "elfs/variable", cfg.ArtifactsDir)
	require.Equal(t, 60*time.Second, cfg.Retry.Interval)
	require.Equal(t, 10, cfg.Retry.UnavailableThreshold)
	require.Equal(t, string(preprocessor.PolicyWait), cfg.ZeroDistance)

	genesis, err := cfg.Genesis()
	require.NoError(t, err)
	require.Equal(t, common.Position(TendermintTrustedHeight), genesis.Position)
	require.Equal(t, TendermintTrustedRoot, genesis.Root)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CLIENT_BACKEND", "helios")
	t.Setenv("TENDERMINT_EXPIRATION_LIMIT", "500")
	t.Setenv("RETRY_INTERVAL", "5s")
	t.Setenv("PROVER_BIN", "/opt/prover")
	t.Setenv("GENESIS_ROOT", "0x0101010101010101010101010101010101010101010101010101010101010101")
	t.Setenv("GENESIS_POSITION", "1024")

	cfg, err := Load(viper.New(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, common.HeliosBackend, cfg.BackendKind())
	require.EqualValues(t, 500, cfg.ResolvedTrustWindow(100000))
	require.Equal(t, 5*time.Second, cfg.Retry.Interval)
	require.Equal(t, "/opt/prover", cfg.Prover.Bin)

	genesis, err := cfg.Genesis()
	require.NoError(t, err)
	require.Equal(t, common.Position(1024), genesis.Position)
	require.Equal(t, byte(1), genesis.Root[31])
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	body := `{"client_backend":"TENDERMINT","api_port":9000,"retry":{"unavailable_threshold":0}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o600))

	cfg, err := Load(viper.New(), dir)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.APIPort)
	require.Equal(t, 0, cfg.Retry.UnavailableThreshold)
	require.Equal(t, 60*time.Second, cfg.Retry.PollInterval)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Backend = "solana"
	require.ErrorIs(t, cfg.Validate(), common.ErrUnknownBackend)

	cfg = DefaultConfig()
	cfg.ZeroDistance = "skip"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.GenesisRoot = "0x1234"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retry.PollInterval = 0
	require.Error(t, cfg.Validate())
}

func TestResolvedTrustWindow(t *testing.T) {
	cfg := DefaultConfig()
	require.EqualValues(t, 100000, cfg.ResolvedTrustWindow(100000))
	cfg.TrustWindow = 10
	require.EqualValues(t, 10, cfg.ResolvedTrustWindow(100000))
}

func TestLockDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDBPath = "/var/lib/lightproof/state.db"
	require.Equal(t, "/var/lib/lightproof", cfg.LockDir())
	cfg.Prover.LockDir = "/run/lock"
	require.Equal(t, "/run/lock", cfg.LockDir())
}
