package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcq-org/lightproof/common"
	"github.com/btcq-org/lightproof/preprocessor"
	"github.com/spf13/viper"
)

// Config is the immutable process configuration. It is built once at
// startup and passed explicitly to every component.
type Config struct {
	Backend         string        `mapstructure:"client_backend" json:"client_backend"`
	TrustWindow     uint64        `mapstructure:"trust_window" json:"trust_window"`
	ConsensusRPCURL string        `mapstructure:"source_consensus_rpc_url" json:"source_consensus_rpc_url"`
	ChainID         string        `mapstructure:"source_chain_id" json:"source_chain_id"`
	StateDBPath     string        `mapstructure:"service_state_db_path" json:"service_state_db_path"`
	ArtifactsDir    string        `mapstructure:"elfs_out" json:"elfs_out"`
	APIPort         int           `mapstructure:"api_port" json:"api_port"`
	LogLevel        string        `mapstructure:"log_level" json:"log_level"`
	GenesisPosition uint64        `mapstructure:"genesis_position" json:"genesis_position"`
	GenesisRoot     string        `mapstructure:"genesis_root" json:"genesis_root"`
	Prover          ProverConfig  `mapstructure:"prover" json:"prover"`
	Retry           RetryConfig   `mapstructure:"retry" json:"retry"`
	ZeroDistance    string        `mapstructure:"zero_distance_policy" json:"zero_distance_policy"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
}

type ProverConfig struct {
	Bin            string        `mapstructure:"bin" json:"bin"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	AcceleratorTag string        `mapstructure:"accelerator_tag" json:"accelerator_tag"`
	// ReleaseCommand is run with the accelerator tag appended to force-release
	// a stale claim, e.g. "docker rm -f".
	ReleaseCommand string `mapstructure:"release_command" json:"release_command"`
	LockDir        string `mapstructure:"lock_dir" json:"lock_dir"`
}

type RetryConfig struct {
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	// PollInterval is how long to wait for the remote head to advance.
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	// UnavailableThreshold is the number of consecutive unavailable-evidence
	// failures before the checkpoint is declared pruned. Zero never escalates.
	UnavailableThreshold int `mapstructure:"unavailable_threshold" json:"unavailable_threshold"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend:      common.TendermintBackend.String(),
		StateDBPath:  "service_state.db",
		ArtifactsDir: "elfs/variable",
		APIPort:      7778,
		LogLevel:     "info",
		Prover: ProverConfig{
			Bin:            "lightproof-prover",
			Timeout:        2 * time.Hour,
			AcceleratorTag: "sp1-gpu",
			LockDir:        "",
		},
		Retry: RetryConfig{
			Interval:             60 * time.Second,
			PollInterval:         60 * time.Second,
			UnavailableThreshold: 10,
		},
		ZeroDistance:   string(preprocessor.PolicyWait),
		RequestTimeout: 30 * time.Second,
	}
}

// envBindings maps config keys to the environment variables the service has
// always been operated with.
var envBindings = map[string][]string{
	"client_backend":              {"CLIENT_BACKEND"},
	"trust_window":                {"TRUST_WINDOW", "TENDERMINT_EXPIRATION_LIMIT"},
	"source_consensus_rpc_url":    {"SOURCE_CONSENSUS_RPC_URL"},
	"source_chain_id":             {"SOURCE_CHAIN_ID"},
	"service_state_db_path":       {"SERVICE_STATE_DB_PATH"},
	"elfs_out":                    {"ELFS_OUT"},
	"api_port":                    {"API_PORT"},
	"log_level":                   {"LOG_LEVEL"},
	"genesis_position":            {"GENESIS_POSITION"},
	"genesis_root":                {"GENESIS_ROOT"},
	"zero_distance_policy":        {"ZERO_DISTANCE_POLICY"},
	"request_timeout":             {"REQUEST_TIMEOUT"},
	"prover.bin":                  {"PROVER_BIN"},
	"prover.timeout":              {"PROVE_TIMEOUT"},
	"prover.accelerator_tag":      {"ACCELERATOR_TAG"},
	"prover.release_command":      {"ACCELERATOR_RELEASE_CMD"},
	"prover.lock_dir":             {"ACCELERATOR_LOCK_DIR"},
	"retry.interval":              {"RETRY_INTERVAL"},
	"retry.poll_interval":         {"POLL_INTERVAL"},
	"retry.unavailable_threshold": {"UNAVAILABLE_RETRY_THRESHOLD"},
}

// GetConfig reads config.json from the working directory when present and
// overlays the environment.
func GetConfig() (*Config, error) {
	return Load(viper.New(), ".")
}

// Load builds a Config from v, searching for config.json in the given paths.
func Load(v *viper.Viper, paths ...string) (*Config, error) {
	def := DefaultConfig()
	setDefaults(v, def)

	v.SetConfigName("config")
	v.SetConfigType("json")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("client_backend", def.Backend)
	v.SetDefault("trust_window", def.TrustWindow)
	v.SetDefault("source_consensus_rpc_url", def.ConsensusRPCURL)
	v.SetDefault("source_chain_id", def.ChainID)
	v.SetDefault("service_state_db_path", def.StateDBPath)
	v.SetDefault("elfs_out", def.ArtifactsDir)
	v.SetDefault("api_port", def.APIPort)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("genesis_position", def.GenesisPosition)
	v.SetDefault("genesis_root", def.GenesisRoot)
	v.SetDefault("zero_distance_policy", def.ZeroDistance)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("prover.bin", def.Prover.Bin)
	v.SetDefault("prover.timeout", def.Prover.Timeout)
	v.SetDefault("prover.accelerator_tag", def.Prover.AcceleratorTag)
	v.SetDefault("prover.release_command", def.Prover.ReleaseCommand)
	v.SetDefault("prover.lock_dir", def.Prover.LockDir)
	v.SetDefault("retry.interval", def.Retry.Interval)
	v.SetDefault("retry.poll_interval", def.Retry.PollInterval)
	v.SetDefault("retry.unavailable_threshold", def.Retry.UnavailableThreshold)
}

// Validate checks the values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	if _, err := common.NewBackendKind(c.Backend); err != nil {
		return err
	}
	if _, err := preprocessor.ParsePolicy(c.ZeroDistance); err != nil {
		return err
	}
	if c.Retry.Interval <= 0 || c.Retry.PollInterval <= 0 {
		return errors.New("retry intervals must be positive")
	}
	if c.Retry.UnavailableThreshold < 0 {
		return errors.New("unavailable threshold must not be negative")
	}
	if c.GenesisRoot != "" {
		if _, err := common.HexToHash(c.GenesisRoot); err != nil {
			return fmt.Errorf("invalid genesis root: %w", err)
		}
	}
	return nil
}

// BackendKind returns the parsed backend; Validate guarantees it is valid.
func (c *Config) BackendKind() common.BackendKind {
	kind, _ := common.NewBackendKind(c.Backend)
	return kind
}

// Genesis returns the configured genesis checkpoint, falling back to the
// compiled-in checkpoint of the backend for unset fields.
func (c *Config) Genesis() (common.Checkpoint, error) {
	cp := DefaultGenesis(c.BackendKind())
	if c.GenesisPosition != 0 {
		cp.Position = common.Position(c.GenesisPosition)
	}
	if c.GenesisRoot != "" {
		root, err := common.HexToHash(c.GenesisRoot)
		if err != nil {
			return common.Checkpoint{}, fmt.Errorf("invalid genesis root: %w", err)
		}
		cp.Root = root
	}
	return cp, nil
}

// ResolvedTrustWindow returns the override when set, otherwise def.
func (c *Config) ResolvedTrustWindow(def uint64) uint64 {
	if c.TrustWindow > 0 {
		return c.TrustWindow
	}
	return def
}

func (c *Config) LockDir() string {
	if c.Prover.LockDir != "" {
		return c.Prover.LockDir
	}
	return filepath.Dir(filepath.Clean(c.StateDBPath))
}
