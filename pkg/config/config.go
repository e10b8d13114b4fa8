package config

// Package config provides a reusable loader for mesh-node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a mesh node, mirroring the
// network/mesh/storage/identity/api/economics/federation sections read from
// the YAML files under cmd/config. Every field is overridable by an
// environment variable prefixed SYNN_ (e.g. SYNN_MESH_BID_WINDOW_MS).
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		EnableMdns     bool     `mapstructure:"enable_mdns" json:"enable_mdns"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"network" json:"network"`

	Mesh struct {
		JobRetryCount          int     `mapstructure:"job_retry_count" json:"job_retry_count"`
		BlacklistAfterFailures int     `mapstructure:"blacklist_after_failures" json:"blacklist_after_failures"`
		BidWindowMS            int     `mapstructure:"bid_window_ms" json:"bid_window_ms"`
		AssignAckTimeoutMS     int     `mapstructure:"assign_ack_timeout_ms" json:"assign_ack_timeout_ms"`
		MaxExecutionWaitMS     int     `mapstructure:"max_execution_wait_ms" json:"max_execution_wait_ms"`
		MaxConcurrentJobs      int     `mapstructure:"max_concurrent_jobs" json:"max_concurrent_jobs"`
		QueueDepth             int     `mapstructure:"queue_depth" json:"queue_depth"`
		MinExecutorReputation  float64 `mapstructure:"min_executor_reputation" json:"min_executor_reputation"`
	} `mapstructure:"mesh" json:"mesh"`

	Storage struct {
		WALPath string `mapstructure:"wal_path" json:"wal_path"`
		Prune   bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Identity struct {
		KeyPath string `mapstructure:"key_path" json:"key_path"`
	} `mapstructure:"identity" json:"identity"`

	API struct {
		ListenAddr      string `mapstructure:"listen_addr" json:"listen_addr"`
		APIKey          string `mapstructure:"api_key" json:"api_key"`
		RateLimitPerSec int    `mapstructure:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	} `mapstructure:"api" json:"api"`

	Economics struct {
		DefaultMaxCapacity   uint64  `mapstructure:"default_max_capacity" json:"default_max_capacity"`
		DefaultBaseRegenRate float64 `mapstructure:"default_base_regen_rate" json:"default_base_regen_rate"`
		ProposalCostMana     uint64  `mapstructure:"proposal_cost_mana" json:"proposal_cost_mana"`
		VoteCostMana         uint64  `mapstructure:"vote_cost_mana" json:"vote_cost_mana"`
	} `mapstructure:"economics" json:"economics"`

	Federation struct {
		SyncIntervalMS       int     `mapstructure:"sync_interval_ms" json:"sync_interval_ms"`
		MaxBlocksPerRequest  int     `mapstructure:"max_blocks_per_request" json:"max_blocks_per_request"`
		VoteWindowMS         int     `mapstructure:"vote_window_ms" json:"vote_window_ms"`
		WeightTimestamp      float64 `mapstructure:"weight_timestamp" json:"weight_timestamp"`
		WeightReputation     float64 `mapstructure:"weight_reputation" json:"weight_reputation"`
		WeightReferenceCount float64 `mapstructure:"weight_reference_count" json:"weight_reference_count"`
		WeightChainLength    float64 `mapstructure:"weight_chain_length" json:"weight_chain_length"`
	} `mapstructure:"federation" json:"federation"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("SYNN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // picks up SYNN_-prefixed overrides, plus .env via godotenv at main()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}

// Default returns a Config holding the same values as
// cmd/config/default.yaml, for use when no config file is present yet.
func Default() Config {
	var c Config
	c.Network.ListenAddr = "/ip4/0.0.0.0/tcp/4001"
	c.Network.EnableMdns = true
	c.Network.MaxPeers = 64
	c.Mesh.JobRetryCount = 3
	c.Mesh.BlacklistAfterFailures = 5
	c.Mesh.BidWindowMS = 10_000
	c.Mesh.AssignAckTimeoutMS = 5_000
	c.Mesh.MaxExecutionWaitMS = 120_000
	c.Mesh.MaxConcurrentJobs = 1000
	c.Mesh.QueueDepth = 256
	c.Storage.WALPath = "data/dag.wal"
	c.Identity.KeyPath = "data/identity.key"
	c.API.ListenAddr = ":8080"
	c.API.RateLimitPerSec = 20
	c.Economics.DefaultMaxCapacity = 1000
	c.Economics.DefaultBaseRegenRate = 10
	c.Economics.ProposalCostMana = 50
	c.Economics.VoteCostMana = 5
	c.Federation.SyncIntervalMS = 30_000
	c.Federation.MaxBlocksPerRequest = 256
	c.Federation.VoteWindowMS = 60_000
	c.Federation.WeightTimestamp = 0.25
	c.Federation.WeightReputation = 0.25
	c.Federation.WeightReferenceCount = 0.25
	c.Federation.WeightChainLength = 0.25
	c.Logging.Level = "info"
	return c
}
