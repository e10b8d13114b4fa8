package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"synnergy-network/core"
	"synnergy-network/pkg/config"
)

// loadConfig merges the default config with the --env overlay, falling back
// to config.Default() when no config file is present (e.g. a fresh checkout
// with no cmd/config/default.yaml yet).
func loadConfig() config.Config {
	cfg, err := config.Load(viper.GetString("env"))
	if err != nil {
		logrus.WithError(err).Warn("meshnode: no config file found, using built-in defaults")
		return config.Default()
	}
	return *cfg
}

// loadOrCreateSigner reads the node's mnemonic from cfg.Identity.KeyPath, or
// generates and persists a fresh one on first run.
func loadOrCreateSigner(cfg config.Config) (*core.Signer, error) {
	path := cfg.Identity.KeyPath
	if path == "" {
		path = "data/identity.key"
	}

	if data, err := os.ReadFile(path); err == nil {
		mnemonic := strings.TrimSpace(string(data))
		return core.SignerFromMnemonic(mnemonic, "", logrus.StandardLogger())
	}

	signer, mnemonic, err := core.NewSigner(logrus.StandardLogger())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err == nil {
		_ = os.WriteFile(path, []byte(mnemonic+"\n"), 0o600)
	}
	return signer, nil
}

func runtimeConfigFrom(cfg config.Config) core.RuntimeConfig {
	return core.RuntimeConfig{
		Mana: core.ManaLedgerConfig{
			DefaultMaxCapacity:   cfg.Economics.DefaultMaxCapacity,
			DefaultBaseRegenRate: cfg.Economics.DefaultBaseRegenRate,
		},
		JobManager: core.JobManagerConfig{
			JobRetryCount:          cfg.Mesh.JobRetryCount,
			BlacklistAfterFailures: cfg.Mesh.BlacklistAfterFailures,
			BidWindow:              time.Duration(cfg.Mesh.BidWindowMS) * time.Millisecond,
			AssignmentAckTimeout:   time.Duration(cfg.Mesh.AssignAckTimeoutMS) * time.Millisecond,
			MaxExecutionWait:       time.Duration(cfg.Mesh.MaxExecutionWaitMS) * time.Millisecond,
			MaxConcurrentJobs:      cfg.Mesh.MaxConcurrentJobs,
			MinExecutorReputation:  cfg.Mesh.MinExecutorReputation,
		},
		Federation: core.FederationSyncConfig{
			SyncInterval:        time.Duration(cfg.Federation.SyncIntervalMS) * time.Millisecond,
			MaxBlocksPerRequest: cfg.Federation.MaxBlocksPerRequest,
			VoteWindow:          time.Duration(cfg.Federation.VoteWindowMS) * time.Millisecond,
			Weights: core.ResolutionWeights{
				Timestamp:      cfg.Federation.WeightTimestamp,
				Reputation:     cfg.Federation.WeightReputation,
				ReferenceCount: cfg.Federation.WeightReferenceCount,
				ChainLength:    cfg.Federation.WeightChainLength,
			},
		},
		Governance: core.GovernanceConfig{
			ProposalCostMana: cfg.Economics.ProposalCostMana,
			VoteCostMana:     cfg.Economics.VoteCostMana,
		},
		DagStore: core.DagStoreConfig{
			WALPath: cfg.Storage.WALPath,
		},
		QueueDepth: cfg.Mesh.QueueDepth,
	}
}

// bootstrapRuntime wires a full core.Runtime from on-disk config and
// identity, using the in-memory transport loopback. cfg.Network is not read
// here, and no command builds a core.NewLibp2pTransport.
func bootstrapRuntime() (*core.Runtime, config.Config, error) {
	cfg := loadConfig()
	signer, err := loadOrCreateSigner(cfg)
	if err != nil {
		return nil, cfg, err
	}
	rt, err := core.NewRuntime(runtimeConfigFrom(cfg), signer, nil, logrus.StandardLogger())
	if err != nil {
		return nil, cfg, err
	}
	return rt, cfg, nil
}
