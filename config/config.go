// Package config loads the static, boot-time replica configuration: the
// replica's own identity and keys, the peer directory, quorum
// parameters, and the Coordinator/ledger-validator port numbers. It is
// loaded with spf13/viper (config file) layered under spf13/pflag (CLI
// overrides).
package config

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iotaledger/hotstuff-replica/dag"
)

// Replica describes one member of the static peer directory.
type Replica struct {
	ID      dag.ID `mapstructure:"id"`
	Address string `mapstructure:"address"`
	// PubKeyPEM is the PEM-encoded ECDSA public key used to verify this
	// replica's partial signatures.
	PubKeyPEM string `mapstructure:"public_key"`

	PubKey *ecdsa.PublicKey `mapstructure:"-"`
}

// Config is the full set of options the core recognizes.
type Config struct {
	ReplicaID dag.ID `mapstructure:"replica_id"`
	NReplicas int    `mapstructure:"nreplicas"`
	NFaulty   int    `mapstructure:"nfaulty"`

	ReplicaDirectory []Replica `mapstructure:"replica_directory"`

	PrivateKeyPEM string `mapstructure:"private_key"`
	PrivateKey    *ecdsa.PrivateKey

	CoordinatorListenPort int `mapstructure:"coordinator_listen_port"`
	CoordinatorSendPort   int `mapstructure:"coordinator_send_port"`
	IRISendPort           int `mapstructure:"iri_send_port"`
	IRIListenPort         int `mapstructure:"iri_listen_port"`

	TwoStepMode  bool `mapstructure:"two_step_mode"`
	VoteDisabled bool `mapstructure:"vote_disabled"`
}

// NMajority is nreplicas - nfaulty, the quorum size.
func (c Config) NMajority() int {
	return c.NReplicas - c.NFaulty
}

// Replica looks up a peer by ID.
func (c Config) Replica(id dag.ID) (Replica, bool) {
	for _, r := range c.ReplicaDirectory {
		if r.ID == id {
			return r, true
		}
	}
	return Replica{}, false
}

// RegisterFlags registers the CLI overrides this package recognizes on
// fs, one flag per top-level config knob.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Uint32("replica-id", 0, "this replica's numeric identifier")
	fs.Int("nreplicas", 0, "total number of replicas in the cluster")
	fs.Int("nfaulty", 0, "maximum tolerated number of faulty replicas")
	fs.Int("coordinator-listen-port", 0, "port the Coordinator proposal listener binds to")
	fs.Int("coordinator-send-port", 0, "port the Coordinator's decision/QC receiver listens on")
	fs.Int("iri-send-port", 0, "port the ledger validator's request receiver listens on")
	fs.Int("iri-listen-port", 0, "port this replica's ledger-verdict listener binds to")
	fs.Bool("two-step-mode", false, "use the two-phase commit rule instead of three-phase")
	fs.Bool("vote-disabled", false, "test hook: never vote")
}

// Load reads the config file at path (any format viper supports: yaml,
// toml, json) and layers fs's parsed CLI flags on top, then decodes
// private/public key PEM material.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if fs != nil {
		// Flags are dashed ("replica-id"), config keys underscored
		// ("replica_id"); bind each flag under its config key.
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("config: bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.PrivateKeyPEM != "" {
		key, err := ParsePrivateKeyPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("config: private key: %w", err)
		}
		cfg.PrivateKey = key
	}
	for i := range cfg.ReplicaDirectory {
		r := &cfg.ReplicaDirectory[i]
		if r.PubKeyPEM == "" {
			continue
		}
		pub, err := ParsePublicKeyPEM(r.PubKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("config: replica %d public key: %w", r.ID, err)
		}
		r.PubKey = pub
	}

	return &cfg, nil
}
