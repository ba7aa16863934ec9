// Package config loads the node's static configuration from TOML and
// layers environment-variable overrides on top. Grounded on the
// teacher's params/config.go (Default()/LoadFromEnv pattern using
// joho/godotenv), generalized from a handful of hard-coded consensus
// knobs to the full option set of spec §6.4, and switched to
// BurntSushi/toml for the base file as the rest of the retrieval
// pack's Go services do (see DESIGN.md).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/nyxrelay/quorumview/pkg/stake"
	"github.com/nyxrelay/quorumview/pkg/types"
)

// ValidatorConfig names one entry of the static stake table.
type ValidatorConfig struct {
	ID         string `toml:"id"`
	Stake      uint64 `toml:"stake"`
	ListenAddr string `toml:"listen_addr"`
}

// Config is the full static configuration for one node, grounded on
// spec §6.4's option list.
type Config struct {
	TotalNodes      int    `toml:"total_nodes"`
	NumBootstrap    int    `toml:"num_bootstrap"`
	DACommitteeSize int    `toml:"da_committee_size"`
	SelfID          string `toml:"self_id"`
	ListenAddr      string `toml:"listen_addr"`

	NextViewTimeoutMS  int64   `toml:"next_view_timeout_ms"`
	TimeoutRatio       float64 `toml:"timeout_ratio"`
	MaxTimeoutMS       int64   `toml:"max_timeout_ms"`
	RoundStartDelayMS  int64   `toml:"round_start_delay_ms"`
	StartDelayMS       int64   `toml:"start_delay_ms"`
	ProposeMinRoundMS  int64   `toml:"propose_min_round_time_ms"`
	ProposeMaxRoundMS  int64   `toml:"propose_max_round_time_ms"`
	MinTransactions    int     `toml:"min_transactions"`
	MaxTransactions    int     `toml:"max_transactions"`
	TxHorizonMS        int64   `toml:"tx_horizon_ms"`

	ViewSyncPhaseDelayMS int64 `toml:"view_sync_phase_delay_ms"`

	DHTGetTimeoutMS    int64 `toml:"dht_get_timeout_ms"`
	DHTRetryAttempts   int   `toml:"dht_retry_attempts"`
	ConnectTimeoutMS   int64 `toml:"connect_timeout_ms"`

	DataDir string `toml:"data_dir"`

	HTTPEnabled  bool   `toml:"http_enabled"`
	HTTPQuorum   string `toml:"http_quorum_addr"`
	HTTPDA       string `toml:"http_da_addr"`
	HTTPViewSync string `toml:"http_viewsync_addr"`

	Validators []ValidatorConfig `toml:"validators"`
	Bootstrap  []string          `toml:"bootstrap"`
}

func Default() Config {
	return Config{
		TotalNodes: 4, NumBootstrap: 1, DACommitteeSize: 4,
		NextViewTimeoutMS: 2000, TimeoutRatio: 1.5, MaxTimeoutMS: 30000,
		RoundStartDelayMS: 0, StartDelayMS: 0,
		ProposeMinRoundMS: 0, ProposeMaxRoundMS: 5000,
		MinTransactions: 0, MaxTransactions: 500, TxHorizonMS: 60000,
		ViewSyncPhaseDelayMS: 2000,
		DHTGetTimeoutMS:      5000, DHTRetryAttempts: 3, ConnectTimeoutMS: 10000,
		DataDir: "./data",
	}
}

// Load reads a TOML file into Default()'s values, then applies any
// ".env" overrides found at envPath (if it exists), same order as the
// teacher's LoadFromEnv.
func Load(tomlPath, envPath string) (Config, error) {
	cfg := Default()
	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return Config{}, err
			}
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("QV_SELF_ID"); v != "" {
		c.SelfID = v
	}
	if v := os.Getenv("QV_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("QV_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("QV_NEXT_VIEW_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.NextViewTimeoutMS = n
		}
	}
	if v := os.Getenv("QV_HTTP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.HTTPEnabled = b
		}
	}
}

func (c Config) NextViewTimeout() time.Duration { return time.Duration(c.NextViewTimeoutMS) * time.Millisecond }
func (c Config) MaxTimeout() time.Duration       { return time.Duration(c.MaxTimeoutMS) * time.Millisecond }
func (c Config) TxHorizon() time.Duration        { return time.Duration(c.TxHorizonMS) * time.Millisecond }
func (c Config) ViewSyncPhaseDelay() time.Duration {
	return time.Duration(c.ViewSyncPhaseDelayMS) * time.Millisecond
}
func (c Config) DHTGetTimeout() time.Duration  { return time.Duration(c.DHTGetTimeoutMS) * time.Millisecond }
func (c Config) ConnectTimeout() time.Duration { return time.Duration(c.ConnectTimeoutMS) * time.Millisecond }

// RoundStartDelay is the delay a leader inserts before proposing,
// measured from view entry.
func (c Config) RoundStartDelay() time.Duration {
	return time.Duration(c.RoundStartDelayMS) * time.Millisecond
}

// StartDelay is the delay after node init before consensus begins.
func (c Config) StartDelay() time.Duration { return time.Duration(c.StartDelayMS) * time.Millisecond }

// ProposeMinRoundTime is the minimum time a leader must wait before
// proposing, even if its payload is ready sooner.
func (c Config) ProposeMinRoundTime() time.Duration {
	return time.Duration(c.ProposeMinRoundMS) * time.Millisecond
}

// ProposeMaxRoundTime is the maximum time a leader may wait for a
// payload commitment before proposing with whatever is available.
func (c Config) ProposeMaxRoundTime() time.Duration {
	return time.Duration(c.ProposeMaxRoundMS) * time.Millisecond
}

// StakeTable builds the runtime stake.Table from the configured
// validator list.
func (c Config) StakeTable() *stake.Table {
	vs := make([]stake.Validator, 0, len(c.Validators))
	for _, v := range c.Validators {
		vs = append(vs, stake.Validator{ID: types.NodeID(v.ID), Stake: v.Stake})
	}
	return stake.NewTable(vs)
}
