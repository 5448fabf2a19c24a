// Package config loads and persists the node's process configuration
// (spec.md §6). The on-disk format is pinned to JSON by the external
// interface contract: the file is read through viper configured with
// SetConfigType("json") — the teacher's configuration library — and written
// with encoding/json, kept to exactly the wire shape the spec mandates.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// Config is the persisted per-node configuration described in spec.md §6.
type Config struct {
	Name                    string   `json:"name" mapstructure:"name"`
	NodeID                  string   `json:"node_id" mapstructure:"node_id"`
	Port                    int      `json:"port" mapstructure:"port"`
	WebPort                 int      `json:"web_port" mapstructure:"web_port"`
	BootstrapNodes          []string `json:"bootstrap_nodes" mapstructure:"bootstrap_nodes"`
	Tags                    []string `json:"tags" mapstructure:"tags"`
	DataDir                 string   `json:"data_dir" mapstructure:"data_dir"`
	MasterURL               string   `json:"master_url,omitempty" mapstructure:"master_url"`
	IsGenesisNode           bool     `json:"is_genesis_node" mapstructure:"is_genesis_node"`
	GenesisOperatorAccount  string   `json:"genesis_operator_account_id,omitempty" mapstructure:"genesis_operator_account_id"`
	DHTK                    int      `json:"dht_k" mapstructure:"dht_k"`
	DHTAlpha                int      `json:"dht_alpha" mapstructure:"dht_alpha"`
	DHTHops                 int      `json:"dht_hops" mapstructure:"dht_hops"`
	CreatedAt               string   `json:"created_at" mapstructure:"created_at"`
}

// DefaultWebPort and DefaultDHT* mirror the CLI defaults in spec.md §6.
const (
	DefaultWebPort  = 3457
	DefaultDHTK     = 8
	DefaultDHTAlpha = 3
	DefaultDHTHops  = 6
)

// DefaultPath returns $HOME/.openclaw-mesh.json (or %USERPROFILE% on
// Windows), the default config location from spec.md §6.
func DefaultPath() string {
	home := os.Getenv("HOME")
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
	}
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".openclaw-mesh.json")
}

// New builds a Config populated with CLI-style defaults ready to be filled
// in by flag parsing.
func New(name string) *Config {
	return &Config{
		Name:      name,
		NodeID:    "node_" + util.RandomHex(8),
		WebPort:   DefaultWebPort,
		DataDir:   defaultDataDir(name),
		DHTK:      DefaultDHTK,
		DHTAlpha:  DefaultDHTAlpha,
		DHTHops:   DefaultDHTHops,
		CreatedAt: util.NowISO(),
	}
}

func defaultDataDir(name string) string {
	home := os.Getenv("HOME")
	if runtime.GOOS == "windows" {
		home = os.Getenv("USERPROFILE")
	}
	if home == "" {
		home = "."
	}
	if name == "" {
		name = "default"
	}
	return filepath.Join(home, ".openclaw-mesh", name)
}

// Load reads a Config from path using viper, bound to environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, fmt.Sprintf("read config %s", path))
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "unmarshal config")
	}
	return &cfg, nil
}

// Save writes cfg to path as pretty-printed JSON, creating parent
// directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "create config dir")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errs.Wrap(errs.StoreBackend, err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "write config")
	}
	return nil
}

// GenesisSupply returns the initial mint amount, from OPENCLAW_GENESIS_SUPPLY
// or the default of 1,000,000 (spec.md §4.2, §6).
func GenesisSupply() int64 {
	return EnvOrDefaultInt64("OPENCLAW_GENESIS_SUPPLY", 1_000_000)
}
