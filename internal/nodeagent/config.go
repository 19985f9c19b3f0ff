package nodeagent

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// OuterConfig is the top-level YAML shape: a kind selector plus a kind-
// specific definition block, mirroring coordinator.OuterConfig and
// reinforcement/learning.go's double-unmarshal config loader.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// Config is one node agent's identity and runtime parameters (§6
// Configuration: identity, listen address/port, coordinator base URL,
// edge->image-path mapping, RECOMPUTE_BEFORE seconds).
type Config struct {
	NodeID          string            `yaml:"nodeId"`
	ListenAddr      string            `yaml:"listenAddr"`
	CoordinatorBase string            `yaml:"coordinatorBase"`
	EdgeImages      map[string]string `yaml:"edgeImages"`
	RecomputeBefore time.Duration     `yaml:"recomputeBefore"`
	TickInterval    time.Duration     `yaml:"tickInterval"`
}

// DefaultConfig returns the node-agent defaults named in §6 (RECOMPUTE_BEFORE
// default 10s) plus a one-second scheduler tick per §4.7/§5.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":7000",
		CoordinatorBase: "http://localhost:8080",
		EdgeImages:      map[string]string{},
		RecomputeBefore: 10 * time.Second,
		TickInterval:    1 * time.Second,
	}
}

// FromYaml loads a node agent's Config the way coordinator.FromYaml loads
// the coordinator's: viper reads the raw document into an OuterConfig, then
// the untyped Def block is re-marshaled and unmarshaled through yaml.v3 into
// a strongly typed Config seeded with defaults.
func FromYaml(path string) (Config, error) {
	vp := viper.New()
	vp.SetConfigFile(filepath.Base(path))
	vp.SetConfigType("yaml")
	vp.AddConfigPath(filepath.Dir(path))

	if err := vp.ReadInConfig(); err != nil {
		return Config{}, err
	}

	outer := &OuterConfig{}
	if err := vp.Unmarshal(outer); err != nil {
		return Config{}, err
	}

	spec, err := yaml.Marshal(outer.Def)
	if err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(spec, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
