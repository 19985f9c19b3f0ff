package coordinator

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"trafficfabric/internal/detector"
	"trafficfabric/internal/dv"
)

// OuterConfig is the top-level YAML shape: a kind selector plus a kind-
// specific definition block, double-unmarshaled the way the reinforcement
// trainer's config loader does it (viper to read the file, yaml.v3 for
// the strongly-typed inner shape viper's mapstructure tags can't express
// cleanly, e.g. DVParams).
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// CameraDef is one camera's registered region-of-interest, as configured.
type CameraDef struct {
	CameraID         string  `yaml:"cameraId"`
	CapacityVehicles int     `yaml:"capacityVehicles"`
	RoadLengthM      float64 `yaml:"roadLengthM"`
}

// Config is the coordinator process's full configuration.
type Config struct {
	// ListenAddr is the host:port the HTTP surface binds to.
	ListenAddr string `yaml:"listenAddr"`
	// StorePath is the SQLite database file backing the traffic-state store.
	// Empty means in-memory only (intended for tests/demos, not production).
	StorePath string `yaml:"storePath"`
	// CycleTime is the default green-time cycle duration.
	CycleTime time.Duration `yaml:"cycleTime"`
	// DV holds the distance-vector engine's tunable constants.
	DV dv.Params `yaml:"dv"`
	// Cameras registers every known camera's region-of-interest.
	Cameras []CameraDef `yaml:"cameras"`
	// MetricsAddr is the host:port the Prometheus /metrics endpoint binds
	// to. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr"`
}

// DefaultConfig returns sane defaults for local development and tests.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":8080",
		CycleTime:   100 * time.Second,
		DV:          dv.DefaultParams(),
		MetricsAddr: ":9090",
	}
}

// CameraRegistry converts Cameras into the map detector.NewStubDetector
// expects.
func (c Config) CameraRegistry() map[string]detector.CameraConfig {
	reg := make(map[string]detector.CameraConfig, len(c.Cameras))
	for _, cam := range c.Cameras {
		reg[cam.CameraID] = detector.CameraConfig{
			CapacityVehicles: cam.CapacityVehicles,
			RoadLengthM:      cam.RoadLengthM,
		}
	}
	return reg
}

// FromYaml loads a coordinator config file shaped like:
//
//	kind: coordinator
//	def:
//	  listenAddr: ":8080"
//	  ...
//
// mirroring the reinforcement trainer's outer/inner double-unmarshal: viper
// reads the file into OuterConfig, then the untyped Def
// block is re-marshaled and unmarshaled through yaml.v3 into the strongly
// typed Config.
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
