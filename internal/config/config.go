// Package config loads the host configuration from YAML files and
// SIMHOST_-prefixed environment variables, with the kernel's documented
// defaults filled in.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"simkernel/internal/core/ecs"
	"simkernel/internal/core/simtime"
	"simkernel/internal/core/snapshot"
	"simkernel/pkg/logger"
)

// Config holds the full host configuration.
type Config struct {
	Repository ecs.RepositoryConfig `mapstructure:"repository" yaml:"repository"`
	Time       TimeConfig           `mapstructure:"time" yaml:"time"`
	Provider   ProviderConfig       `mapstructure:"provider" yaml:"provider"`
	Logging    logger.Config        `mapstructure:"logging" yaml:"logging"`
	Host       HostConfig           `mapstructure:"host" yaml:"host"`
}

// TimeConfig mirrors simtime.Config with file-friendly field types.
type TimeConfig struct {
	FixedDeltaSeconds   float32 `mapstructure:"fixed_delta_seconds" yaml:"fixed_delta_seconds"`
	PLLGain             float64 `mapstructure:"pll_gain" yaml:"pll_gain"`
	MaxSlew             float32 `mapstructure:"max_slew" yaml:"max_slew"`
	SnapThresholdMS     float64 `mapstructure:"snap_threshold_ms" yaml:"snap_threshold_ms"`
	JitterWindow        uint32  `mapstructure:"jitter_window" yaml:"jitter_window"`
	PauseBarrierFrames  uint32  `mapstructure:"pause_barrier_frames" yaml:"pause_barrier_frames"`
	AverageLatencyTicks int64   `mapstructure:"average_latency_ticks" yaml:"average_latency_ticks"`
}

// ProviderConfig mirrors snapshot.Tuning with millisecond fields.
type ProviderConfig struct {
	OnDemandInitialPool int    `mapstructure:"on_demand_initial_pool" yaml:"on_demand_initial_pool"`
	OnDemandMaxPool     int    `mapstructure:"on_demand_max_pool" yaml:"on_demand_max_pool"`
	SharedPoolWarmup    int    `mapstructure:"shared_pool_warmup" yaml:"shared_pool_warmup"`
	HardLeaseExpiryMS   uint32 `mapstructure:"hard_lease_expiry_ms" yaml:"hard_lease_expiry_ms"`
}

// HostConfig carries loop-level settings of the simhost binary.
type HostConfig struct {
	NodeID      int32   `mapstructure:"node_id" yaml:"node_id"`
	Role        string  `mapstructure:"role" yaml:"role"` // standalone, master, slave
	FrameRateHz float64 `mapstructure:"frame_rate_hz" yaml:"frame_rate_hz"`
	MetricsAddr string  `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Load reads the configuration from the given file (optional) with env
// overrides and defaults applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIMHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("repository.max_entities", 0)
	v.SetDefault("repository.initial_capacity", 1024)

	v.SetDefault("time.fixed_delta_seconds", 1.0/60.0)
	v.SetDefault("time.pll_gain", 0.1)
	v.SetDefault("time.max_slew", 0.05)
	v.SetDefault("time.snap_threshold_ms", 500.0)
	v.SetDefault("time.jitter_window", 5)
	v.SetDefault("time.pause_barrier_frames", 5)
	v.SetDefault("time.average_latency_ticks", 0)

	v.SetDefault("provider.on_demand_initial_pool", 5)
	v.SetDefault("provider.on_demand_max_pool", 0)
	v.SetDefault("provider.shared_pool_warmup", 10)
	v.SetDefault("provider.hard_lease_expiry_ms", 2000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("host.node_id", 0)
	v.SetDefault("host.role", "standalone")
	v.SetDefault("host.frame_rate_hz", 60.0)
	v.SetDefault("host.metrics_addr", "")
}

// Dump renders the effective configuration as YAML. The yaml struct
// tags keep the dumped keys identical to the keys the loader reads, so
// the output of Dump is always loadable by Load.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteFile dumps the effective configuration to a YAML file, for
// seeding a deployment's config from the built-in defaults.
func (c *Config) WriteFile(path string) error {
	data, err := c.Dump()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks value ranges that would destabilize the PLL or the
// frame loop.
func (c *Config) Validate() error {
	if c.Time.FixedDeltaSeconds <= 0 {
		return ecs.NewError(ecs.CodePolicyInvalid, "time.fixed_delta_seconds must be positive")
	}
	if c.Time.PLLGain <= 0 || c.Time.PLLGain > 1 {
		return ecs.NewError(ecs.CodePolicyInvalid, "time.pll_gain must be in (0, 1]")
	}
	if c.Time.MaxSlew <= 0 || c.Time.MaxSlew > 1 {
		return ecs.NewError(ecs.CodePolicyInvalid, "time.max_slew must be in (0, 1]")
	}
	if c.Time.JitterWindow == 0 {
		return ecs.NewError(ecs.CodePolicyInvalid, "time.jitter_window must be at least 1")
	}
	if c.Host.FrameRateHz <= 0 {
		return ecs.NewError(ecs.CodePolicyInvalid, "host.frame_rate_hz must be positive")
	}
	switch c.Host.Role {
	case "standalone", "master", "slave":
	default:
		return ecs.Errorf(ecs.CodePolicyInvalid, "host.role %q is not one of standalone/master/slave", c.Host.Role)
	}
	return nil
}

// SimTime converts to the simtime parameter struct.
func (c *Config) SimTime() simtime.Config {
	return simtime.Config{
		FixedDeltaSeconds:   c.Time.FixedDeltaSeconds,
		PLLGain:             c.Time.PLLGain,
		MaxSlew:             c.Time.MaxSlew,
		SnapThresholdMS:     c.Time.SnapThresholdMS,
		JitterWindow:        c.Time.JitterWindow,
		PauseBarrierFrames:  c.Time.PauseBarrierFrames,
		AverageLatencyTicks: c.Time.AverageLatencyTicks,
	}
}

// Tuning converts to the snapshot provider tuning.
func (c *Config) Tuning() snapshot.Tuning {
	return snapshot.Tuning{
		OnDemandInitialPool: c.Provider.OnDemandInitialPool,
		OnDemandMaxPool:     c.Provider.OnDemandMaxPool,
		SharedPoolWarmup:    c.Provider.SharedPoolWarmup,
		HardLeaseExpiry:     time.Duration(c.Provider.HardLeaseExpiryMS) * time.Millisecond,
	}
}

// Role converts the configured role name.
func (c *Config) Role() simtime.Role {
	switch c.Host.Role {
	case "master":
		return simtime.RoleMaster
	case "slave":
		return simtime.RoleSlave
	default:
		return simtime.RoleStandalone
	}
}
