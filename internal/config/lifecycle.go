package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LifecycleConfig tunes the background machinery around invitations and
// approvals. Sweeper settings are re-read on every tick, so edits to the
// config file take effect without a restart. Queue buffer sizes are applied
// at boot only.
type LifecycleConfig struct {
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Queues  QueueConfig   `mapstructure:"queues"`
}

type SweeperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchSize"`
}

type QueueConfig struct {
	AuditBuffer        int `mapstructure:"auditBuffer"`
	NotificationBuffer int `mapstructure:"notificationBuffer"`
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Sweeper: SweeperConfig{
			Enabled:   false,
			Interval:  10 * time.Minute,
			BatchSize: 200,
		},
		Queues: QueueConfig{
			AuditBuffer:        256,
			NotificationBuffer: 256,
		},
	}
}

type LifecycleConfigHolder struct {
	current atomic.Value // holds LifecycleConfig
}

func NewLifecycleConfigHolder() (*LifecycleConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("lifecycle")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/atrium/config") // Volume-mounted config
	v.AddConfigPath("/etc/atrium")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("ATRIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultLifecycleConfig()
		v.SetDefault("lifecycle.sweeper", defaults.Sweeper)
		v.SetDefault("lifecycle.queues", defaults.Queues)
	}

	var cfg LifecycleConfig
	if err := v.UnmarshalKey("lifecycle", &cfg); err != nil {
		return nil, err
	}
	cfg = withLifecycleDefaults(cfg)
	if err := validateLifecycleConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LifecycleConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LifecycleConfig
		if err := v.UnmarshalKey("lifecycle", &updated); err != nil {
			log.Printf("[lifecycle-config] reload failed: %v", err)
			return
		}
		updated = withLifecycleDefaults(updated)
		if err := validateLifecycleConfig(updated); err != nil {
			log.Printf("[lifecycle-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[lifecycle-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *LifecycleConfigHolder) Get() LifecycleConfig {
	return h.current.Load().(LifecycleConfig)
}

// NewStaticLifecycleConfigHolder pins the holder to cfg with no file
// watching, for tests and embedded callers.
func NewStaticLifecycleConfigHolder(cfg LifecycleConfig) *LifecycleConfigHolder {
	holder := &LifecycleConfigHolder{}
	holder.current.Store(withLifecycleDefaults(cfg))
	return holder
}

func withLifecycleDefaults(cfg LifecycleConfig) LifecycleConfig {
	defaults := DefaultLifecycleConfig()
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = defaults.Sweeper.Interval
	}
	if cfg.Sweeper.BatchSize <= 0 {
		cfg.Sweeper.BatchSize = defaults.Sweeper.BatchSize
	}
	if cfg.Queues.AuditBuffer <= 0 {
		cfg.Queues.AuditBuffer = defaults.Queues.AuditBuffer
	}
	if cfg.Queues.NotificationBuffer <= 0 {
		cfg.Queues.NotificationBuffer = defaults.Queues.NotificationBuffer
	}
	return cfg
}

func validateLifecycleConfig(cfg LifecycleConfig) error {
	if cfg.Sweeper.Interval < time.Second {
		return errors.New("lifecycle.sweeper.interval must be at least 1s")
	}
	if cfg.Sweeper.BatchSize > 10_000 {
		return errors.New("lifecycle.sweeper.batchSize is unreasonably large")
	}
	return nil
}
