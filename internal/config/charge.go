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

// ChargeConfig tunes the charge engine's background behavior. It is loaded
// from charge.yml and hot-reloaded on change so operators can adjust sweep
// cadence without a restart.
type ChargeConfig struct {
	VerificationSweepEnabled  bool          `mapstructure:"verificationSweepEnabled"`
	VerificationSweepInterval time.Duration `mapstructure:"verificationSweepInterval"`
	VerificationBatchSize     int           `mapstructure:"verificationBatchSize"`
	NotificationsEnabled      bool          `mapstructure:"notificationsEnabled"`
}

func DefaultChargeConfig() ChargeConfig {
	return ChargeConfig{
		VerificationSweepEnabled:  true,
		VerificationSweepInterval: time.Hour,
		VerificationBatchSize:     200,
		NotificationsEnabled:      true,
	}
}

type ChargeConfigHolder struct {
	current atomic.Value // holds ChargeConfig
}

func NewChargeConfigHolder() (*ChargeConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("charge")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sirius/config") // Volume-mounted config
	v.AddConfigPath("/etc/sirius")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("SIRIUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultChargeConfig()
	v.SetDefault("charge.verificationSweepEnabled", defaults.VerificationSweepEnabled)
	v.SetDefault("charge.verificationSweepInterval", defaults.VerificationSweepInterval)
	v.SetDefault("charge.verificationBatchSize", defaults.VerificationBatchSize)
	v.SetDefault("charge.notificationsEnabled", defaults.NotificationsEnabled)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg ChargeConfig
	if err := v.UnmarshalKey("charge", &cfg); err != nil {
		return nil, err
	}
	if err := validateChargeConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ChargeConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ChargeConfig
		if err := v.UnmarshalKey("charge", &updated); err != nil {
			log.Printf("[charge-config] reload failed: %v", err)
			return
		}
		if err := validateChargeConfig(updated); err != nil {
			log.Printf("[charge-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[charge-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticChargeConfigHolder returns a holder pinned to cfg, with no file
// watching. Intended for tests.
func NewStaticChargeConfigHolder(cfg ChargeConfig) *ChargeConfigHolder {
	holder := &ChargeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ChargeConfigHolder) Get() ChargeConfig {
	return h.current.Load().(ChargeConfig)
}

func validateChargeConfig(cfg ChargeConfig) error {
	if cfg.VerificationBatchSize <= 0 {
		return errors.New("charge.verificationBatchSize must be positive")
	}
	if cfg.VerificationSweepInterval < time.Minute {
		return errors.New("charge.verificationSweepInterval must be at least one minute")
	}
	return nil
}
