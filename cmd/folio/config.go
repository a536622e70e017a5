package main

import (
	"fmt"
	"strings"

	"github.com/folio-reader/folio/internal/model"
	"github.com/spf13/viper"
)

// keys which can be overridden by FOLIO_* environment variables, e.g.
// FOLIO_QPDF_ENABLED=true
var envKeys = []string{
	"config",
	"scheduler.pool_size",
	"qpdf.enabled",
	"qpdf.path",
	"qpdf.timeout",
	"autosave.enabled",
	"autosave.cron",
	"autosave.duration",
	"autosave.path",
	"service.verbose",
	"service.log",
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding env for %s: %w", key, err)
		}
	}
	return nil
}

// overlay applies values set in v over the loaded configuration.
func overlay(cfg *model.Config, v *viper.Viper) error {
	if v.IsSet("scheduler.pool_size") {
		n := v.GetInt("scheduler.pool_size")
		if n < 1 {
			return fmt.Errorf("scheduler.pool_size %q: %w", v.GetString("scheduler.pool_size"), model.ErrInvalidInput)
		}
		if cfg.Scheduler == nil {
			cfg.Scheduler = &model.Scheduler{}
		}
		cfg.Scheduler.PoolSize = &n
	}

	if cfg.Qpdf == nil {
		cfg.Qpdf = &model.Qpdf{}
	}
	set(v, "qpdf.enabled", &cfg.Qpdf.Enabled, v.GetBool)
	set(v, "qpdf.path", &cfg.Qpdf.Path, v.GetString)
	set(v, "qpdf.timeout", &cfg.Qpdf.Timeout, v.GetString)
	if _, err := cfg.QpdfTimeout(); err != nil {
		return fmt.Errorf("qpdf.timeout: %w", err)
	}

	if cfg.Autosave == nil {
		cfg.Autosave = &model.Autosave{}
	}
	set(v, "autosave.enabled", &cfg.Autosave.Enabled, v.GetBool)
	set(v, "autosave.cron", &cfg.Autosave.Cron, v.GetString)
	set(v, "autosave.duration", &cfg.Autosave.Duration, v.GetString)
	set(v, "autosave.path", &cfg.Autosave.Path, v.GetString)
	if model.Get(cfg.Autosave.Enabled) {
		if _, err := cfg.Autosave.Trigger(); err != nil {
			return err
		}
	}

	set(v, "service.verbose", &cfg.Service.Verbose, v.GetBool)
	set(v, "service.log", &cfg.Service.Log, v.GetString)
	return nil
}

func set[T any](v *viper.Viper, key string, dst **T, get func(string) T) {
	if !v.IsSet(key) {
		return
	}
	val := get(key)
	*dst = &val
}
