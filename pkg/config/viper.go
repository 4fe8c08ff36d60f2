package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SPLOITPROBE_LAMBDA_ROLE.
const EnvPrefix = "SPLOITPROBE"

// NewViper returns a viper instance reading SPLOITPROBE_* variables, with
// nested keys mapped from "a.b" to A_B. A .env file in the working
// directory is loaded first when present; variables already set win.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// MergeViper overlays every key set in v (environment or bound flags) onto cfg.
func MergeViper(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	str("provider", &cfg.SelectedProvider)
	str("model", &cfg.SelectedModel)
	if v.IsSet("api_key") {
		cfg.SetAPIKey(cfg.SelectedProvider, v.GetString("api_key"))
	}
	if v.IsSet("base_url") {
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		p := cfg.Providers[cfg.SelectedProvider]
		p.BaseURL = v.GetString("base_url")
		cfg.Providers[cfg.SelectedProvider] = p
	}

	str("sploitus.base_url", &cfg.Sploitus.BaseURL)
	if v.IsSet("sploitus.timeout") {
		cfg.Sploitus.Timeout = v.GetDuration("sploitus.timeout")
	}
	if v.IsSet("synthesis.timeout") {
		cfg.Synthesis.Timeout = v.GetDuration("synthesis.timeout")
	}
	if v.IsSet("synthesis.max_steps") {
		cfg.Synthesis.MaxSteps = v.GetInt("synthesis.max_steps")
	}

	str("lambda.region", &cfg.Lambda.Region)
	str("lambda.role", &cfg.Lambda.Role)
	str("lambda.runtime", &cfg.Lambda.Runtime)
	str("lambda.handler", &cfg.Lambda.Handler)
	if v.IsSet("lambda.timeout_seconds") {
		cfg.Lambda.TimeoutSeconds = v.GetInt32("lambda.timeout_seconds")
	}
	if v.IsSet("lambda.memory_mb") {
		cfg.Lambda.MemoryMB = v.GetInt32("lambda.memory_mb")
	}

	str("store.dsn", &cfg.Store.DSN)
	if v.IsSet("targets") {
		cfg.Targets = ParseTargets(strings.Join(splitList(v.GetStringSlice("targets")), ","))
	}

	str("github.repo", &cfg.GitHub.Repo)
	str("github.token", &cfg.GitHub.Token)
	if v.IsSet("github.labels") {
		cfg.GitHub.Labels = splitList(v.GetStringSlice("github.labels"))
	}

	str("log.format", &cfg.Log.Format)
	str("log.level", &cfg.Log.Level)
}

// splitList flattens comma separated entries; env values arrive as one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
