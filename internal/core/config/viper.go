package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"host":    "server.host",
	"port":    "server.port",
	"db-url":  "database.url",
	"opa-url": "opa.url",
}

// LoadConfig loads configuration using viper.
// CLI flags > environment > config file > defaults precedence. flags may be
// nil; only flags the user actually set override lower layers.
// List values from the environment are whitespace separated.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	// Bind environment variables with RK_ prefix
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		OPA: OPAConfig{
			URL:          v.GetString("opa.url"),
			DecisionPath: v.GetString("opa.decision_path"),
			Timeout:      v.GetDuration("opa.timeout"),
			MaxRetries:   v.GetInt("opa.max_retries"),
		},
		Authz: AuthzConfig{
			Operation:    v.GetString("authz.operation"),
			Prefixes:     v.GetStringSlice("authz.prefixes"),
			Unknowns:     v.GetStringSlice("authz.unknowns"),
			AspectsTable: v.GetString("authz.aspects_table"),
			RecordIDRef:  v.GetString("authz.record_id_ref"),
			TenantIDRef:  v.GetString("authz.tenant_id_ref"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("opa.url", d.OPA.URL)
	v.SetDefault("opa.decision_path", d.OPA.DecisionPath)
	v.SetDefault("opa.timeout", d.OPA.Timeout)
	v.SetDefault("opa.max_retries", d.OPA.MaxRetries)
	v.SetDefault("authz.operation", d.Authz.Operation)
	v.SetDefault("authz.prefixes", d.Authz.Prefixes)
	v.SetDefault("authz.unknowns", d.Authz.Unknowns)
	v.SetDefault("authz.aspects_table", d.Authz.AspectsTable)
	v.SetDefault("authz.record_id_ref", d.Authz.RecordIDRef)
	v.SetDefault("authz.tenant_id_ref", d.Authz.TenantIDRef)
}

// validateConfig checks port range and positive durations.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if cfg.OPA.Timeout <= 0 {
		return fmt.Errorf("opa.timeout must be positive, got %v", cfg.OPA.Timeout)
	}
	if cfg.OPA.MaxRetries < 0 {
		return fmt.Errorf("opa.max_retries must not be negative, got %d", cfg.OPA.MaxRetries)
	}
	if cfg.Authz.Operation == "" {
		return fmt.Errorf("authz.operation is required")
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", envPrefix)
	}
	return nil
}
