// Package config provides configuration management for rowkeeper services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// envPrefix namespaces every environment variable.
const envPrefix = "RK"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	OPA      OPAConfig
	Authz    AuthzConfig
}

// ServerConfig holds configuration for the gRPC record service.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	URL string
}

// OPAConfig points at the policy engine's decision endpoint.
type OPAConfig struct {
	URL          string
	DecisionPath string
	Timeout      time.Duration
	MaxRetries   int
}

// AuthzConfig shapes decision requests and the SQL the compiler emits.
// Empty fields fall back to the compiler defaults.
type AuthzConfig struct {
	Operation    string
	Prefixes     []string
	Unknowns     []string
	AspectsTable string
	RecordIDRef  string
	TenantIDRef  string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL: "sqlite://./data/rowkeeper.db",
		},
		OPA: OPAConfig{
			URL:          "http://localhost:8181",
			DecisionPath: "/v0/opa/decision",
			Timeout:      5 * time.Second,
			MaxRetries:   3,
		},
		Authz: AuthzConfig{
			Operation: "object/record/read",
			Unknowns:  []string{"input.object.record"},
		},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports RK_HMAC_SECRET (single) and RK_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are 32 hex chars matching the API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s_HMAC_SECRET and %s_HMAC_SECRET_* for conflicts)", secretID, envPrefix, envPrefix)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	single := envPrefix + "_HMAC_SECRET"
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation.
	for i := 1; ; i++ {
		key := fmt.Sprintf("%s_HMAC_SECRET_%d", envPrefix, i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}
