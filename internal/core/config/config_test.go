package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestHMACSecrets(t *testing.T) {
	// Clean environment
	os.Unsetenv("RK_HMAC_SECRET")
	os.Unsetenv("RK_HMAC_SECRET_1")
	os.Unsetenv("RK_HMAC_SECRET_2")

	t.Run("single secret", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("RK_HMAC_SECRET")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Errorf("secret_id not found in map")
		}
	})

	t.Run("multiple numbered secrets", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET_1", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		os.Setenv("RK_HMAC_SECRET_2", "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("RK_HMAC_SECRET_1")
		defer os.Unsetenv("RK_HMAC_SECRET_2")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET", "invalid_format")
		defer os.Unsetenv("RK_HMAC_SECRET")

		_, err := HMACSecrets()
		if err == nil {
			t.Error("expected error for invalid format")
		}
	})

	t.Run("invalid secret_id length", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET", "short:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("RK_HMAC_SECRET")

		_, err := HMACSecrets()
		if err == nil {
			t.Error("expected error for short secret_id")
		}
	})

	t.Run("non-hex secret_id", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET", "0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("RK_HMAC_SECRET")

		_, err := HMACSecrets()
		if err == nil {
			t.Error("expected error for non-hex secret_id")
		}
	})

	t.Run("duplicate secret_id in numbered secrets", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET_1", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		os.Setenv("RK_HMAC_SECRET_2", "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("RK_HMAC_SECRET_1")
		defer os.Unsetenv("RK_HMAC_SECRET_2")

		_, err := HMACSecrets()
		if err == nil {
			t.Error("expected error for duplicate secret_id")
		}
	})

	t.Run("duplicate secret_id between single and numbered", func(t *testing.T) {
		os.Setenv("RK_HMAC_SECRET", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		os.Setenv("RK_HMAC_SECRET_1", "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("RK_HMAC_SECRET")
		defer os.Unsetenv("RK_HMAC_SECRET_1")

		_, err := HMACSecrets()
		if err == nil {
			t.Error("expected error for duplicate secret_id between RK_HMAC_SECRET and RK_HMAC_SECRET_1")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	// Clean environment
	os.Unsetenv("RK_SERVER_HOST")
	os.Unsetenv("RK_SERVER_PORT")

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("", nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
		}
		if cfg.Server.Port != 50051 {
			t.Errorf("expected port 50051, got %d", cfg.Server.Port)
		}
		if cfg.Server.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.OPA.DecisionPath != "/v0/opa/decision" {
			t.Errorf("expected decision path /v0/opa/decision, got %s", cfg.OPA.DecisionPath)
		}
		if cfg.OPA.MaxRetries != 3 {
			t.Errorf("expected max_retries 3, got %d", cfg.OPA.MaxRetries)
		}
		if len(cfg.Authz.Prefixes) != 0 {
			t.Errorf("expected no prefixes, got %v", cfg.Authz.Prefixes)
		}
		if len(cfg.Authz.Unknowns) != 1 || cfg.Authz.Unknowns[0] != "input.object.record" {
			t.Errorf("expected unknowns [input.object.record], got %v", cfg.Authz.Unknowns)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		os.Setenv("RK_SERVER_PORT", "9999")
		os.Setenv("RK_SERVER_HOST", "127.0.0.1")
		os.Setenv("RK_AUTHZ_PREFIXES", "input.resource input.object")
		defer os.Unsetenv("RK_SERVER_PORT")
		defer os.Unsetenv("RK_SERVER_HOST")
		defer os.Unsetenv("RK_AUTHZ_PREFIXES")

		cfg, err := LoadConfig("", nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
		}
		if len(cfg.Authz.Prefixes) != 2 || cfg.Authz.Prefixes[0] != "input.resource" {
			t.Errorf("expected two prefixes, got %v", cfg.Authz.Prefixes)
		}
	})

	t.Run("flag override", func(t *testing.T) {
		os.Setenv("RK_DATABASE_URL", "sqlite://env.db")
		defer os.Unsetenv("RK_DATABASE_URL")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("db-url", "", "")
		flags.Int("port", 0, "")
		if err := flags.Parse([]string{"--db-url", "sqlite://flag.db"}); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig("", flags)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Database.URL != "sqlite://flag.db" {
			t.Errorf("expected flag to win, got %s", cfg.Database.URL)
		}
		if cfg.Server.Port != 50051 {
			t.Errorf("unset flag overrode port: %d", cfg.Server.Port)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		os.Setenv("RK_SERVER_PORT", "70000")
		defer os.Unsetenv("RK_SERVER_PORT")

		_, err := LoadConfig("", nil)
		if err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("invalid negative values", func(t *testing.T) {
		os.Setenv("RK_OPA_MAX_RETRIES", "-1")
		defer os.Unsetenv("RK_OPA_MAX_RETRIES")

		_, err := LoadConfig("", nil)
		if err == nil {
			t.Error("expected error for negative max_retries")
		}
	})
}

func TestServerConfig_Addr(t *testing.T) {
	if got := (ServerConfig{Host: "127.0.0.1", Port: 8080}).Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %s", got)
	}
}

func TestParseHMACSecret(t *testing.T) {
	t.Run("valid base64", func(t *testing.T) {
		secret, err := ParseHMACSecret("dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		if err != nil {
			t.Fatalf("ParseHMACSecret failed: %v", err)
		}
		if len(secret) < 32 {
			t.Errorf("secret too short: %d bytes", len(secret))
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := ParseHMACSecret("not-valid-base64!!!")
		if err == nil {
			t.Error("expected error for invalid base64")
		}
	})

	t.Run("secret too short", func(t *testing.T) {
		_, err := ParseHMACSecret("c2hvcnQ=") // "short" in base64
		if err == nil {
			t.Error("expected error for secret < 32 bytes")
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	t.Run("valid format", func(t *testing.T) {
		secretID, secret, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		if err != nil {
			t.Fatalf("ParseHMACSecretWithID failed: %v", err)
		}
		if secretID != "0123456789abcdef0123456789abcdef" {
			t.Errorf("unexpected secret_id: %s", secretID)
		}
		if len(secret) == 0 {
			t.Error("secret should not be empty")
		}
	})

	t.Run("missing colon", func(t *testing.T) {
		_, _, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef")
		if err == nil {
			t.Error("expected error for missing colon")
		}
	})

	t.Run("invalid secret_id length", func(t *testing.T) {
		_, _, err := ParseHMACSecretWithID("tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		if err == nil {
			t.Error("expected error for short secret_id")
		}
	})

	t.Run("non-hex chars in secret_id", func(t *testing.T) {
		_, _, err := ParseHMACSecretWithID("0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		if err == nil {
			t.Error("expected error for non-hex secret_id")
		}
	})
}
