package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal time.Duration
		expected   time.Duration
	}{
		{"parses go duration", "TEST_DUR_1", "750ms", time.Second, 750 * time.Millisecond},
		{"parses plain milliseconds", "TEST_DUR_2", "250", time.Second, 250 * time.Millisecond},
		{"uses default for empty", "TEST_DUR_3", "", time.Second, time.Second},
		{"uses default for garbage", "TEST_DUR_4", "soon", time.Second, time.Second},
		{"uses default for negative", "TEST_DUR_5", "-5s", time.Second, time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvAsDurationOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("NETWORK_PROBE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("NEGOTIATION_WINDOW", "")
	t.Setenv("HEARTBEAT_INTERVAL", "")
	t.Setenv("SYNC_ITEM_DELAY", "")

	cfg := Load()

	if cfg.StoreDriver != "sqlite" {
		t.Errorf("Expected sqlite store by default, got %q", cfg.StoreDriver)
	}
	if cfg.NetworkProbeURL != "https://api.example.test/health" {
		t.Errorf("Expected probe URL derived from API base, got %q", cfg.NetworkProbeURL)
	}
	if cfg.NegotiationWindow != 200*time.Millisecond || cfg.HeartbeatInterval != 5*time.Second || cfg.SyncItemDelay != 500*time.Millisecond {
		t.Errorf("Unexpected timing defaults: %v %v %v", cfg.NegotiationWindow, cfg.HeartbeatInterval, cfg.SyncItemDelay)
	}
	if cfg.RedisURL != "" {
		t.Errorf("Expected Redis disabled by default, got %q", cfg.RedisURL)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when postgres store has no DATABASE_URL")
		}
	}()
	Load()
}
