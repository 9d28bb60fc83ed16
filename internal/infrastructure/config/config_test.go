package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfigFile writes a YAML config to a temp file and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

// TestDefault verifies the documented default values.
func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Radio.Reconnect.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Radio.Reconnect.MaxRetries)
	}
	if cfg.Radio.Reconnect.RetryDelaySeconds != 5 {
		t.Errorf("RetryDelaySeconds = %d, want 5", cfg.Radio.Reconnect.RetryDelaySeconds)
	}
	if cfg.Radio.Reconnect.MaxRetryDelaySeconds != 60 {
		t.Errorf("MaxRetryDelaySeconds = %d, want 60", cfg.Radio.Reconnect.MaxRetryDelaySeconds)
	}
	if !cfg.Radio.Reconnect.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if cfg.Radio.Serial.PortLockWaitSeconds != 30 {
		t.Errorf("PortLockWaitSeconds = %d, want 30", cfg.Radio.Serial.PortLockWaitSeconds)
	}
	if cfg.Radio.Reconnect.GracePeriodSeconds != 5 {
		t.Errorf("GracePeriodSeconds = %d, want 5", cfg.Radio.Reconnect.GracePeriodSeconds)
	}
	if cfg.Health.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.Health.FailureThreshold)
	}
	if cfg.Health.CooldownSeconds != 900 {
		t.Errorf("CooldownSeconds = %d, want 900", cfg.Health.CooldownSeconds)
	}
	if cfg.WriteGuard.WindowSeconds != 300 {
		t.Errorf("WindowSeconds = %d, want 300", cfg.WriteGuard.WindowSeconds)
	}
	if cfg.WriteGuard.ErrorThreshold != 10 {
		t.Errorf("ErrorThreshold = %d, want 10", cfg.WriteGuard.ErrorThreshold)
	}
	if cfg.WriteGuard.MaxStoredFailures != 100 {
		t.Errorf("MaxStoredFailures = %d, want 100", cfg.WriteGuard.MaxStoredFailures)
	}
}

// TestLoad verifies YAML loading and layering.
func TestLoad(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfigFile(t, `
radio:
  mode: serial
  serial:
    path: /dev/ttyACM0
    baud_rate: 921600
database:
  path: /tmp/test.db
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Radio.Serial.Path != "/dev/ttyACM0" {
			t.Errorf("Serial.Path = %q, want /dev/ttyACM0", cfg.Radio.Serial.Path)
		}
		if cfg.Radio.Serial.BaudRate != 921600 {
			t.Errorf("BaudRate = %d, want 921600", cfg.Radio.Serial.BaudRate)
		}
		// Untouched sections keep defaults.
		if cfg.Radio.Reconnect.MaxRetries != 5 {
			t.Errorf("MaxRetries = %d, want default 5", cfg.Radio.Reconnect.MaxRetries)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfigFile(t, `
radio:
  serial:
    path: /dev/ttyACM0
`)
		t.Setenv("MESHBRIDGE_RADIO_SERIAL_PATH", "/dev/ttyUSB7")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Radio.Serial.Path != "/dev/ttyUSB7" {
			t.Errorf("Serial.Path = %q, want /dev/ttyUSB7", cfg.Radio.Serial.Path)
		}
	})

	t.Run("missing file fails", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Load() on missing file, want error")
		}
	})
}

// TestValidate verifies configuration validation rules.
func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Errorf("Default().Validate() error = %v", err)
		}
	})

	t.Run("invalid radio mode rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Radio.Mode = "carrier-pigeon"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() with bad mode, want error")
		}
	})

	t.Run("tcp mode requires port in range", func(t *testing.T) {
		cfg := Default()
		cfg.Radio.Mode = "tcp"
		cfg.Radio.TCP.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() with port 0, want error")
		}
	})

	t.Run("retry ceiling below base rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Radio.Reconnect.RetryDelaySeconds = 30
		cfg.Radio.Reconnect.MaxRetryDelaySeconds = 10
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() with ceiling below base, want error")
		}
	})

	t.Run("mqtt qos checked only when enabled", func(t *testing.T) {
		cfg := Default()
		cfg.MQTT.QoS = 9
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with mqtt disabled, error = %v", err)
		}
		cfg.MQTT.Enabled = true
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() with mqtt enabled and bad qos, want error")
		}
	})
}

// TestDurationGetters verifies second-to-Duration conversions.
func TestDurationGetters(t *testing.T) {
	cfg := Default()

	if got := cfg.PortLockWait(); got != 30*time.Second {
		t.Errorf("PortLockWait() = %v, want 30s", got)
	}
	if got := cfg.RetryDelay(); got != 5*time.Second {
		t.Errorf("RetryDelay() = %v, want 5s", got)
	}
	if got := cfg.MaxRetryDelay(); got != 60*time.Second {
		t.Errorf("MaxRetryDelay() = %v, want 60s", got)
	}
	if got := cfg.GracePeriod(); got != 5*time.Second {
		t.Errorf("GracePeriod() = %v, want 5s", got)
	}
	if got := cfg.HealthCooldown(); got != 900*time.Second {
		t.Errorf("HealthCooldown() = %v, want 900s", got)
	}
	if got := cfg.WriteGuardWindow(); got != 300*time.Second {
		t.Errorf("WriteGuardWindow() = %v, want 300s", got)
	}
}
