package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.env"))

	if cfg.BrokerHost != DefaultBrokerHost {
		t.Errorf("BrokerHost: got %q, want %q", cfg.BrokerHost, DefaultBrokerHost)
	}
	if cfg.BrokerPort != DefaultBrokerPort {
		t.Errorf("BrokerPort: got %d, want %d", cfg.BrokerPort, DefaultBrokerPort)
	}
	if cfg.ControllerTimeout != DefaultControllerTimeout {
		t.Errorf("ControllerTimeout: got %v, want %v", cfg.ControllerTimeout, DefaultControllerTimeout)
	}
	if !cfg.LLMEnabled {
		t.Error("LLMEnabled: got false, want true by default")
	}
}

func TestLoad_FileValues(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rider.env")
	content := `RIDER_BROKER_HOST=10.0.0.9
RIDER_BROKER_PORT=1884
RIDER_LLM_ENABLED=false
RIDER_CONTROLLER_TIMEOUT=7s
RIDER_LOG_LEVEL=debug
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(file)
	if cfg.BrokerHost != "10.0.0.9" {
		t.Errorf("BrokerHost: got %q, want 10.0.0.9", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 1884 {
		t.Errorf("BrokerPort: got %d, want 1884", cfg.BrokerPort)
	}
	if cfg.LLMEnabled {
		t.Error("LLMEnabled: got true, want false")
	}
	if cfg.ControllerTimeout != 7*time.Second {
		t.Errorf("ControllerTimeout: got %v, want 7s", cfg.ControllerTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rider.env")
	if err := os.WriteFile(file, []byte("RIDER_BROKER_HOST=10.0.0.9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIDER_BROKER_HOST", "10.0.0.200")

	cfg := Load(file)
	if cfg.BrokerHost != "10.0.0.200" {
		t.Errorf("BrokerHost: got %q, want env override 10.0.0.200", cfg.BrokerHost)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rider.env")
	content := `RIDER_BROKER_PORT=not-a-port
RIDER_LLM_TEMPERATURE=warm
RIDER_REFRESH_INTERVAL=sometimes
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(file)
	if cfg.BrokerPort != DefaultBrokerPort {
		t.Errorf("BrokerPort: got %d, want default %d", cfg.BrokerPort, DefaultBrokerPort)
	}
	if cfg.LLMTemperature != DefaultLLMTemperature {
		t.Errorf("LLMTemperature: got %v, want default %v", cfg.LLMTemperature, DefaultLLMTemperature)
	}
	if cfg.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("RefreshInterval: got %v, want default %v", cfg.RefreshInterval, DefaultRefreshInterval)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rider.env")

	cfg := Load(file)
	cfg.BrokerHost = "robot.local"
	cfg.LLMModel = "llava:13b"
	cfg.LLMMaxTokens = 750
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	back := Load(file)
	if back.BrokerHost != "robot.local" {
		t.Errorf("BrokerHost: got %q, want robot.local", back.BrokerHost)
	}
	if back.LLMModel != "llava:13b" {
		t.Errorf("LLMModel: got %q, want llava:13b", back.LLMModel)
	}
	if back.LLMMaxTokens != 750 {
		t.Errorf("LLMMaxTokens: got %d, want 750", back.LLMMaxTokens)
	}
}

func TestURLHelpers(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.env"))
	cfg.BrokerHost = "10.1.2.3"
	cfg.BrokerPort = 1883
	cfg.DashboardPort = 9000

	if got := cfg.BrokerURL(); got != "tcp://10.1.2.3:1883" {
		t.Errorf("BrokerURL: got %q", got)
	}
	if got := cfg.DashboardAddr(); got != ":9000" {
		t.Errorf("DashboardAddr: got %q", got)
	}
}
