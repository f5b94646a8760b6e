package dashboard

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/riderlabs/go-rider/internal/config"
	"github.com/riderlabs/go-rider/pkg/broker"
	"github.com/riderlabs/go-rider/pkg/calibration"
	"github.com/riderlabs/go-rider/pkg/llm"
	"github.com/riderlabs/go-rider/pkg/state"
)

// newTestServer builds a server over an isolated settings file and an
// unconnected broker. Returns the server and the settings file path.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	logger := slog.Default()
	dir := t.TempDir()
	file := filepath.Join(dir, "rider.env")

	cfg := config.Load(file)
	cfg.CalibrationFile = filepath.Join(dir, "cal.json")

	store := state.New()
	brk := broker.New("tcp://127.0.0.1:1883", store, logger)
	session := llm.NewSession(llm.NewMock(), cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens, true, logger)
	table := calibration.Load(cfg.CalibrationFile, logger)

	return NewServer(cfg, store, brk, session, table, logger), file
}

func postJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestLLMSettings_PersistedToConfig(t *testing.T) {
	s, file := newTestServer(t)

	status, body := postJSON(t, s, "POST", "/api/llm/settings",
		`{"temperature": 5.0, "max_tokens": 10}`)
	if status != 200 {
		t.Fatalf("status: got %d, body %v", status, body)
	}

	// Response carries the clamped effective values.
	if got := body["temperature"]; got != 2.0 {
		t.Errorf("temperature: got %v, want 2.0", got)
	}
	if got := body["max_tokens"]; got != float64(50) {
		t.Errorf("max_tokens: got %v, want 50", got)
	}

	// And the clamped values survive a restart via the settings file.
	reloaded := config.Load(file)
	if reloaded.LLMTemperature != 2.0 {
		t.Errorf("persisted temperature: got %v, want 2.0", reloaded.LLMTemperature)
	}
	if reloaded.LLMMaxTokens != 50 {
		t.Errorf("persisted max tokens: got %d, want 50", reloaded.LLMMaxTokens)
	}
}

func TestBrokerConfig_PersistedToConfig(t *testing.T) {
	s, file := newTestServer(t)

	status, body := postJSON(t, s, "PUT", "/api/config/broker",
		`{"host": "robot.local", "port": 1884}`)
	if status != 200 {
		t.Fatalf("status: got %d, body %v", status, body)
	}
	if got := body["broker"]; got != "tcp://robot.local:1884" {
		t.Errorf("broker: got %v", got)
	}
	if got := body["restart_required"]; got != true {
		t.Error("restart_required not reported")
	}

	reloaded := config.Load(file)
	if reloaded.BrokerHost != "robot.local" {
		t.Errorf("persisted host: got %q, want robot.local", reloaded.BrokerHost)
	}
	if reloaded.BrokerPort != 1884 {
		t.Errorf("persisted port: got %d, want 1884", reloaded.BrokerPort)
	}
}

func TestBrokerConfig_Rejected(t *testing.T) {
	s, _ := newTestServer(t)

	if status, _ := postJSON(t, s, "PUT", "/api/config/broker", `{}`); status != 400 {
		t.Errorf("empty host: got status %d, want 400", status)
	}
	if status, _ := postJSON(t, s, "PUT", "/api/config/broker",
		`{"host": "robot.local", "port": 99999}`); status != 400 {
		t.Errorf("bad port: got status %d, want 400", status)
	}
}
