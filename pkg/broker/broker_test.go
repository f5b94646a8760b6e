package broker

import (
	"encoding/base64"
	"log/slog"
	"testing"

	"github.com/riderlabs/go-rider/pkg/state"
)

// fakeMessage implements mqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestAdapter(t *testing.T) (*Adapter, *state.Store) {
	t.Helper()
	store := state.New()
	a := New("tcp://127.0.0.1:1883", store, slog.Default())
	return a, store
}

func msg(topic, payload string) *fakeMessage {
	return &fakeMessage{topic: topic, payload: []byte(payload)}
}

func TestHandleBattery(t *testing.T) {
	a, store := newTestAdapter(t)

	a.handleBattery(nil, msg("rider/status/battery", `{"level": 73}`))
	if got := store.Snapshot().BatteryPercent; got != 73 {
		t.Errorf("BatteryPercent: got %d, want 73", got)
	}

	// Legacy field name still accepted.
	a.handleBattery(nil, msg("rider/status/battery", `{"battery_level": 41}`))
	if got := store.Snapshot().BatteryPercent; got != 41 {
		t.Errorf("BatteryPercent: got %d, want 41", got)
	}
}

func TestHandleBattery_MalformedDropped(t *testing.T) {
	a, store := newTestAdapter(t)
	a.handleBattery(nil, msg("rider/status/battery", `{"level": 50}`))

	a.handleBattery(nil, msg("rider/status/battery", `not json at all`))
	a.handleBattery(nil, msg("rider/status/battery", `{"voltage": 11.1}`))

	if got := store.Snapshot().BatteryPercent; got != 50 {
		t.Errorf("BatteryPercent after malformed payloads: got %d, want 50", got)
	}
}

func TestHandleIMU(t *testing.T) {
	a, store := newTestAdapter(t)

	a.handleIMU(nil, msg("rider/status/imu", `{"roll": 1.5, "pitch": -2.25, "yaw": 178.0}`))
	o := store.Snapshot().Orientation
	if o.Roll != 1.5 || o.Pitch != -2.25 || o.Yaw != 178.0 {
		t.Errorf("Orientation: got %+v", o)
	}
}

func TestHandleStatus_Translated(t *testing.T) {
	a, store := newTestAdapter(t)

	a.handleStatus(nil, msg("rider/status",
		`{"speed_scale": 1.5, "roll_balance_enabled": true, "height": 95}`))

	snap := store.Snapshot()
	if snap.SpeedMultiplier != 1.5 {
		t.Errorf("SpeedMultiplier: got %v, want 1.5", snap.SpeedMultiplier)
	}
	if !snap.Features[state.FeatureBalance] {
		t.Error("balance feature not set from wire payload")
	}
	if snap.Height != 95 {
		t.Errorf("Height: got %d, want 95", snap.Height)
	}
}

func TestHandleStatus_FirmwareStatusApplied(t *testing.T) {
	// Full periodic status publish as the robot firmware sends it,
	// envelope keys included. It must apply, not be rejected as a
	// group because of timestamp/connection_status.
	a, store := newTestAdapter(t)

	a.handleStatus(nil, msg("rider/status", `{
		"timestamp": 1756120000.123,
		"speed_scale": 1.2,
		"roll_balance_enabled": true,
		"performance_mode_enabled": false,
		"camera_enabled": true,
		"controller_connected": true,
		"height": 100,
		"connection_status": "connected"
	}`))

	snap := store.Snapshot()
	if snap.SpeedMultiplier != 1.2 {
		t.Errorf("SpeedMultiplier: got %v, want 1.2", snap.SpeedMultiplier)
	}
	if snap.Height != 100 {
		t.Errorf("Height: got %d, want 100", snap.Height)
	}
	if !snap.Features[state.FeatureBalance] {
		t.Error("balance feature not applied from firmware status")
	}
	if !snap.Features[state.FeatureCamera] {
		t.Error("camera feature not applied from firmware status")
	}
	if snap.Features[state.FeaturePerformance] {
		t.Error("performance feature set despite false in payload")
	}
	if !snap.ControllerConnected {
		t.Error("controller connectivity not applied from firmware status")
	}
}

func TestHandleStatus_UnknownFieldLeavesStateAlone(t *testing.T) {
	a, store := newTestAdapter(t)
	a.handleStatus(nil, msg("rider/status", `{"speed_scale": 1.5}`))

	a.handleStatus(nil, msg("rider/status",
		`{"speed_scale": 0.5, "flux_capacitor": true}`))

	if got := store.Snapshot().SpeedMultiplier; got != 1.5 {
		t.Errorf("SpeedMultiplier after rejected group: got %v, want 1.5", got)
	}
}

func TestHandleImageCapture(t *testing.T) {
	a, _ := newTestAdapter(t)

	var got []byte
	a.SetFrameHandler(func(jpeg []byte) { got = jpeg })

	frame := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	encoded := base64.StdEncoding.EncodeToString(frame)
	a.handleImageCapture(nil, msg("rider/response/image_capture",
		`{"image": "`+encoded+`", "width": 640, "height": 480}`))

	if string(got) != string(frame) {
		t.Errorf("frame: got %v, want %v", got, frame)
	}
}

func TestHandleImageCapture_BadBase64Dropped(t *testing.T) {
	a, _ := newTestAdapter(t)

	called := false
	a.SetFrameHandler(func([]byte) { called = true })
	a.handleImageCapture(nil, msg("rider/response/image_capture",
		`{"image": "@@not-base64@@"}`))

	if called {
		t.Error("frame handler invoked for undecodable image")
	}
}

func TestPublish_NotConnected(t *testing.T) {
	a, _ := newTestAdapter(t)

	if err := a.SendMovement(0, 5); err != ErrNotConnected {
		t.Errorf("SendMovement offline: got %v, want ErrNotConnected", err)
	}
	if err := a.RequestBattery(); err != ErrNotConnected {
		t.Errorf("RequestBattery offline: got %v, want ErrNotConnected", err)
	}
}
