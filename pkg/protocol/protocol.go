// Package protocol defines the MQTT topic set and JSON payload schema
// shared between the Rider robot and this client. The schema is an
// external contract: field names follow what the robot firmware sends,
// and the decode helpers translate them into the client's state model.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Topics published by the robot (client subscribes).
const (
	TopicStatus       = "rider/status"
	TopicBattery      = "rider/status/battery"
	TopicIMU          = "rider/status/imu"
	TopicImageCapture = "rider/response/image_capture"
)

// Topics published by the client (robot subscribes).
const (
	TopicControlMovement = "rider/control/movement"
	TopicControlSettings = "rider/control/settings"
	TopicControlCamera   = "rider/control/camera"
	TopicControlSystem   = "rider/control/system"
	TopicRequestBattery  = "rider/request/battery"
)

// TelemetryTopics lists every topic the client subscribes to.
func TelemetryTopics() []string {
	return []string{TopicStatus, TopicBattery, TopicIMU, TopicImageCapture}
}

// ErrMalformedPayload is returned when an inbound payload cannot be
// decoded. The routing layer logs and drops such messages without
// touching state.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// =============================================================================
// Robot -> Client payloads
// =============================================================================

// BatteryPayload is sent on TopicBattery. The firmware uses "level";
// older builds used "battery_level", so both are accepted.
type BatteryPayload struct {
	Level       *int `json:"level"`
	LegacyLevel *int `json:"battery_level"`
}

// Percent returns the reported charge, whichever field carried it.
func (p *BatteryPayload) Percent() (int, bool) {
	if p.Level != nil {
		return *p.Level, true
	}
	if p.LegacyLevel != nil {
		return *p.LegacyLevel, true
	}
	return 0, false
}

// IMUPayload is sent on TopicIMU with attitude angles in degrees.
type IMUPayload struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// StatusPayload is sent on TopicStatus as a partial field map. Wire
// field names differ from the client's canonical ones; Fields performs
// the translation.
type StatusPayload map[string]any

// envelopeFields are bookkeeping keys the firmware stamps on every
// status publish. They carry no robot state and are stripped before
// translation; only genuinely unknown fields reach the state layer.
var envelopeFields = map[string]bool{
	"timestamp":         true,
	"connection_status": true,
}

// wireFields maps firmware status field names to canonical state keys.
var wireFields = map[string]string{
	"speed_scale":              "speed_multiplier",
	"height":                   "height",
	"roll_balance_enabled":     "balance",
	"performance_mode_enabled": "performance",
	"camera_enabled":           "camera",
	"controller_connected":     "controller_connected",
	"cpu_percent":              "cpu_percent",
	"cpu_load_1min":            "cpu_load_1min",
	"cpu_load_5min":            "cpu_load_5min",
	"cpu_load_15min":           "cpu_load_15min",
}

// Fields translates the wire payload into canonical state field names,
// dropping the firmware's envelope keys. Unknown wire fields are passed
// through untranslated so the state layer can reject the update as a
// whole.
func (p StatusPayload) Fields() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		if envelopeFields[k] {
			continue
		}
		if canon, ok := wireFields[k]; ok {
			out[canon] = v
		} else {
			out[k] = v
		}
	}
	return out
}

// ImageCapturePayload is sent on TopicImageCapture with a camera frame.
type ImageCapturePayload struct {
	// Image is the base64-encoded JPEG frame.
	Image string `json:"image"`

	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// =============================================================================
// Client -> Robot payloads
// =============================================================================

// MovementCommand drives the robot. X is turn rate, Y is forward speed,
// both in the firmware's raw command units.
type MovementCommand struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// SettingsCommand toggles or adjusts a robot setting.
type SettingsCommand struct {
	Action    string  `json:"action"`
	Value     any     `json:"value,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// CameraCommand controls the robot camera.
type CameraCommand struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
}

// SystemCommand triggers a system-level action (emergency_stop,
// reset_robot, reboot_pi, poweroff_pi).
type SystemCommand struct {
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
	Source    string  `json:"source,omitempty"`
}

// Settings command actions understood by the firmware.
const (
	ActionChangeSpeed       = "change_speed"
	ActionToggleRollBalance = "toggle_roll_balance"
	ActionTogglePerformance = "toggle_performance"
	ActionToggleCamera      = "toggle_camera"
	ActionEmergencyStop     = "emergency_stop"
	ActionResetRobot        = "reset_robot"
	ActionRebootPi          = "reboot_pi"
	ActionPoweroffPi        = "poweroff_pi"
	ActionCaptureImage      = "capture_image"
)

// Now returns the command timestamp for the current time.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Decode unmarshals an inbound payload, wrapping failures in
// ErrMalformedPayload.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Encode marshals an outbound command payload.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}
