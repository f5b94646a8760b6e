// Package state holds the client-side mirror of the robot's telemetry.
//
// A single Store instance is the source of truth shared between the
// broker goroutines (writers) and the dashboard (reader). Updates are
// applied atomically per field group and fan out to registered
// observers exactly once per effective change. Readers take value
// snapshots and never hold a live reference into the store.
package state

import "time"

// Feature identifies a toggleable robot feature.
type Feature string

// The fixed feature set. Updates naming any other feature are rejected.
const (
	FeatureBalance     Feature = "balance"
	FeaturePerformance Feature = "performance"
	FeatureCamera      Feature = "camera"
)

// Features returns the known feature set.
func Features() []Feature {
	return []Feature{FeatureBalance, FeaturePerformance, FeatureCamera}
}

// Physical limits enforced on write.
const (
	MinSpeedMultiplier = 0.1
	MaxSpeedMultiplier = 2.0
	MinHeight          = 75
	MaxHeight          = 115
)

// imuNoiseGate suppresses notifications for sub-0.1 degree jitter,
// matching the robot's own display behavior.
const imuNoiseGate = 0.1

// Orientation is the IMU attitude in degrees. The three angles always
// update together as one group.
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// CPULoad carries the robot's reported CPU statistics.
type CPULoad struct {
	Percent float64 `json:"percent"`
	Load1   float64 `json:"load_1min"`
	Load5   float64 `json:"load_5min"`
	Load15  float64 `json:"load_15min"`
}

// Snapshot is an immutable point-in-time copy of the robot state.
// It is safe to retain across subsequent updates.
type Snapshot struct {
	BatteryPercent      int              `json:"battery_percent"`
	Orientation         Orientation      `json:"orientation"`
	Features            map[Feature]bool `json:"features"`
	SpeedMultiplier     float64          `json:"speed_multiplier"`
	Height              int              `json:"height"`
	ControllerConnected bool             `json:"controller_connected"`
	BrokerConnected     bool             `json:"broker_connected"`
	CPU                 CPULoad          `json:"cpu"`
	LastUpdated         time.Time        `json:"last_updated"`
}

// Observer is invoked after every effective state update with the
// post-update snapshot. Observers run synchronously on the updating
// goroutine and must use the snapshot they are handed rather than
// calling Store.Snapshot.
type Observer func(Snapshot)

// Handle identifies a registered observer for later removal.
type Handle string

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
