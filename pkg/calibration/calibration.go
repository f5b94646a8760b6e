// Package calibration maps named movement actions to raw joystick
// values. Robot drive response is non-linear, so speeds and turn
// angles are calibrated per robot and stored as named points in a JSON
// file that can be edited from the dashboard.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Movement types with calibrated points.
const (
	Forward   = "forward"
	Backward  = "backward"
	TurnLeft  = "turn_left"
	TurnRight = "turn_right"
	Stop      = "stop"
)

// Fallback values when a point is missing from the table.
const (
	defaultForward  = 10
	defaultBackward = -10
	defaultLeft     = 10
	defaultRight    = -10
)

// ErrUnknownMovement is returned for a movement type the table does
// not carry.
var ErrUnknownMovement = errors.New("calibration: unknown movement type")

// ErrUnknownPoint is returned when a named point is not in the table.
var ErrUnknownPoint = errors.New("calibration: unknown calibration point")

// Point is one named calibration value. Speed names the point for
// drive axes, Angle for turn axes; exactly one is set.
type Point struct {
	Speed       string `json:"speed,omitempty"`
	Angle       string `json:"angle,omitempty"`
	Value       int    `json:"value"`
	Description string `json:"description,omitempty"`
}

// Name returns the point's name regardless of axis kind.
func (p Point) Name() string {
	if p.Speed != "" {
		return p.Speed
	}
	return p.Angle
}

type axis struct {
	Points []Point `json:"calibration_points"`
}

// Table holds the calibration data for one robot.
type Table struct {
	mu     sync.RWMutex
	file   string
	data   map[string]*axis
	logger *slog.Logger
}

// Load reads a table from file, falling back to built-in defaults when
// the file is missing or unreadable.
func Load(file string, logger *slog.Logger) *Table {
	t := &Table{
		file:   file,
		data:   defaults(),
		logger: logger.With("component", "calibration"),
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("failed to read calibration file", "file", file, slog.Any("error", err))
		}
		t.logger.Info("using built-in calibration defaults")
		return t
	}

	data := make(map[string]*axis)
	if err := json.Unmarshal(raw, &data); err != nil {
		t.logger.Warn("failed to parse calibration file, using defaults", "file", file, slog.Any("error", err))
		return t
	}
	t.data = data
	t.logger.Info("calibration loaded", "file", file)
	return t
}

// Save writes the table back to its file.
func (t *Table) Save() error {
	t.mu.RLock()
	raw, err := json.MarshalIndent(t.data, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("calibration: marshal: %w", err)
	}
	if err := os.WriteFile(t.file, raw, 0o644); err != nil {
		return fmt.Errorf("calibration: write %s: %w", t.file, err)
	}
	return nil
}

// Value returns the calibrated value for a movement type and point
// name, or the axis fallback when the point is missing.
func (t *Table) Value(movement, name string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if a, ok := t.data[movement]; ok {
		for _, p := range a.Points {
			if p.Name() == name {
				return p.Value
			}
		}
	}

	switch movement {
	case Forward:
		return defaultForward
	case Backward:
		return defaultBackward
	case TurnLeft:
		return defaultLeft
	default:
		return defaultRight
	}
}

// Command returns the (x, y) joystick values for a named action.
// Unknown actions resolve to stop.
func (t *Table) Command(action, intensity string) (x, y int) {
	switch action {
	case Forward:
		return 0, t.Value(Forward, intensity)
	case Backward:
		return 0, t.Value(Backward, intensity)
	case TurnLeft:
		return t.Value(TurnLeft, intensity), 0
	case TurnRight:
		return t.Value(TurnRight, intensity), 0
	default:
		return 0, 0
	}
}

// Update sets the value of an existing calibration point.
func (t *Table) Update(movement, name string, value int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.data[movement]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMovement, movement)
	}
	for i := range a.Points {
		if a.Points[i].Name() == name {
			a.Points[i].Value = value
			t.logger.Info("calibration point updated", "movement", movement, "point", name, "value", value)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrUnknownPoint, movement, name)
}

// Summary describes one point for display and editing.
type Summary struct {
	Name        string `json:"name"`
	Value       int    `json:"value"`
	Description string `json:"description,omitempty"`
}

// List returns all calibration points grouped by movement type.
func (t *Table) List() map[string][]Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]Summary, len(t.data))
	for movement, a := range t.data {
		points := make([]Summary, 0, len(a.Points))
		for _, p := range a.Points {
			points = append(points, Summary{
				Name:        p.Name(),
				Value:       p.Value,
				Description: p.Description,
			})
		}
		out[movement] = points
	}
	return out
}

func defaults() map[string]*axis {
	return map[string]*axis{
		Forward: {Points: []Point{
			{Speed: "slow", Value: 6, Description: "careful indoor speed"},
			{Speed: "normal", Value: 10, Description: "default cruise"},
			{Speed: "fast", Value: 15, Description: "open-space speed"},
		}},
		Backward: {Points: []Point{
			{Speed: "slow", Value: -6, Description: "careful reverse"},
			{Speed: "normal", Value: -10, Description: "default reverse"},
			{Speed: "fast", Value: -15, Description: "fast reverse"},
		}},
		TurnLeft: {Points: []Point{
			{Angle: "45deg", Value: 5, Description: "quarter turn left"},
			{Angle: "90deg", Value: 10, Description: "right-angle turn left"},
			{Angle: "180deg", Value: 20, Description: "about-face left"},
		}},
		TurnRight: {Points: []Point{
			{Angle: "45deg", Value: -5, Description: "quarter turn right"},
			{Angle: "90deg", Value: -10, Description: "right-angle turn right"},
			{Angle: "180deg", Value: -20, Description: "about-face right"},
		}},
	}
}
