package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the shared robot state holder. All mutation is serialized by
// a single writer lock; observer notification happens under that lock
// so no observer ever sees a partially applied field group.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	observers map[Handle]Observer

	controllerTimeout  time.Duration
	lastControllerSeen time.Time

	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithControllerTimeout sets how long a controller may stay silent
// before snapshots report it disconnected.
func WithControllerTimeout(d time.Duration) Option {
	return func(s *Store) { s.controllerTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store with neutral defaults: empty battery, level
// orientation, all features off, speed multiplier 1.0.
func New(opts ...Option) *Store {
	s := &Store{
		snap: Snapshot{
			Features: map[Feature]bool{
				FeatureBalance:     false,
				FeaturePerformance: false,
				FeatureCamera:      false,
			},
			SpeedMultiplier: 1.0,
			Height:          85,
		},
		observers:         make(map[Handle]Observer),
		controllerTimeout: 5 * time.Second,
		logger:            slog.Default(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "state")
	return s
}

// Register adds an observer and returns a handle for removal.
// Notification order between observers is unspecified.
func (s *Store) Register(fn Observer) Handle {
	h := Handle(uuid.NewString())
	s.mu.Lock()
	s.observers[h] = fn
	s.mu.Unlock()
	return h
}

// Unregister removes an observer. Unknown handles are ignored.
func (s *Store) Unregister(h Handle) {
	s.mu.Lock()
	delete(s.observers, h)
	s.mu.Unlock()
}

// Snapshot returns an immutable copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked copies the state, applying the controller staleness
// check. Callers must hold at least the read lock.
func (s *Store) snapshotLocked() Snapshot {
	snap := s.snap
	snap.Features = make(map[Feature]bool, len(s.snap.Features))
	for k, v := range s.snap.Features {
		snap.Features[k] = v
	}
	if snap.ControllerConnected && !s.lastControllerSeen.IsZero() &&
		s.now().Sub(s.lastControllerSeen) > s.controllerTimeout {
		snap.ControllerConnected = false
	}
	return snap
}

// UpdateBattery sets the battery charge. Values outside 0-100 are
// clamped. Notifies only when the stored value changes.
func (s *Store) UpdateBattery(percent int) {
	percent = clampInt(percent, 0, 100)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.BatteryPercent == percent {
		return
	}
	s.snap.BatteryPercent = percent
	s.finishUpdateLocked()
}

// UpdateOrientation applies all three IMU angles as one atomic group.
// Changes below the noise gate on every axis are ignored.
func (s *Store) UpdateOrientation(o Orientation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.snap.Orientation
	if abs(cur.Roll-o.Roll) < imuNoiseGate &&
		abs(cur.Pitch-o.Pitch) < imuNoiseGate &&
		abs(cur.Yaw-o.Yaw) < imuNoiseGate {
		return
	}
	s.snap.Orientation = o
	s.finishUpdateLocked()
}

// SetFeature toggles a single feature flag. An unknown feature is
// rejected with ErrUnknownFeature and state is left unchanged.
func (s *Store) SetFeature(f Feature, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snap.Features[f]
	if !ok {
		return &FieldError{Field: string(f), Err: ErrUnknownFeature}
	}
	if cur == enabled {
		return nil
	}
	s.snap.Features[f] = enabled
	s.finishUpdateLocked()
	return nil
}

// SetSpeedMultiplier sets the movement speed scale, clamped to the
// supported range.
func (s *Store) SetSpeedMultiplier(v float64) {
	v = clampFloat(v, MinSpeedMultiplier, MaxSpeedMultiplier)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.SpeedMultiplier == v {
		return
	}
	s.snap.SpeedMultiplier = v
	s.finishUpdateLocked()
}

// SetBrokerConnected mirrors transport liveness into the state.
func (s *Store) SetBrokerConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.BrokerConnected == connected {
		return
	}
	s.snap.BrokerConnected = connected
	s.finishUpdateLocked()
}

// Status field names accepted by UpdateStatus. These are the client's
// canonical names; the protocol layer translates wire payloads.
const (
	FieldSpeed      = "speed_multiplier"
	FieldHeight     = "height"
	FieldController = "controller_connected"
	FieldCPUPercent = "cpu_percent"
	FieldCPULoad1   = "cpu_load_1min"
	FieldCPULoad5   = "cpu_load_5min"
	FieldCPULoad15  = "cpu_load_15min"
)

// UpdateStatus applies a partial status update as one atomic group.
// Keys may name a feature or one of the Field* constants. An unknown
// key or mistyped value rejects the entire update: no field is applied
// and no observer is notified.
func (s *Store) UpdateStatus(fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole group before touching anything.
	for key, val := range fields {
		if _, ok := s.snap.Features[Feature(key)]; ok {
			if _, ok := val.(bool); !ok {
				return &FieldError{Field: key, Err: ErrBadFieldValue}
			}
			continue
		}
		switch key {
		case FieldController:
			if _, ok := val.(bool); !ok {
				return &FieldError{Field: key, Err: ErrBadFieldValue}
			}
		case FieldSpeed, FieldCPUPercent, FieldCPULoad1, FieldCPULoad5, FieldCPULoad15:
			if _, ok := toFloat(val); !ok {
				return &FieldError{Field: key, Err: ErrBadFieldValue}
			}
		case FieldHeight:
			if _, ok := toFloat(val); !ok {
				return &FieldError{Field: key, Err: ErrBadFieldValue}
			}
		default:
			return &FieldError{Field: key, Err: ErrUnknownField}
		}
	}

	changed := false
	for key, val := range fields {
		if cur, ok := s.snap.Features[Feature(key)]; ok {
			v := val.(bool)
			if cur != v {
				s.snap.Features[Feature(key)] = v
				changed = true
			}
			continue
		}
		switch key {
		case FieldController:
			v := val.(bool)
			if v {
				s.lastControllerSeen = s.now()
			}
			if s.snap.ControllerConnected != v {
				s.snap.ControllerConnected = v
				changed = true
			}
		case FieldSpeed:
			f, _ := toFloat(val)
			f = clampFloat(f, MinSpeedMultiplier, MaxSpeedMultiplier)
			if s.snap.SpeedMultiplier != f {
				s.snap.SpeedMultiplier = f
				changed = true
			}
		case FieldHeight:
			f, _ := toFloat(val)
			h := clampInt(int(f), MinHeight, MaxHeight)
			if s.snap.Height != h {
				s.snap.Height = h
				changed = true
			}
		case FieldCPUPercent:
			f, _ := toFloat(val)
			if s.snap.CPU.Percent != f {
				s.snap.CPU.Percent = f
				changed = true
			}
		case FieldCPULoad1:
			f, _ := toFloat(val)
			if s.snap.CPU.Load1 != f {
				s.snap.CPU.Load1 = f
				changed = true
			}
		case FieldCPULoad5:
			f, _ := toFloat(val)
			if s.snap.CPU.Load5 != f {
				s.snap.CPU.Load5 = f
				changed = true
			}
		case FieldCPULoad15:
			f, _ := toFloat(val)
			if s.snap.CPU.Load15 != f {
				s.snap.CPU.Load15 = f
				changed = true
			}
		}
	}

	if changed {
		s.finishUpdateLocked()
	}
	return nil
}

// finishUpdateLocked stamps LastUpdated and notifies observers.
// Callers must hold the write lock; the mutation must be complete.
func (s *Store) finishUpdateLocked() {
	now := s.now()
	// LastUpdated never moves backwards, even across clock jumps.
	if now.After(s.snap.LastUpdated) {
		s.snap.LastUpdated = now
	}
	snap := s.snapshotLocked()
	for h, fn := range s.observers {
		s.notify(h, fn, snap)
	}
}

// notify invokes one observer, isolating panics so a failing observer
// cannot block delivery to the others.
func (s *Store) notify(h Handle, fn Observer, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked", "handle", string(h), "panic", r)
		}
	}()
	fn(snap)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
