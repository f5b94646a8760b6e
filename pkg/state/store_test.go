package state

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder collects snapshots delivered to an observer.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func TestUpdateBattery_Clamps(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"below range", -5, 0},
		{"above range", 150, 100},
		{"in range", 42, 42},
		{"at min", 0, 0},
		{"at max", 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.UpdateBattery(50) // move away from zero so clamp-to-0 notifies
			s.UpdateBattery(tt.in)
			if got := s.Snapshot().BatteryPercent; got != tt.want {
				t.Errorf("BatteryPercent: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUpdateBattery_NoNotifyWithoutChange(t *testing.T) {
	s := New()
	rec := &recorder{}
	s.Register(rec.observe)

	s.UpdateBattery(80)
	s.UpdateBattery(80)
	s.UpdateBattery(180) // clamps to 100
	s.UpdateBattery(100) // no change

	if got := rec.count(); got != 2 {
		t.Errorf("notifications: got %d, want 2", got)
	}
}

func TestObservers_ExactlyOncePerUpdate(t *testing.T) {
	s := New()
	recs := make([]*recorder, 3)
	for i := range recs {
		recs[i] = &recorder{}
		s.Register(recs[i].observe)
	}

	s.UpdateBattery(10)
	s.UpdateOrientation(Orientation{Roll: 5})
	if err := s.SetFeature(FeatureCamera, true); err != nil {
		t.Fatalf("SetFeature: %v", err)
	}

	for i, rec := range recs {
		if got := rec.count(); got != 3 {
			t.Errorf("observer %d: got %d notifications, want 3", i, got)
		}
	}
}

func TestObservers_SeeCompletedUpdate(t *testing.T) {
	s := New()
	rec := &recorder{}
	s.Register(rec.observe)

	err := s.UpdateStatus(map[string]any{
		FieldSpeed:  1.5,
		FieldHeight: 100.0,
		"balance":   true,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	// The one notification carries every field of the group.
	if got := rec.count(); got != 1 {
		t.Fatalf("notifications: got %d, want 1", got)
	}
	snap := rec.last()
	if snap.SpeedMultiplier != 1.5 {
		t.Errorf("SpeedMultiplier: got %v, want 1.5", snap.SpeedMultiplier)
	}
	if snap.Height != 100 {
		t.Errorf("Height: got %d, want 100", snap.Height)
	}
	if !snap.Features[FeatureBalance] {
		t.Error("balance feature not applied")
	}
}

func TestObserver_PanicIsolated(t *testing.T) {
	s := New()
	s.Register(func(Snapshot) { panic("boom") })
	rec := &recorder{}
	s.Register(rec.observe)

	s.UpdateBattery(33)

	if got := rec.count(); got != 1 {
		t.Errorf("surviving observer: got %d notifications, want 1", got)
	}
	if got := s.Snapshot().BatteryPercent; got != 33 {
		t.Errorf("BatteryPercent after panic: got %d, want 33", got)
	}
}

func TestUnregister_StopsNotifications(t *testing.T) {
	s := New()
	rec := &recorder{}
	h := s.Register(rec.observe)

	s.UpdateBattery(10)
	s.Unregister(h)
	s.UpdateBattery(20)

	if got := rec.count(); got != 1 {
		t.Errorf("notifications after unregister: got %d, want 1", got)
	}
}

func TestSetFeature_UnknownRejected(t *testing.T) {
	s := New()
	rec := &recorder{}
	s.Register(rec.observe)
	before := s.Snapshot()

	err := s.SetFeature(Feature("warp_drive"), true)
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("error: got %v, want ErrUnknownFeature", err)
	}

	after := s.Snapshot()
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Error("LastUpdated moved on rejected update")
	}
	if rec.count() != 0 {
		t.Error("observer notified on rejected update")
	}

	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "warp_drive" {
		t.Errorf("FieldError.Field: got %+v, want warp_drive", fe)
	}
}

func TestUpdateStatus_UnknownFieldRejectsWholeGroup(t *testing.T) {
	s := New()
	rec := &recorder{}
	s.Register(rec.observe)

	err := s.UpdateStatus(map[string]any{
		FieldSpeed: 1.8,
		"bogus":    true,
	})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("error: got %v, want ErrUnknownField", err)
	}

	// The valid field in the same group must not have been applied.
	if got := s.Snapshot().SpeedMultiplier; got != 1.0 {
		t.Errorf("SpeedMultiplier after rejected group: got %v, want 1.0", got)
	}
	if rec.count() != 0 {
		t.Error("observer notified on rejected group")
	}
}

func TestUpdateStatus_MistypedValueRejectsWholeGroup(t *testing.T) {
	s := New()

	err := s.UpdateStatus(map[string]any{
		"balance":    "yes", // must be bool
		FieldHeight: 90.0,
	})
	if !errors.Is(err, ErrBadFieldValue) {
		t.Fatalf("error: got %v, want ErrBadFieldValue", err)
	}
	if got := s.Snapshot().Height; got != 85 {
		t.Errorf("Height after rejected group: got %d, want 85", got)
	}
}

func TestUpdateStatus_ClampsSpeedAndHeight(t *testing.T) {
	s := New()
	err := s.UpdateStatus(map[string]any{
		FieldSpeed:  9.0,
		FieldHeight: 20.0,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	snap := s.Snapshot()
	if snap.SpeedMultiplier != MaxSpeedMultiplier {
		t.Errorf("SpeedMultiplier: got %v, want %v", snap.SpeedMultiplier, MaxSpeedMultiplier)
	}
	if snap.Height != MinHeight {
		t.Errorf("Height: got %d, want %d", snap.Height, MinHeight)
	}
}

func TestUpdateOrientation_NoiseGate(t *testing.T) {
	s := New()
	rec := &recorder{}
	s.Register(rec.observe)

	s.UpdateOrientation(Orientation{Roll: 1.0, Pitch: 2.0, Yaw: 3.0})
	// Jitter below the gate on every axis: ignored.
	s.UpdateOrientation(Orientation{Roll: 1.05, Pitch: 2.04, Yaw: 3.09})
	// One axis over the gate: applied.
	s.UpdateOrientation(Orientation{Roll: 1.05, Pitch: 2.04, Yaw: 3.25})

	if got := rec.count(); got != 2 {
		t.Errorf("notifications: got %d, want 2", got)
	}
	if got := s.Snapshot().Orientation.Yaw; got != 3.25 {
		t.Errorf("Yaw: got %v, want 3.25", got)
	}
}

func TestLastUpdated_Monotonic(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(WithClock(func() time.Time { return now }))

	s.UpdateBattery(10)
	first := s.Snapshot().LastUpdated

	// Clock jumps backwards; the stamp must not.
	now = time.Unix(500, 0)
	s.UpdateBattery(20)
	second := s.Snapshot().LastUpdated

	if second.Before(first) {
		t.Errorf("LastUpdated went backwards: %v -> %v", first, second)
	}
	if got := s.Snapshot().BatteryPercent; got != 20 {
		t.Errorf("BatteryPercent: got %d, want 20", got)
	}

	now = time.Unix(2000, 0)
	s.UpdateBattery(30)
	if got := s.Snapshot().LastUpdated; !got.Equal(time.Unix(2000, 0)) {
		t.Errorf("LastUpdated: got %v, want %v", got, time.Unix(2000, 0))
	}
}

func TestControllerTimeout(t *testing.T) {
	now := time.Unix(1000, 0)
	s := New(
		WithClock(func() time.Time { return now }),
		WithControllerTimeout(5*time.Second),
	)

	if err := s.UpdateStatus(map[string]any{FieldController: true}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !s.Snapshot().ControllerConnected {
		t.Fatal("controller not connected after update")
	}

	now = now.Add(4 * time.Second)
	if !s.Snapshot().ControllerConnected {
		t.Error("controller reported stale before timeout")
	}

	now = now.Add(2 * time.Second)
	if s.Snapshot().ControllerConnected {
		t.Error("controller still connected after timeout")
	}
}

func TestSnapshot_Isolated(t *testing.T) {
	s := New()
	if err := s.SetFeature(FeatureCamera, true); err != nil {
		t.Fatalf("SetFeature: %v", err)
	}

	snap := s.Snapshot()
	snap.Features[FeatureCamera] = false
	snap.BatteryPercent = 99

	cur := s.Snapshot()
	if !cur.Features[FeatureCamera] {
		t.Error("mutating a snapshot leaked into the store")
	}
	if cur.BatteryPercent == 99 {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.UpdateBattery(j % 101)
				s.UpdateOrientation(Orientation{Roll: float64(j)})
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := s.Snapshot()
				if snap.BatteryPercent < 0 || snap.BatteryPercent > 100 {
					t.Errorf("battery out of range: %d", snap.BatteryPercent)
					return
				}
			}
		}()
	}
	wg.Wait()
}
