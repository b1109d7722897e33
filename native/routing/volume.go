package routing

import (
	"sync"
	"time"
)

// VolumeTracker accumulates captured volume per MID so the router can
// enforce daily and monthly caps. Counters roll over on the UTC day and
// month boundaries.
type VolumeTracker struct {
	mu      sync.Mutex
	daily   map[string]windowCounter
	monthly map[string]windowCounter
}

type windowCounter struct {
	key   string
	units int64
}

// NewVolumeTracker constructs an empty tracker.
func NewVolumeTracker() *VolumeTracker {
	return &VolumeTracker{
		daily:   make(map[string]windowCounter),
		monthly: make(map[string]windowCounter),
	}
}

func dayKey(t time.Time) string   { return t.UTC().Format("2006-01-02") }
func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// Record adds captured volume for a MID at the given instant.
func (v *VolumeTracker) Record(mid string, units int64, at time.Time) {
	if units <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.daily[mid] = bump(v.daily[mid], dayKey(at), units)
	v.monthly[mid] = bump(v.monthly[mid], monthKey(at), units)
}

func bump(c windowCounter, key string, units int64) windowCounter {
	if c.key != key {
		return windowCounter{key: key, units: units}
	}
	c.units += units
	return c
}

// Usage returns the accumulated daily and monthly volume for a MID.
func (v *VolumeTracker) Usage(mid string, at time.Time) (daily, monthly int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c := v.daily[mid]; c.key == dayKey(at) {
		daily = c.units
	}
	if c := v.monthly[mid]; c.key == monthKey(at) {
		monthly = c.units
	}
	return daily, monthly
}

// WouldExceed reports whether adding units to a MID would break either cap.
// A zero cap means uncapped.
func (v *VolumeTracker) WouldExceed(mid string, dailyCap, monthlyCap, units int64, at time.Time) bool {
	daily, monthly := v.Usage(mid, at)
	if dailyCap > 0 && daily+units > dailyCap {
		return true
	}
	if monthlyCap > 0 && monthly+units > monthlyCap {
		return true
	}
	return false
}
