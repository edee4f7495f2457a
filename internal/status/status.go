// Package status provides a thread-safe view of the station for the web page,
// the metrics endpoint and supervisor telemetry.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pump-controller/internal/command"
	"github.com/sweeney/pump-controller/internal/logic"
)

// Config contains station configuration for display.
type Config struct {
	Station  string
	PollMs   int64
	Gain     float64
	MaxSpeed int
	Broker   string
	HTTPAddr string
	Store    string // database driver name
}

// Drive is the display view of one pump drive.
type Drive struct {
	ID       uint8
	State    string
	Faulty   bool
	Setpoint int
}

// Snapshot is a point-in-time view of station state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Info                command.Info
	Reason              logic.StopReason
	Speed               int
	NetworkState        string
	Drives              []Drive
	Ready               bool // at least one control tick has completed
	LastTick            time.Time
	StartTime           time.Time
	Now                 time.Time
	SupervisorConnected bool
	Config              Config
}

// Uptime returns the duration since the station started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable station state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the outcome of a control tick.
func (t *Tracker) Update(info command.Info, reason logic.StopReason, speed int, networkState string, drives []Drive, at time.Time) {
	info.Alarms = append([]int(nil), info.Alarms...)
	drives = append([]Drive(nil), drives...)

	t.mu.Lock()
	t.snap.Info = info
	t.snap.Reason = reason
	t.snap.Speed = speed
	t.snap.NetworkState = networkState
	t.snap.Drives = drives
	t.snap.Ready = true
	t.snap.LastTick = at
	t.mu.Unlock()
}

// SetSupervisorConnected sets the supervisor link status.
func (t *Tracker) SetSupervisorConnected(connected bool) {
	t.mu.Lock()
	t.snap.SupervisorConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the station state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
