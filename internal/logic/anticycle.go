package logic

import "time"

// AntiCycle counts pump start episodes in a sliding window and trips a
// sticky lock when too many starts occur. A lock trip usually means a leak
// downstream is draining the line and restarting the pumps.
type AntiCycle struct {
	cfg AntiCycleConfig
	w   Window
}

// NewAntiCycle creates an AntiCycle whose first window opens at now.
func NewAntiCycle(cfg AntiCycleConfig, now time.Time) *AntiCycle {
	return &AntiCycle{cfg: cfg, w: Window{Start: now}}
}

// RestoreAntiCycle resumes from persisted state.
func RestoreAntiCycle(cfg AntiCycleConfig, w Window) *AntiCycle {
	return &AntiCycle{cfg: cfg, w: w}
}

// State returns the state to persist.
func (a *AntiCycle) State() Window {
	return a.w
}

// SetConfig replaces the parameters without touching the window.
func (a *AntiCycle) SetConfig(cfg AntiCycleConfig) {
	a.cfg = cfg
}

// Triggered reports whether the lock is set.
func (a *AntiCycle) Triggered() bool {
	return a.w.Triggered
}

// EpisodeOpen reports whether a run episode is being timed.
func (a *AntiCycle) EpisodeOpen() bool {
	return !a.w.EpisodeStart.IsZero()
}

// StartEpisode opens an episode at now. An episode already in progress is
// kept. Returns true if a new episode was opened.
func (a *AntiCycle) StartEpisode(now time.Time) bool {
	if a.EpisodeOpen() {
		return false
	}
	a.w.EpisodeStart = now
	return true
}

// RecordEpisodeEnd counts the open episode once it has lasted MinEpisode,
// and closes it. Episodes still shorter than that stay open.
// Returns true if the episode was counted.
func (a *AntiCycle) RecordEpisodeEnd(now time.Time) bool {
	if !a.EpisodeOpen() {
		return false
	}
	if now.Sub(a.w.EpisodeStart) < a.cfg.MinEpisode {
		return false
	}
	a.w.Count++
	a.w.EpisodeStart = time.Time{}
	return true
}

// EndEpisode closes the open episode because the pumps stopped at now.
// It is counted only if it lasted MinEpisode. Returns true if counted.
func (a *AntiCycle) EndEpisode(now time.Time) bool {
	counted := a.RecordEpisodeEnd(now)
	a.w.EpisodeStart = time.Time{}
	return counted
}

// RollWindow starts a fresh window once the current one has elapsed.
// Returns true if the window rolled.
func (a *AntiCycle) RollWindow(now time.Time) bool {
	if now.Sub(a.w.Start) <= a.cfg.Window {
		return false
	}
	a.w.Start = now
	a.w.Count = 0
	return true
}

// CheckTrigger sets the lock once the window count reaches MaxStarts.
// Returns true only on the tick the lock trips.
func (a *AntiCycle) CheckTrigger() bool {
	if a.w.Triggered || a.cfg.MaxStarts <= 0 {
		return false
	}
	if a.w.Count < a.cfg.MaxStarts {
		return false
	}
	a.w.Triggered = true
	return true
}

// Clear releases the lock and restarts counting from now.
func (a *AntiCycle) Clear(now time.Time) {
	a.w.Triggered = false
	a.w.Count = 0
	a.w.Start = now
}
