package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pump-controller/internal/command"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Station       string           `json:"station"`
	Ready         bool             `json:"ready"`
	StopReason    string           `json:"stop_reason,omitempty"`
	NetworkState  string           `json:"network_state"`
	Speed         int              `json:"speed"`
	Process       command.Info     `json:"process"`
	Drives        []DriveJSON      `json:"drives"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	LastTick      string           `json:"last_tick,omitempty"`
	Supervisor    SupervisorStatus `json:"supervisor"`
	Config        ConfigJSON       `json:"config"`
}

// SupervisorStatus reports the supervisor link state.
type SupervisorStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// DriveJSON is the JSON representation of one drive.
type DriveJSON struct {
	ID       uint8  `json:"id"`
	State    string `json:"state"`
	Faulty   bool   `json:"faulty"`
	Setpoint int    `json:"setpoint"`
}

// ConfigJSON is the JSON representation of station config.
type ConfigJSON struct {
	PollMs   int64   `json:"poll_ms"`
	Gain     float64 `json:"gain"`
	MaxSpeed int     `json:"max_speed"`
	Broker   string  `json:"broker"`
	HTTPAddr string  `json:"http_addr"`
	Store    string  `json:"store"`
}

func buildInner(snap Snapshot) StatusInner {
	ns := snap.NetworkState
	if ns == "" {
		ns = "UNKNOWN"
	}

	inner := StatusInner{
		Station:       snap.Config.Station,
		Ready:         snap.Ready,
		StopReason:    string(snap.Reason),
		NetworkState:  ns,
		Speed:         snap.Speed,
		Process:       snap.Info,
		Drives:        make([]DriveJSON, 0, len(snap.Drives)),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Supervisor:    SupervisorStatus{Connected: snap.SupervisorConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollMs:   snap.Config.PollMs,
			Gain:     snap.Config.Gain,
			MaxSpeed: snap.Config.MaxSpeed,
			Broker:   snap.Config.Broker,
			HTTPAddr: snap.Config.HTTPAddr,
			Store:    snap.Config.Store,
		},
	}
	if !snap.LastTick.IsZero() {
		inner.LastTick = snap.LastTick.UTC().Format(time.RFC3339)
	}
	if inner.Process.Alarms == nil {
		inner.Process.Alarms = []int{}
	}
	for _, d := range snap.Drives {
		inner.Drives = append(inner.Drives, DriveJSON(d))
	}
	return inner
}

// Build returns the status envelope for snap.
func Build(snap Snapshot) StatusJSON {
	return StatusJSON{Status: buildInner(snap)}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a supervisor system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
