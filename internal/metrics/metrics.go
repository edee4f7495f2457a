// Package metrics exposes station process values and control-loop activity
// as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the station's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	outletPressure prometheus.Gauge
	inletPressure  prometheus.Gauge
	targetPressure prometheus.Gauge
	speed          prometheus.Gauge
	running        prometheus.Gauge
	faultyDrives   prometheus.Gauge
	antiDrip       prometheus.Gauge

	starts      prometheus.Counter
	stops       *prometheus.CounterVec
	commands    *prometheus.CounterVec
	ticks       prometheus.Counter
	tickLatency prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outletPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_outlet_pressure",
			Help: "Last outlet pressure reading.",
		}),
		inletPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_inlet_pressure",
			Help: "Last inlet pressure reading.",
		}),
		targetPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_outlet_pressure_target",
			Help: "Outlet pressure setpoint.",
		}),
		speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_speed_setpoint",
			Help: "Velocity setpoint commanded to the drives.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_running",
			Help: "1 while the fleet is commanded to operation enabled.",
		}),
		faultyDrives: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_faulty_drives",
			Help: "Number of drives reporting a latched fault.",
		}),
		antiDrip: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pumpctl_anti_drip_active",
			Help: "1 while the anti-drip lock is set.",
		}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpctl_starts_total",
			Help: "Fleet transitions to operation enabled.",
		}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpctl_stops_total",
			Help: "Fleet stops by reason.",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pumpctl_commands_total",
			Help: "Operator commands handled by the control loop.",
		}, []string{"command"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pumpctl_ticks_total",
			Help: "Periodic control ticks completed.",
		}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pumpctl_tick_duration_seconds",
			Help:    "Wall time of one periodic control tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.outletPressure, m.inletPressure, m.targetPressure, m.speed, m.running,
		m.faultyDrives, m.antiDrip, m.starts, m.stops, m.commands, m.ticks, m.tickLatency,
	)
	return m
}

// SetPressures records readings. Nil readings leave the gauge unchanged.
func (m *Metrics) SetPressures(outlet, inlet *float64, target float64) {
	if m == nil {
		return
	}
	if outlet != nil {
		m.outletPressure.Set(*outlet)
	}
	if inlet != nil {
		m.inletPressure.Set(*inlet)
	}
	m.targetPressure.Set(target)
}

// SetFleet records the fleet's commanded state.
func (m *Metrics) SetFleet(running bool, speed, faulty int) {
	if m == nil {
		return
	}
	m.running.Set(boolGauge(running))
	m.speed.Set(float64(speed))
	m.faultyDrives.Set(float64(faulty))
}

func (m *Metrics) SetAntiDrip(active bool) {
	if m == nil {
		return
	}
	m.antiDrip.Set(boolGauge(active))
}

func (m *Metrics) Start() {
	if m == nil {
		return
	}
	m.starts.Inc()
}

func (m *Metrics) Stop(reason string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(reason).Inc()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

// Tick records one completed tick that took seconds.
func (m *Metrics) Tick(seconds float64) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickLatency.Observe(seconds)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
