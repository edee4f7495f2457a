package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sweeney/pump-controller/internal/alarm"
	"github.com/sweeney/pump-controller/internal/command"
	"github.com/sweeney/pump-controller/internal/device"
	"github.com/sweeney/pump-controller/internal/fleet"
	"github.com/sweeney/pump-controller/internal/logic"
	"github.com/sweeney/pump-controller/internal/metrics"
	"github.com/sweeney/pump-controller/internal/status"
	"github.com/sweeney/pump-controller/internal/store"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	regOutlet = 10
	regInlet  = 11
	regTemp   = 12
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	t       *testing.T
	bus     *device.FakeBus
	fleet   *fleet.Manager
	st      *store.FakeStore
	loop    *Loop
	clock   *fakeClock
	alarm   *alarm.FakeOutput
	tracker *status.Tracker
}

func defaultSettings() map[string]string {
	return map[string]string{
		store.KeyRunRequested:       "1",
		store.KeyTargetPressure:     "12",
		store.KeyMinInlet:           "1",
		store.KeyMaxInlet:           "100",
		store.KeyMaxOutlet:          "110",
		store.KeyAntiDripActive:     "0",
		store.KeyAntiDripWindow:     "3600",
		store.KeyAntiDripMaxStarts:  "3",
		store.KeyAntiDripMinEpisode: "30",
		"tl_limit_hours":            "4",
		"bk_limit_hours":            "1080",
		"rb_limit_hours":            "720",
	}
}

func newHarness(t *testing.T, overrides map[string]string, ids ...uint8) *harness {
	t.Helper()

	bus := device.NewFakeBus(ids...)
	fl := fleet.New(bus, fleet.Config{
		Sensors: fleet.Sensors{
			OutletPressure:   fleet.SensorPoint{Device: 0, Point: device.Point{Register: regOutlet, Words: 1}},
			InletPressure:    fleet.SensorPoint{Device: 0, Point: device.Point{Register: regInlet, Words: 1}},
			InletTemperature: fleet.SensorPoint{Device: 0, Point: device.Point{Register: regTemp, Words: 1}},
		},
	}, zerolog.Nop(), fleet.WithSleep(func(time.Duration) {}))
	if err := fl.Discover(); err != nil && !errors.Is(err, device.ErrBusScan) {
		t.Fatalf("Discover: %v", err)
	}

	settings := defaultSettings()
	for k, v := range overrides {
		settings[k] = v
	}
	st := store.NewFakeStore(settings)

	h := &harness{
		t:       t,
		bus:     bus,
		fleet:   fl,
		st:      st,
		clock:   &fakeClock{now: t0},
		alarm:   &alarm.FakeOutput{},
		tracker: status.NewTracker(t0, status.Config{}),
	}
	h.loop = New(Config{PollInterval: time.Second, Gain: 30, MaxSpeed: 3000}, fl, st, zerolog.Nop(),
		WithClock(h.clock.Now),
		WithAlarm(h.alarm),
		WithTracker(h.tracker),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	if err := h.loop.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	bus.ClearWrites()
	return h
}

// setPressures sets outlet and inlet on the first drive.
func (h *harness) setPressures(outlet, inlet uint32) {
	h.bus.SetRegister(1, regOutlet, outlet)
	h.bus.SetRegister(1, regInlet, inlet)
}

func (h *harness) tick() {
	h.t.Helper()
	if err := h.loop.Tick(context.Background()); err != nil {
		h.t.Fatalf("Tick: %v", err)
	}
}

func (h *harness) handle(cmd command.Command) command.Response {
	h.t.Helper()
	resp, err := h.loop.Handle(context.Background(), cmd)
	if err != nil {
		h.t.Fatalf("Handle(%s): %v", cmd, err)
	}
	return resp
}

func (h *harness) value(key string) string {
	v, _ := h.st.Value(key)
	return v
}

func (h *harness) info() command.Info {
	h.t.Helper()
	resp := h.handle(command.Command{Kind: command.GetInfo})
	if resp.Info == nil {
		h.t.Fatal("GET_INFO returned no info")
	}
	return *resp.Info
}

func TestTickProportional(t *testing.T) {
	h := newHarness(t, nil, 1, 2)
	h.setPressures(10, 5)

	h.tick()

	if !h.fleet.Running() {
		t.Fatal("fleet not running")
	}
	for _, id := range []uint8{1, 2} {
		if got := h.bus.Drive(id).Setpoint; got != 60 {
			t.Errorf("drive %d setpoint: got %d, want 60", id, got)
		}
	}
	if got := h.value(store.KeyPumpRunning); got != "1" {
		t.Errorf("pump_running: got %q, want %q", got, "1")
	}
	if got := h.value(store.KeyOutletPressure); got != "10" {
		t.Errorf("outlet_pressure: got %q, want %q", got, "10")
	}
	if got := h.value(store.KeyInletOK); got != "1" {
		t.Errorf("inlet_ok: got %q, want %q", got, "1")
	}
	if h.alarm.On() {
		t.Error("alarm on during normal running")
	}
}

func TestTickSpeedCapped(t *testing.T) {
	h := newHarness(t, map[string]string{store.KeyTargetPressure: "500", store.KeyMaxOutlet: "0"}, 1)
	h.setPressures(100, 5)

	h.tick()

	if got := h.fleet.Speed(); got != 3000 {
		t.Errorf("speed: got %d, want 3000", got)
	}
}

func TestTickTargetReachedStops(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)
	h.tick()

	h.setPressures(12, 5)
	h.tick()

	if h.fleet.Running() {
		t.Error("fleet still running at target")
	}
	sp := h.bus.WritesOf(device.WriteSetpointVal)
	if last := sp[len(sp)-1]; last.Value != 0 {
		t.Errorf("last setpoint: got %d, want 0", last.Value)
	}
	if got := h.value(store.KeyPumpRunning); got != "0" {
		t.Errorf("pump_running: got %q, want %q", got, "0")
	}
}

func TestTickAtTargetDoesNotStart(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(13, 5)

	h.tick()

	for _, w := range h.bus.WritesOf(device.WriteControlWord) {
		if device.ControlWord(w.Value) == device.ControlOperationEnabled {
			t.Fatalf("fleet started above target: %+v", w)
		}
	}
	if h.fleet.Speed() != 0 {
		t.Errorf("speed: got %d, want 0", h.fleet.Speed())
	}
}

func TestInletOutOfRangeStopsEveryTick(t *testing.T) {
	h := newHarness(t, nil, 1, 2)
	h.setPressures(10, 5)
	h.tick()
	h.bus.ClearWrites()

	h.setPressures(10, 0)
	h.tick()

	if h.fleet.Running() {
		t.Fatal("fleet running with inlet out of range")
	}
	if n := len(h.bus.WritesOf(device.WriteSetpointVal)); n != 0 {
		t.Errorf("interlock stop wrote %d setpoints", n)
	}
	if got := h.value(store.KeyInletOK); got != "0" {
		t.Errorf("inlet_ok: got %q, want %q", got, "0")
	}
	if !h.alarm.On() {
		t.Error("alarm not raised for inlet interlock")
	}
	if got := h.tracker.Snapshot().Reason; got != logic.ReasonInletOutOfRange {
		t.Errorf("reason: got %s, want %s", got, logic.ReasonInletOutOfRange)
	}

	// Stop is commanded again but the fleet is already stopped.
	h.bus.ClearWrites()
	h.tick()
	if n := len(h.bus.Writes); n != 0 {
		t.Errorf("repeated stop wrote %d times", n)
	}
	if h.fleet.NetworkState() != device.StateSwitchedOn {
		t.Errorf("network state: got %s", h.fleet.NetworkState())
	}
}

func TestServiceLockStops(t *testing.T) {
	h := newHarness(t, map[string]string{"bk_locked": "1"}, 1)
	h.setPressures(10, 5)

	h.tick()

	if h.fleet.Running() {
		t.Fatal("fleet running with a service lock")
	}
	if got := h.tracker.Snapshot().Reason; got != logic.ReasonServiceLimit {
		t.Errorf("reason: got %s, want %s", got, logic.ReasonServiceLimit)
	}
	info := h.info()
	if !info.BKService || info.TLService {
		t.Errorf("service flags: got TL=%v BK=%v", info.TLService, info.BKService)
	}
	if !h.alarm.On() {
		t.Error("alarm not raised for service lock")
	}
}

func TestOperatorStopHasNoAlarm(t *testing.T) {
	h := newHarness(t, map[string]string{store.KeyRunRequested: "0"}, 1)
	h.setPressures(10, 5)

	h.tick()

	if h.fleet.Running() {
		t.Error("fleet running without operator RUN")
	}
	if h.alarm.On() {
		t.Error("alarm raised for operator stop")
	}
}

func TestOverPressureStops(t *testing.T) {
	h := newHarness(t, map[string]string{store.KeyTargetPressure: "200"}, 1)
	h.setPressures(111, 5)

	h.tick()

	if h.fleet.Running() {
		t.Error("fleet running above max outlet")
	}
	if got := h.tracker.Snapshot().Reason; got != logic.ReasonOutletOverPressure {
		t.Errorf("reason: got %s", got)
	}
}

func TestAntiDripTripsAndClears(t *testing.T) {
	h := newHarness(t, nil, 1)

	for i := 0; i < 3; i++ {
		h.setPressures(10, 5)
		h.tick()
		if !h.fleet.Running() {
			t.Fatalf("episode %d: fleet did not start", i+1)
		}
		h.clock.Advance(30 * time.Second)
		h.tick()

		if i < 2 {
			h.setPressures(12, 5)
			h.clock.Advance(time.Second)
			h.tick()
		}
	}

	if h.fleet.Running() {
		t.Fatal("fleet still running after anti-drip trip")
	}
	if got := h.value(store.KeyAntiDripActive); got != "1" {
		t.Errorf("anti_drip_active: got %q, want %q", got, "1")
	}
	if !h.info().AntiDrip {
		t.Error("info.AntiDrip: got false")
	}
	if got := h.tracker.Snapshot().Reason; got != logic.ReasonAntiDrip {
		t.Errorf("reason: got %s, want %s", got, logic.ReasonAntiDrip)
	}

	// Still locked on the next tick.
	h.clock.Advance(time.Second)
	h.tick()
	if h.fleet.Running() {
		t.Fatal("anti-drip lock did not hold")
	}

	// Supervisor clears the flag in the store.
	h.st.Set(context.Background(), store.KeyAntiDripActive, "0")
	h.clock.Advance(time.Second)
	h.tick()
	if !h.fleet.Running() {
		t.Error("fleet did not restart after clear")
	}
	if h.info().AntiDrip {
		t.Error("info.AntiDrip still set after clear")
	}
}

func TestShortEpisodesDoNotCount(t *testing.T) {
	h := newHarness(t, nil, 1)

	for i := 0; i < 5; i++ {
		h.setPressures(10, 5)
		h.tick()
		h.clock.Advance(10 * time.Second)
		h.setPressures(12, 5)
		h.tick()
		h.clock.Advance(time.Minute)
		h.tick()
	}

	if got := h.value(store.KeyAntiDripActive); got != "0" {
		t.Errorf("anti_drip_active: got %q, want %q", got, "0")
	}
	if got := h.value(store.KeyAntiDripCount); got != "0" && got != "" {
		t.Errorf("anti_drip_count: got %q, want 0", got)
	}
}

func TestAntiDripWindowPersists(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)
	h.tick()

	if got := h.value(store.KeyAntiDripEpisodeStart); got != store.FormatTime(t0) {
		t.Fatalf("episode start: got %q, want %q", got, store.FormatTime(t0))
	}

	// A restart resumes the open episode.
	l := New(Config{PollInterval: time.Second, Gain: 30, MaxSpeed: 3000}, h.fleet, h.st, zerolog.Nop(),
		WithClock(h.clock.Now))
	if err := l.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.anti.EpisodeOpen() {
		t.Error("restored loop lost the open episode")
	}
}

func TestFaultyDriveExcluded(t *testing.T) {
	h := newHarness(t, nil, 1, 2)
	h.setPressures(10, 5)
	h.bus.SetFault(2, true)

	h.tick()

	for _, w := range h.bus.Writes {
		if w.ID == 2 {
			t.Errorf("write to faulty drive: %+v", w)
		}
	}
	if !h.fleet.Running() {
		t.Error("healthy drive not started")
	}
	info := h.info()
	if len(info.Alarms) != 1 || info.Alarms[0] != 2 {
		t.Errorf("alarms: got %v, want [2]", info.Alarms)
	}
	if !h.alarm.On() {
		t.Error("alarm not raised for faulty drive")
	}
}

func TestRunCommandResetsFaults(t *testing.T) {
	h := newHarness(t, map[string]string{store.KeyRunRequested: "0"}, 1, 2)
	h.bus.SetFault(2, true)

	resp := h.handle(command.Command{Kind: command.Run})

	if resp.Result != command.OK {
		t.Errorf("result: got %s, want OK", resp.Result)
	}
	if got := h.value(store.KeyRunRequested); got != "1" {
		t.Errorf("run_requested: got %q, want %q", got, "1")
	}
	if ids := h.fleet.FaultyIDs(); len(ids) != 0 {
		t.Errorf("faulty after RUN: %v", ids)
	}
}

func TestStopCommand(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)
	h.tick()

	resp := h.handle(command.Command{Kind: command.Stop})

	if resp.Result != command.OK {
		t.Errorf("result: got %s, want OK", resp.Result)
	}
	if h.fleet.Running() {
		t.Error("fleet running after STOP")
	}
	if got := h.value(store.KeyRunRequested); got != "0" {
		t.Errorf("run_requested: got %q, want %q", got, "0")
	}
	if got := h.value(store.KeyPumpRunning); got != "0" {
		t.Errorf("pump_running: got %q, want %q", got, "0")
	}

	h.tick()
	if h.fleet.Running() {
		t.Error("fleet restarted after STOP")
	}
}

func TestSetPressureTarget(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)

	h.handle(command.Command{Kind: command.SetPressureTarget, Target: 20})
	if got := h.value(store.KeyTargetPressure); got != "20" {
		t.Errorf("stored target: got %q, want %q", got, "20")
	}

	h.tick()
	if got := h.fleet.Speed(); got != 300 {
		t.Errorf("speed: got %d, want 300", got)
	}
	if got := h.info().OutletPressureTarget; got != 20 {
		t.Errorf("info target: got %v, want 20", got)
	}
}

func TestSetPressureTargetRejectsNonPositive(t *testing.T) {
	h := newHarness(t, nil, 1)
	before := h.value(store.KeyTargetPressure)

	for _, target := range []int{0, -4} {
		resp := h.handle(command.Command{Kind: command.SetPressureTarget, Target: target})
		if resp.Result != command.Invalid {
			t.Errorf("target %d: got %s, want %s", target, resp.Result, command.Invalid)
		}
	}
	if got := h.value(store.KeyTargetPressure); got != before {
		t.Errorf("stored target: got %q, want %q", got, before)
	}
}

func TestGetInfoFreshInstall(t *testing.T) {
	h := newHarness(t, map[string]string{store.KeyRunRequested: "0"})

	info := h.info()

	if info.OutletPressureTarget != 12 {
		t.Errorf("target: got %v, want 12", info.OutletPressureTarget)
	}
	if info.AntiDrip {
		t.Error("anti_drip: got true")
	}
	if info.Alarms == nil || len(info.Alarms) != 0 {
		t.Errorf("alarms: got %v, want []", info.Alarms)
	}
	if info.OutletPressure != nil || info.InletPressure != nil || info.InletTemperature != nil {
		t.Error("pressures should be null without drives")
	}
	if info.Running {
		t.Error("running: got true")
	}
}

func TestNoDrivesHoldsStopped(t *testing.T) {
	h := newHarness(t, nil)

	h.tick()

	if got := h.tracker.Snapshot().Reason; got != logic.ReasonNoInletData {
		t.Errorf("reason: got %s, want %s", got, logic.ReasonNoInletData)
	}
	if got := h.value(store.KeyInletOK); got != "0" {
		t.Errorf("inlet_ok: got %q, want %q", got, "0")
	}
}

func TestRunningMatchesNetworkState(t *testing.T) {
	h := newHarness(t, nil, 1)
	check := func(step string) {
		t.Helper()
		want := h.fleet.NetworkState() == device.StateOperationEnabled
		if got := h.info().Running; got != want {
			t.Errorf("%s: running %v, network state %s", step, got, h.fleet.NetworkState())
		}
	}

	check("initial")
	h.setPressures(10, 5)
	h.tick()
	check("after start")
	h.handle(command.Command{Kind: command.Stop})
	check("after stop")
	h.handle(command.Command{Kind: command.Run})
	h.tick()
	check("after restart")
	h.setPressures(10, 0)
	h.tick()
	check("after interlock")
}

func TestTickStoreErrorIsFatal(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)
	h.st.SetError = errors.New("disk full")

	if err := h.loop.Tick(context.Background()); err == nil {
		t.Error("Tick: expected error")
	}
}

func TestTickBusErrorIsFatal(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.bus.ReadError = errors.New("bus off")

	if err := h.loop.Tick(context.Background()); err == nil {
		t.Error("Tick: expected error")
	}
}

func TestRunServesCommandBeforeTick(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)

	ticks := make(chan time.Time, 1)
	h.loop.after = func(time.Duration) <-chan time.Time { return ticks }
	ch := command.NewChannel(1)

	submitted := make(chan error, 1)
	go func() {
		_, err := ch.Submit(context.Background(), command.Command{Kind: command.SetPressureTarget, Target: 20})
		submitted <- err
	}()
	for len(ch.Requests()) == 0 {
		time.Sleep(time.Millisecond)
	}
	ticks <- t0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx, ch.Requests()) }()

	if err := <-submitted; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ticks <- t0.Add(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.bus.WritesOf(device.WriteSetpointVal)) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sp := h.bus.WritesOf(device.WriteSetpointVal)
	if len(sp) == 0 {
		t.Fatal("no tick ran")
	}
	for _, w := range sp {
		if w.Value != 300 {
			t.Errorf("tick ran with the old target: setpoint %d", w.Value)
		}
	}
}

func TestRunFatalCommandReplies(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.st.SetError = errors.New("read-only database")
	h.loop.after = func(time.Duration) <-chan time.Time { return nil }
	ch := command.NewChannel(1)

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(context.Background(), ch.Requests()) }()

	if _, err := ch.Submit(context.Background(), command.Command{Kind: command.Run}); err == nil {
		t.Error("Submit: expected the loop's error")
	}
	if err := <-done; err == nil {
		t.Error("Run: expected error")
	}
}

func TestRunShutdownStopsFleet(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.setPressures(10, 5)
	h.tick()

	h.loop.after = func(time.Duration) <-chan time.Time { return nil }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.loop.Run(ctx, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.fleet.Running() {
		t.Error("fleet running after shutdown")
	}
	if got := h.value(store.KeyPumpRunning); got != "0" {
		t.Errorf("pump_running: got %q, want %q", got, "0")
	}
}
