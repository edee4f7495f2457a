// Package control runs the station's control loop.
//
// The loop serves one operator command or one periodic tick at a time. A
// pending command always runs before the next periodic tick. The periodic
// tick applies anti-drip bookkeeping, reads the service locks and the
// pressures, applies the interlocks and drives the fleet with a proportional
// speed law. Bus and store failures end the loop.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/pump-controller/internal/alarm"
	"github.com/sweeney/pump-controller/internal/command"
	"github.com/sweeney/pump-controller/internal/device"
	"github.com/sweeney/pump-controller/internal/fleet"
	"github.com/sweeney/pump-controller/internal/hours"
	"github.com/sweeney/pump-controller/internal/logic"
	"github.com/sweeney/pump-controller/internal/metrics"
	"github.com/sweeney/pump-controller/internal/status"
	"github.com/sweeney/pump-controller/internal/store"
)

// Fleet is the drive fleet as the loop uses it.
type Fleet interface {
	Poll() error
	ResetFaults() error
	RunAll() error
	StopAll() error
	SetSpeed(rpm int) error
	Running() bool
	Speed() int
	NetworkState() device.State
	FaultyIDs() []uint8
	Devices() []device.Device
	ReadOutletPressure() (float64, error)
	ReadInletPressure() (float64, error)
	ReadInletTemperature() (float64, error)
}

// Config holds the loop's fixed parameters.
type Config struct {
	PollInterval time.Duration
	Gain         float64
	MaxSpeed     int
}

// Values used when a setting is missing from the store.
const (
	DefaultTarget     = 12
	DefaultMinInlet   = 0
	DefaultMaxInlet   = 100
	DefaultWindow     = 3600 * time.Second
	DefaultMaxStarts  = 20
	DefaultMinEpisode = 30 * time.Second
)

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithTimer replaces time.After for the periodic tick.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(l *Loop) { l.after = after }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithTracker(t *status.Tracker) Option {
	return func(l *Loop) { l.tracker = t }
}

// WithAlarm drives out while an interlock holds or a drive is faulty.
func WithAlarm(out alarm.Output) Option {
	return func(l *Loop) { l.alarm = out }
}

// Loop is the control loop. Only Run's goroutine may call its methods.
type Loop struct {
	cfg   Config
	fleet Fleet
	st    store.Store
	log   zerolog.Logger
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	metrics *metrics.Metrics
	tracker *status.Tracker
	alarm   alarm.Output

	runRequested bool
	target       float64
	minInlet     float64
	maxInlet     float64
	maxOutlet    float64

	anti      *logic.AntiCycle
	persisted logic.Window
	reason    logic.StopReason
	alarmOn   bool
	alarmSet  bool
}

// New creates a Loop. Call Init before Run.
func New(cfg Config, fl Fleet, st store.Store, logger zerolog.Logger, opts ...Option) *Loop {
	l := &Loop{
		cfg:   cfg,
		fleet: fl,
		st:    st,
		log:   logger.With().Str("component", "control").Logger(),
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init loads the operator settings and the anti-drip window from the store.
func (l *Loop) Init(ctx context.Context) error {
	var err error
	if l.runRequested, err = store.GetBoolDefault(ctx, l.st, store.KeyRunRequested, false); err != nil {
		return fmt.Errorf("control: init: %w", err)
	}
	if l.target, err = store.GetFloatDefault(ctx, l.st, store.KeyTargetPressure, DefaultTarget); err != nil {
		return fmt.Errorf("control: init: %w", err)
	}
	if l.minInlet, err = store.GetFloatDefault(ctx, l.st, store.KeyMinInlet, DefaultMinInlet); err != nil {
		return fmt.Errorf("control: init: %w", err)
	}
	if l.maxInlet, err = store.GetFloatDefault(ctx, l.st, store.KeyMaxInlet, DefaultMaxInlet); err != nil {
		return fmt.Errorf("control: init: %w", err)
	}
	if l.maxOutlet, err = store.GetFloatDefault(ctx, l.st, store.KeyMaxOutlet, 0); err != nil {
		return fmt.Errorf("control: init: %w", err)
	}

	cfg, err := loadAntiCycleConfig(ctx, l.st)
	if err != nil {
		return fmt.Errorf("control: init: %w", err)
	}
	w, err := loadWindow(ctx, l.st)
	if err != nil {
		return fmt.Errorf("control: init: %w", err)
	}
	if w.Start.IsZero() {
		w.Start = l.now()
	}
	l.anti = logic.RestoreAntiCycle(cfg, w)
	l.persisted = w

	l.log.Info().
		Bool("run", l.runRequested).
		Float64("target", l.target).
		Float64("min_inlet", l.minInlet).
		Float64("max_inlet", l.maxInlet).
		Int("anti_drip_count", w.Count).
		Bool("anti_drip", w.Triggered).
		Msg("control loop initialised")
	return nil
}

// Run serves commands from reqs and runs periodic ticks until ctx is done or
// a fatal error occurs. On cancellation the fleet is stopped.
func (l *Loop) Run(ctx context.Context, reqs <-chan command.Request) error {
	for {
		select {
		case <-ctx.Done():
			return l.shutdown()

		case req := <-reqs:
			if err := l.serve(ctx, req); err != nil {
				return err
			}

		case <-l.after(l.cfg.PollInterval):
			// A command that arrived with the timer still goes first.
			select {
			case req := <-reqs:
				if err := l.serve(ctx, req); err != nil {
					return err
				}
				continue
			default:
			}
			if err := l.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) serve(ctx context.Context, req command.Request) error {
	resp, err := l.Handle(ctx, req.Cmd)
	if err != nil {
		resp.Err = err
		req.Reply(resp)
		return err
	}
	req.Reply(resp)
	return nil
}

func (l *Loop) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.fleet.StopAll(); err != nil {
		return fmt.Errorf("control: stop on shutdown: %w", err)
	}
	if err := store.SetBool(ctx, l.st, store.KeyPumpRunning, false); err != nil {
		return fmt.Errorf("control: stop on shutdown: %w", err)
	}
	l.log.Info().Msg("control loop stopped")
	return nil
}

// Handle executes one operator command.
func (l *Loop) Handle(ctx context.Context, cmd command.Command) (command.Response, error) {
	l.metrics.Command(cmd.Kind.String())
	l.log.Info().Stringer("cmd", cmd).Msg("command")

	switch cmd.Kind {
	case command.Run:
		l.runRequested = true
		if err := store.SetBool(ctx, l.st, store.KeyRunRequested, true); err != nil {
			return command.Response{}, fmt.Errorf("control: %w", err)
		}
		if err := l.fleet.Poll(); err != nil {
			return command.Response{}, fmt.Errorf("control: %w", err)
		}
		if err := l.fleet.ResetFaults(); err != nil {
			return command.Response{}, fmt.Errorf("control: %w", err)
		}
		return command.Response{Result: command.OK}, nil

	case command.Stop:
		l.runRequested = false
		if err := store.SetBool(ctx, l.st, store.KeyRunRequested, false); err != nil {
			return command.Response{}, fmt.Errorf("control: %w", err)
		}
		if err := l.stop(logic.ReasonOperatorStop); err != nil {
			return command.Response{}, err
		}
		kv := map[string]string{store.KeyPumpRunning: store.FormatBool(false)}
		l.addWindow(kv)
		if err := l.st.SetMany(ctx, kv); err != nil {
			return command.Response{}, fmt.Errorf("control: %w", err)
		}
		return command.Response{Result: command.OK}, nil

	case command.GetInfo:
		outlet, inlet, temperature, err := l.readPressures()
		if err != nil {
			return command.Response{}, err
		}
		info, err := l.info(ctx, outlet, inlet, temperature)
		if err != nil {
			return command.Response{}, err
		}
		return command.Response{Result: command.OK, Info: &info}, nil

	case command.SetPressureTarget:
		if cmd.Target <= 0 {
			return command.Response{Result: command.Invalid}, nil
		}
		l.target = float64(cmd.Target)
		if err := l.st.Set(ctx, store.KeyTargetPressure, store.FormatFloat(l.target)); err != nil {
			return command.Response{}, fmt.Errorf("control: %w", err)
		}
		return command.Response{Result: command.OK}, nil

	default:
		return command.Response{Result: command.Invalid}, nil
	}
}

// Tick runs one periodic phase.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()

	if err := l.fleet.Poll(); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := l.antiDrip(ctx, now); err != nil {
		return err
	}

	locks, err := hours.ReadLocks(ctx, l.st)
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	outlet, inlet, temperature, err := l.readPressures()
	if err != nil {
		return err
	}

	d := logic.Decide(logic.Inputs{
		Inlet:        inlet,
		Outlet:       outlet,
		MinInlet:     l.minInlet,
		MaxInlet:     l.maxInlet,
		MaxOutlet:    l.maxOutlet,
		Target:       l.target,
		Locks:        locks,
		AntiDrip:     l.anti.Triggered(),
		RunRequested: l.runRequested,
		Gain:         l.cfg.Gain,
		MaxSpeed:     l.cfg.MaxSpeed,
	})
	if d.Reason != l.reason {
		l.logReason(d, locks, inlet, outlet)
	}
	if err := l.apply(d, now); err != nil {
		return err
	}

	inletOK := inlet != nil && *inlet >= l.minInlet && *inlet <= l.maxInlet
	kv := map[string]string{
		store.KeyInletOK:     store.FormatBool(inletOK),
		store.KeyPumpRunning: store.FormatBool(l.fleet.Running()),
	}
	if outlet != nil {
		kv[store.KeyOutletPressure] = store.FormatFloat(*outlet)
	}
	if inlet != nil {
		kv[store.KeyInletPressure] = store.FormatFloat(*inlet)
	}
	l.addWindow(kv)
	if err := l.st.SetMany(ctx, kv); err != nil {
		return fmt.Errorf("control: %w", err)
	}

	if err := l.report(ctx, d.Reason, outlet, inlet, temperature, now); err != nil {
		return err
	}
	l.metrics.Tick(l.now().Sub(now).Seconds())
	return nil
}

// antiDrip applies an external clear, counts finished episodes, rolls the
// window and trips the lock.
func (l *Loop) antiDrip(ctx context.Context, now time.Time) error {
	active, err := store.GetBoolDefault(ctx, l.st, store.KeyAntiDripActive, false)
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if l.anti.Triggered() && !active {
		l.anti.Clear(now)
		l.log.Info().Msg("anti-drip lock cleared")
	}

	if l.anti.RecordEpisodeEnd(now) {
		l.log.Debug().Int("count", l.anti.State().Count).Msg("pump start counted")
	}
	if l.anti.RollWindow(now) {
		l.log.Debug().Msg("anti-drip window rolled")
	}
	if l.anti.CheckTrigger() {
		l.log.Warn().Int("starts", l.anti.State().Count).Msg("anti-drip lock tripped, too many pump starts")
		if err := store.SetBool(ctx, l.st, store.KeyAntiDripActive, true); err != nil {
			return fmt.Errorf("control: %w", err)
		}
	}
	return nil
}

func (l *Loop) apply(d logic.Decision, now time.Time) error {
	if d.Run {
		if !l.fleet.Running() {
			if err := l.fleet.RunAll(); err != nil {
				return fmt.Errorf("control: %w", err)
			}
			l.anti.StartEpisode(now)
			l.metrics.Start()
			l.log.Info().Float64("error", d.Error).Msg("pumps started")
		}
		if err := l.fleet.SetSpeed(d.Speed); err != nil {
			return fmt.Errorf("control: %w", err)
		}
		l.reason = logic.ReasonNone
		return nil
	}

	if d.WriteSpeed {
		if err := l.fleet.SetSpeed(d.Speed); err != nil {
			return fmt.Errorf("control: %w", err)
		}
	}
	if err := l.stop(d.Reason); err != nil {
		return err
	}
	l.reason = d.Reason
	return nil
}

// stop commands the fleet to stop and closes the running episode.
func (l *Loop) stop(reason logic.StopReason) error {
	wasRunning := l.fleet.Running()
	if err := l.fleet.StopAll(); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if wasRunning {
		l.anti.EndEpisode(l.now())
		l.metrics.Stop(string(reason))
		l.log.Info().Str("reason", string(reason)).Msg("pumps stopped")
	}
	return nil
}

func (l *Loop) logReason(d logic.Decision, locks logic.ServiceLocks, inlet, outlet *float64) {
	ev := l.log.Info()
	if d.Reason.Interlock() {
		ev = l.log.Warn()
	}
	switch d.Reason {
	case logic.ReasonNone:
		return
	case logic.ReasonServiceLimit:
		ev = ev.Str("counters", locks.String())
	case logic.ReasonInletOutOfRange:
		ev = ev.Float64("inlet", *inlet).Float64("min", l.minInlet).Float64("max", l.maxInlet)
	case logic.ReasonOutletOverPressure:
		ev = ev.Float64("outlet", *outlet).Float64("max", l.maxOutlet)
	}
	ev.Str("reason", string(d.Reason)).Msg("pumps held stopped")
}

// readPressures reads all sensors. ErrNoData yields nil values.
func (l *Loop) readPressures() (outlet, inlet, temperature *float64, err error) {
	if outlet, err = readOptional(l.fleet.ReadOutletPressure); err != nil {
		return nil, nil, nil, err
	}
	if inlet, err = readOptional(l.fleet.ReadInletPressure); err != nil {
		return nil, nil, nil, err
	}
	if temperature, err = readOptional(l.fleet.ReadInletTemperature); err != nil {
		return nil, nil, nil, err
	}
	return outlet, inlet, temperature, nil
}

func readOptional(read func() (float64, error)) (*float64, error) {
	v, err := read()
	if errors.Is(err, fleet.ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	return &v, nil
}

// info assembles the station status from readings and stored counters.
func (l *Loop) info(ctx context.Context, outlet, inlet, temperature *float64) (command.Info, error) {
	bk, err := hours.Load(ctx, l.st, store.CounterBK)
	if err != nil {
		return command.Info{}, fmt.Errorf("control: %w", err)
	}
	locks, err := hours.ReadLocks(ctx, l.st)
	if err != nil {
		return command.Info{}, fmt.Errorf("control: %w", err)
	}

	alarms := []int{}
	for _, id := range l.fleet.FaultyIDs() {
		alarms = append(alarms, int(id))
	}

	return command.Info{
		InletPressure:        inlet,
		InletTemperature:     temperature,
		OutletPressure:       outlet,
		OutletPressureTarget: l.target,
		WorkingHours:         bk.Hours,
		WorkingMinutes:       bk.Minutes,
		AntiDrip:             l.anti.Triggered(),
		Alarms:               alarms,
		TLService:            locks.TL,
		BKService:            locks.BK,
		RBService:            locks.RB,
		Run:                  l.runRequested,
		Running:              l.fleet.Running(),
	}, nil
}

// report updates the alarm relay, metrics and status tracker.
func (l *Loop) report(ctx context.Context, reason logic.StopReason, outlet, inlet, temperature *float64, now time.Time) error {
	faulty := l.fleet.FaultyIDs()
	l.setAlarm(reason.Interlock() || len(faulty) > 0)

	l.metrics.SetPressures(outlet, inlet, l.target)
	l.metrics.SetFleet(l.fleet.Running(), l.fleet.Speed(), len(faulty))
	l.metrics.SetAntiDrip(l.anti.Triggered())

	if l.tracker == nil {
		return nil
	}
	info, err := l.info(ctx, outlet, inlet, temperature)
	if err != nil {
		return err
	}
	devs := l.fleet.Devices()
	drives := make([]status.Drive, len(devs))
	for i, d := range devs {
		drives[i] = status.Drive{
			ID:       d.ID,
			State:    d.State().String(),
			Faulty:   d.Status.Fault(),
			Setpoint: int(d.Setpoint),
		}
	}
	l.tracker.Update(info, reason, l.fleet.Speed(), l.fleet.NetworkState().String(), drives, now)
	return nil
}

func (l *Loop) setAlarm(on bool) {
	if l.alarm == nil || (l.alarmSet && l.alarmOn == on) {
		return
	}
	if err := l.alarm.Set(on); err != nil {
		l.log.Error().Err(err).Bool("on", on).Msg("alarm relay")
		return
	}
	l.alarmOn = on
	l.alarmSet = true
}

// addWindow adds the anti-drip window to kv if it changed since last saved.
// The lock flag is left out: it is written when it trips and cleared by the
// supervisor.
func (l *Loop) addWindow(kv map[string]string) {
	w := l.anti.State()
	if w == l.persisted {
		return
	}
	kv[store.KeyAntiDripWindowStart] = store.FormatTime(w.Start)
	kv[store.KeyAntiDripCount] = store.FormatInt(w.Count)
	kv[store.KeyAntiDripEpisodeStart] = store.FormatTime(w.EpisodeStart)
	l.persisted = w
}

func loadAntiCycleConfig(ctx context.Context, st store.Store) (logic.AntiCycleConfig, error) {
	window, err := store.GetIntDefault(ctx, st, store.KeyAntiDripWindow, int(DefaultWindow/time.Second))
	if err != nil {
		return logic.AntiCycleConfig{}, err
	}
	maxStarts, err := store.GetIntDefault(ctx, st, store.KeyAntiDripMaxStarts, DefaultMaxStarts)
	if err != nil {
		return logic.AntiCycleConfig{}, err
	}
	minEpisode, err := store.GetIntDefault(ctx, st, store.KeyAntiDripMinEpisode, int(DefaultMinEpisode/time.Second))
	if err != nil {
		return logic.AntiCycleConfig{}, err
	}
	return logic.AntiCycleConfig{
		Window:     time.Duration(window) * time.Second,
		MaxStarts:  maxStarts,
		MinEpisode: time.Duration(minEpisode) * time.Second,
	}, nil
}

func loadWindow(ctx context.Context, st store.Store) (logic.Window, error) {
	var w logic.Window
	var err error
	if w.Start, err = store.GetTimeDefault(ctx, st, store.KeyAntiDripWindowStart); err != nil {
		return w, err
	}
	if w.Count, err = store.GetIntDefault(ctx, st, store.KeyAntiDripCount, 0); err != nil {
		return w, err
	}
	if w.EpisodeStart, err = store.GetTimeDefault(ctx, st, store.KeyAntiDripEpisodeStart); err != nil {
		return w, err
	}
	if w.Triggered, err = store.GetBoolDefault(ctx, st, store.KeyAntiDripActive, false); err != nil {
		return w, err
	}
	return w, nil
}
