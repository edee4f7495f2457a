package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/sweeney/pump-controller/internal/alarm"
	"github.com/sweeney/pump-controller/internal/command"
	"github.com/sweeney/pump-controller/internal/config"
	"github.com/sweeney/pump-controller/internal/control"
	"github.com/sweeney/pump-controller/internal/device"
	"github.com/sweeney/pump-controller/internal/device/modbusbus"
	"github.com/sweeney/pump-controller/internal/fleet"
	"github.com/sweeney/pump-controller/internal/hours"
	"github.com/sweeney/pump-controller/internal/metrics"
	"github.com/sweeney/pump-controller/internal/status"
	"github.com/sweeney/pump-controller/internal/store"
	"github.com/sweeney/pump-controller/internal/supervisor"
	"github.com/sweeney/pump-controller/internal/web"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the station controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, cfg, log.Logger); err != nil {
			log.Error().Err(err).Msg("controller stopped")
			return err
		}
		log.Info().Msg("controller stopped")
		return nil
	},
}

// seedingStore is a Store that can write defaults without overwriting.
type seedingStore interface {
	store.Store
	Seed(ctx context.Context, defaults map[string]string) error
}

// applySettings copies the configured limits and thresholds into the store,
// which stays the runtime source of truth. The pressure target is only
// seeded so a target set by the supervisor survives restarts.
func applySettings(ctx context.Context, st seedingStore, cfg *config.Config) error {
	kv := map[string]string{
		store.Counter(store.CounterTL).Limit: store.FormatInt(cfg.Limits.TLHours),
		store.Counter(store.CounterBK).Limit: store.FormatInt(cfg.Limits.BKHours),
		store.Counter(store.CounterRB).Limit: store.FormatInt(cfg.Limits.RBHours),

		store.KeyMinInlet:  store.FormatFloat(cfg.Pressure.MinInlet),
		store.KeyMaxInlet:  store.FormatFloat(cfg.Pressure.MaxInlet),
		store.KeyMaxOutlet: store.FormatFloat(cfg.Pressure.MaxOutlet),

		store.KeyAntiDripWindow:     store.FormatInt(int(cfg.AntiDrip.Window / time.Second)),
		store.KeyAntiDripMaxStarts:  store.FormatInt(cfg.AntiDrip.MaxStarts),
		store.KeyAntiDripMinEpisode: store.FormatInt(int(cfg.AntiDrip.MinEpisode / time.Second)),
	}
	if err := st.SetMany(ctx, kv); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	if err := st.Seed(ctx, map[string]string{
		store.KeyTargetPressure: store.FormatInt(cfg.Pressure.Target),
	}); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if err := applySettings(ctx, st, cfg); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// openFleet opens the bus and discovers the drives. A bus with no drives is
// not an error: the controller runs and holds the station stopped.
func openFleet(cfg *config.Config, logger zerolog.Logger) (*modbusbus.Bus, *fleet.Manager, error) {
	bus, err := modbusbus.Open(cfg.ModbusConfig())
	if err != nil {
		return nil, nil, err
	}
	fl := fleet.New(bus, cfg.FleetConfig(), logger)
	if err := fl.Discover(); err != nil {
		if !errors.Is(err, device.ErrBusScan) {
			bus.Close()
			return nil, nil, err
		}
		logger.Warn().Err(err).Msg("continuing without drives")
	}
	return bus, fl, nil
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bus, fl, err := openFleet(cfg, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tracker := status.NewTracker(time.Now(), status.Config{
		Station:  cfg.Station,
		PollMs:   cfg.Control.PollInterval.Milliseconds(),
		Gain:     cfg.Control.Gain,
		MaxSpeed: cfg.Control.MaxSpeed,
		Broker:   cfg.Supervisor.Broker,
		HTTPAddr: cfg.HTTP.Addr,
		Store:    cfg.Store.Driver,
	})

	opts := []control.Option{control.WithMetrics(m), control.WithTracker(tracker)}
	if cfg.Alarm.Line >= 0 {
		out, err := alarm.NewRealOutput(cfg.Alarm.Chip, cfg.Alarm.Line, cfg.Alarm.ActiveLow)
		if err != nil {
			return err
		}
		defer out.Close()
		opts = append(opts, control.WithAlarm(out))
	}

	loop := control.New(control.Config{
		PollInterval: cfg.Control.PollInterval,
		Gain:         cfg.Control.Gain,
		MaxSpeed:     cfg.Control.MaxSpeed,
	}, fl, st, logger, opts...)
	if err := loop.Init(ctx); err != nil {
		return err
	}

	commands := command.NewChannel(8)
	counters := hours.NewTicker(st, time.Second, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx, commands.Requests()) })
	g.Go(func() error { return counters.Run(gctx) })

	if cfg.Supervisor.Broker != "" {
		client := supervisor.NewRealClient(supervisor.DialConfig{
			Broker:      cfg.Supervisor.Broker,
			ClientID:    cfg.Supervisor.ClientID,
			WillTopic:   cfg.Supervisor.TopicPrefix + "/event",
			WillPayload: supervisor.WillPayload(cfg.Station),
		})
		defer client.Close()

		link := supervisor.NewLink(client, supervisor.Config{
			Station:           cfg.Station,
			Prefix:            cfg.Supervisor.TopicPrefix,
			Encoding:          cfg.Supervisor.Encoding,
			TelemetryInterval: cfg.Supervisor.TelemetryInterval,
		}, commands, counters, st, tracker, logger)
		client.Notify(link.Connected, link.Disconnected)
		if err := link.Start(gctx); err != nil {
			return err
		}
		if err := client.Connect(10 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("supervisor offline, retrying in background")
		}
		g.Go(func() error { return link.Run(gctx) })
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, reg)
		g.Go(func() error { return srv.Run(gctx) })
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	logger.Info().
		Str("station", cfg.Station).
		Dur("poll", cfg.Control.PollInterval).
		Int("drives", len(fl.Devices())).
		Str("broker", cfg.Supervisor.Broker).
		Msg("started")

	return g.Wait()
}
