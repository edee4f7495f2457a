package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/sweeney/pump-controller/internal/command"
	"github.com/sweeney/pump-controller/internal/status"
	"github.com/sweeney/pump-controller/internal/store"
)

// Telemetry encodings.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Replies other than the command results.
const (
	ReplyError   = "ERROR"
	ReplyInvalid = string(command.Invalid)
	ReplyOK      = string(command.OK)
)

// Config configures a Link.
type Config struct {
	Station           string
	Prefix            string
	Encoding          string
	TelemetryInterval time.Duration // 0 disables telemetry
	CommandTimeout    time.Duration
	OutboxSize        int
}

// Submitter passes commands to the control loop.
type Submitter interface {
	Submit(ctx context.Context, cmd command.Command) (command.Response, error)
}

// CounterResetter zeroes a service-hour counter.
type CounterResetter interface {
	Reset(ctx context.Context, name string) error
}

// Link serves the supervisor's commands and publishes station state.
type Link struct {
	client   Client
	cfg      Config
	loop     Submitter
	counters CounterResetter
	st       store.Store
	tracker  *status.Tracker
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex // serializes publishes and guards outbox
	outbox *outbox
}

// NewLink creates a Link. Call Start to subscribe to commands.
func NewLink(client Client, cfg Config, loop Submitter, counters CounterResetter, st store.Store, tracker *status.Tracker, logger zerolog.Logger) *Link {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 100
	}
	return &Link{
		client:   client,
		cfg:      cfg,
		loop:     loop,
		counters: counters,
		st:       st,
		tracker:  tracker,
		log:      logger.With().Str("component", "supervisor").Logger(),
		now:      time.Now,
		outbox:   newOutbox(cfg.OutboxSize),
	}
}

func (l *Link) CommandTopic() string   { return l.cfg.Prefix + "/cmd" }
func (l *Link) ReplyTopic() string     { return l.cfg.Prefix + "/reply" }
func (l *Link) EventTopic() string     { return l.cfg.Prefix + "/event" }
func (l *Link) TelemetryTopic() string { return l.cfg.Prefix + "/telemetry" }

// WillPayload is the retained event the broker publishes if the station
// drops off without saying goodbye.
func WillPayload(station string) []byte {
	data, _ := json.Marshal(status.StatusJSON{Status: status.StatusInner{
		Event:        "OFFLINE",
		Station:      station,
		NetworkState: "UNKNOWN",
		Drives:       []status.DriveJSON{},
		Process:      command.Info{Alarms: []int{}},
	}})
	return data
}

// Start subscribes to the command topic. Commands are served with ctx.
// Connected must be called whenever the client connects.
func (l *Link) Start(ctx context.Context) error {
	err := l.client.Subscribe(l.CommandTopic(), 1, func(_ string, payload []byte) {
		reply := l.HandleCommand(ctx, string(payload))
		l.publish(l.ReplyTopic(), 1, false, []byte(reply))
	})
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

// Connected identifies the station and sends anything held while offline.
func (l *Link) Connected() {
	l.tracker.SetSupervisorConnected(true)
	l.log.Info().Str("station", l.cfg.Station).Msg("supervisor connected")
	l.publishEvent("ONLINE", "")
	l.flush()
}

// Disconnected records a lost connection.
func (l *Link) Disconnected(err error) {
	l.tracker.SetSupervisorConnected(false)
	l.log.Warn().Err(err).Msg("supervisor connection lost")
}

// Run publishes telemetry until ctx is done, then announces shutdown.
func (l *Link) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if l.cfg.TelemetryInterval > 0 {
		t := time.NewTicker(l.cfg.TelemetryInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			l.publishEvent("SHUTDOWN", shutdownReason(ctx))
			return nil
		case <-tick:
			if err := l.PublishTelemetry(); err != nil {
				l.log.Error().Err(err).Msg("telemetry")
			}
		}
	}
}

// HandleCommand executes one supervisor command and returns the reply.
func (l *Link) HandleCommand(ctx context.Context, line string) string {
	line = strings.TrimSpace(line)
	l.log.Info().Str("cmd", line).Msg("supervisor command")

	switch line {
	case "RESET_TL", "RESET_BK", "RESET_RB":
		if err := l.counters.Reset(ctx, strings.TrimPrefix(line, "RESET_")); err != nil {
			l.log.Error().Err(err).Str("cmd", line).Msg("counter reset failed")
			return ReplyError
		}
		return ReplyOK
	case "CLEAR_ANTI_DRIP":
		if err := store.SetBool(ctx, l.st, store.KeyAntiDripActive, false); err != nil {
			l.log.Error().Err(err).Msg("anti-drip clear failed")
			return ReplyError
		}
		return ReplyOK
	}

	cmd, err := command.Parse(line)
	if err != nil {
		l.log.Warn().Err(err).Msg("rejected command")
		return ReplyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.CommandTimeout)
	defer cancel()
	resp, err := l.loop.Submit(ctx, cmd)
	if err != nil {
		l.log.Error().Err(err).Stringer("cmd", cmd).Msg("command failed")
		return ReplyError
	}
	if cmd.Kind == command.GetInfo && resp.Info != nil {
		return l.infoReply(ctx, *resp.Info)
	}
	return string(resp.Result)
}

// infoReply returns the fields changed since the last stored snapshot and
// stores the new one, or NU if nothing changed.
func (l *Link) infoReply(ctx context.Context, info command.Info) string {
	prev, err := l.st.LastDataRow(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("load last snapshot")
		return ReplyError
	}
	changed := diffInfo(prev, info)
	if len(changed) == 0 {
		return noUpdate
	}
	if err := l.st.InsertDataRow(ctx, rowFromInfo(info, l.now())); err != nil {
		l.log.Error().Err(err).Msg("store snapshot")
		return ReplyError
	}
	data, err := json.Marshal(changed)
	if err != nil {
		return ReplyError
	}
	return string(data)
}

// PublishTelemetry sends the current status snapshot.
func (l *Link) PublishTelemetry() error {
	payload, err := l.encode(status.Build(l.tracker.Snapshot()))
	if err != nil {
		return fmt.Errorf("supervisor: encode telemetry: %w", err)
	}
	l.publish(l.TelemetryTopic(), 0, false, payload)
	return nil
}

func (l *Link) encode(v any) ([]byte, error) {
	if l.cfg.Encoding == EncodingCBOR {
		return cbor.Marshal(v)
	}
	return json.Marshal(v)
}

// shutdownReason is the error that cancelled ctx, or empty for a plain
// cancellation.
func shutdownReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return ""
	}
	return cause.Error()
}

func (l *Link) publishEvent(event, reason string) {
	payload := status.FormatStatusEvent(l.tracker.Snapshot(), event, reason)
	l.publish(l.EventTopic(), 1, true, payload)
}

// publish sends a message, or holds it in the outbox while offline.
func (l *Link) publish(topic string, qos byte, retained bool, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := message{topic: topic, payload: payload, qos: qos, retained: retained}
	if !l.client.IsConnected() {
		l.hold(m)
		return
	}
	if err := l.client.Publish(topic, qos, retained, payload); err != nil {
		l.log.Warn().Err(err).Str("topic", topic).Msg("publish failed, holding message")
		l.hold(m)
	}
}

func (l *Link) hold(m message) {
	if l.outbox.push(m) {
		l.log.Warn().Int("held", l.outbox.len()).Msg("outbox full, dropping oldest message")
	}
}

// flush sends held messages in order. On a failure the rest stay held.
func (l *Link) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs, dropped := l.outbox.drain()
	if len(msgs) == 0 {
		return
	}
	l.log.Info().Int("messages", len(msgs)).Int("dropped", dropped).Msg("sending held messages")
	for i, m := range msgs {
		if err := l.client.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			l.log.Warn().Err(err).Msg("flush interrupted")
			for _, rest := range msgs[i:] {
				l.outbox.push(rest)
			}
			return
		}
	}
}
