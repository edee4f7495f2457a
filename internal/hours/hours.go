// Package hours accumulates pump service time and locks the station when a
// service interval is due.
//
// Each counter (TL, BK, RB) advances once per second while the pumps run and
// sets its lock flag when its hour limit is reached. The lock stays until an
// operator resets the counter.
package hours

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/pump-controller/internal/logic"
	"github.com/sweeney/pump-controller/internal/store"
)

// Counter is one service-hour accumulator.
type Counter struct {
	Name       string
	Hours      int
	Minutes    int
	Seconds    int
	LimitHours int // 0 disables the counter
	Locked     bool
}

// Advance adds one second, carrying into minutes and hours.
// Counters at or past their limit do not advance.
// Returns true when the counter locks on this second.
func (c *Counter) Advance() bool {
	if c.LimitHours <= 0 {
		return false
	}
	if c.Hours >= c.LimitHours {
		return c.Check()
	}
	c.Seconds++
	if c.Seconds >= 60 {
		c.Seconds = 0
		c.Minutes++
	}
	if c.Minutes >= 60 {
		c.Minutes = 0
		c.Hours++
	}
	return c.Check()
}

// Check locks the counter if it has reached its limit, which also covers a
// limit lowered below the hours already run. Returns true when it locks now.
func (c *Counter) Check() bool {
	if c.LimitHours <= 0 || c.Hours < c.LimitHours || c.Locked {
		return false
	}
	c.Locked = true
	return true
}

// Load reads counter name from st. Missing keys read as zero.
func Load(ctx context.Context, st store.Store, name string) (Counter, error) {
	k := store.Counter(name)
	c := Counter{Name: name}
	var err error
	if c.Hours, err = store.GetIntDefault(ctx, st, k.Hours, 0); err != nil {
		return c, err
	}
	if c.Minutes, err = store.GetIntDefault(ctx, st, k.Minutes, 0); err != nil {
		return c, err
	}
	if c.Seconds, err = store.GetIntDefault(ctx, st, k.Seconds, 0); err != nil {
		return c, err
	}
	if c.LimitHours, err = store.GetIntDefault(ctx, st, k.Limit, 0); err != nil {
		return c, err
	}
	if c.Locked, err = store.GetBoolDefault(ctx, st, k.Locked, false); err != nil {
		return c, err
	}
	return c, nil
}

func (c Counter) values() map[string]string {
	k := store.Counter(c.Name)
	return map[string]string{
		k.Hours:   store.FormatInt(c.Hours),
		k.Minutes: store.FormatInt(c.Minutes),
		k.Seconds: store.FormatInt(c.Seconds),
		k.Locked:  store.FormatBool(c.Locked),
	}
}

// ReadLocks reads the lock flag of every counter.
func ReadLocks(ctx context.Context, st store.Store) (logic.ServiceLocks, error) {
	var l logic.ServiceLocks
	var err error
	if l.TL, err = store.GetBoolDefault(ctx, st, store.Counter(store.CounterTL).Locked, false); err != nil {
		return l, err
	}
	if l.BK, err = store.GetBoolDefault(ctx, st, store.Counter(store.CounterBK).Locked, false); err != nil {
		return l, err
	}
	if l.RB, err = store.GetBoolDefault(ctx, st, store.Counter(store.CounterRB).Locked, false); err != nil {
		return l, err
	}
	return l, nil
}

// Ticker advances the counters while the persisted pump-running flag is set.
type Ticker struct {
	st       store.Store
	log      zerolog.Logger
	interval time.Duration

	// mu serializes ticks with resets so a reset is never overwritten by a
	// tick that loaded the old value.
	mu sync.Mutex
}

// NewTicker creates a Ticker that advances once per interval.
func NewTicker(st store.Store, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		st:       st,
		log:      logger.With().Str("component", "hours").Logger(),
		interval: interval,
	}
}

// Run ticks until ctx is done or a store error occurs.
func (t *Ticker) Run(ctx context.Context) error {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := t.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick advances every counter by one second if the pumps are running, and
// locks any counter already at or past its limit whether or not they are.
func (t *Ticker) Tick(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	running, err := store.GetBoolDefault(ctx, t.st, store.KeyPumpRunning, false)
	if err != nil {
		return fmt.Errorf("hours: %w", err)
	}

	kv := make(map[string]string)
	for _, name := range store.Counters {
		c, err := Load(ctx, t.st, name)
		if err != nil {
			return fmt.Errorf("hours: load %s: %w", name, err)
		}
		if c.LimitHours <= 0 {
			continue
		}
		var locked bool
		if running {
			locked = c.Advance()
		} else if locked = c.Check(); !locked {
			continue
		}
		if locked {
			t.log.Warn().Str("counter", name).Int("hours", c.Hours).Int("limit", c.LimitHours).Msg("service interval reached, station locked")
		}
		for k, v := range c.values() {
			kv[k] = v
		}
	}
	if len(kv) == 0 {
		return nil
	}
	if err := t.st.SetMany(ctx, kv); err != nil {
		return fmt.Errorf("hours: save: %w", err)
	}
	return nil
}

// Reset zeroes counter name and clears its lock.
func (t *Ticker) Reset(ctx context.Context, name string) error {
	switch name {
	case store.CounterTL, store.CounterBK, store.CounterRB:
	default:
		return fmt.Errorf("hours: unknown counter %q", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c := Counter{Name: name}
	if err := t.st.SetMany(ctx, c.values()); err != nil {
		return fmt.Errorf("hours: reset %s: %w", name, err)
	}
	t.log.Info().Str("counter", name).Msg("service counter reset")
	return nil
}
