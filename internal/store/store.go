// Package store persists the station's settings and data snapshots.
//
// Settings are a flat key/value table shared by the control loop, the
// service-hour ticker and the supervisor link. Snapshots are rows appended
// when the supervisor fetches changed process data.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("store: key not found")

// Store is the settings and data persistence boundary.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetMany writes all pairs atomically.
	SetMany(ctx context.Context, kv map[string]string) error

	InsertDataRow(ctx context.Context, row DataRow) error
	// LastDataRow returns the newest row, or nil if there is none.
	LastDataRow(ctx context.Context) (*DataRow, error)
}

// DataRow is one process-data snapshot.
type DataRow struct {
	ID                   int64    `db:"id"`
	InletPressure        *float64 `db:"inlet_pressure"`
	InletTemperature     *float64 `db:"inlet_temperature"`
	OutletPressure       *float64 `db:"outlet_pressure"`
	OutletPressureTarget float64  `db:"outlet_pressure_target"`
	WorkingHours         int      `db:"working_hours"`
	WorkingMinutes       int      `db:"working_minutes"`
	AntiDrip             bool     `db:"anti_drip"`
	Alarms               string   `db:"alarms"` // comma-separated faulty drive ids
	TLService            bool     `db:"tl_service"`
	BKService            bool     `db:"bk_service"`
	RBService            bool     `db:"rb_service"`
	Run                  bool     `db:"run"`
	Running              bool     `db:"running"`
	CreatedAt            int64    `db:"created_at"` // unix milliseconds
}

func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return ParseBool(v), nil
}

func SetBool(ctx context.Context, s Store, key string, b bool) error {
	return s.Set(ctx, key, FormatBool(b))
}

func GetInt(ctx context.Context, s Store, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("store: %s: %w", key, err)
	}
	return n, nil
}

func GetFloat(ctx context.Context, s Store, key string) (float64, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("store: %s: %w", key, err)
	}
	return f, nil
}

// GetTime reads a unix-seconds timestamp. "0" is the zero time.
func GetTime(ctx context.Context, s Store, key string) (time.Time, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: %s: %w", key, err)
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// GetBoolDefault is GetBool with def for a missing key.
func GetBoolDefault(ctx context.Context, s Store, key string, def bool) (bool, error) {
	b, err := GetBool(ctx, s, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return b, err
}

// GetIntDefault is GetInt with def for a missing key.
func GetIntDefault(ctx context.Context, s Store, key string, def int) (int, error) {
	n, err := GetInt(ctx, s, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return n, err
}

// GetFloatDefault is GetFloat with def for a missing key.
func GetFloatDefault(ctx context.Context, s Store, key string, def float64) (float64, error) {
	f, err := GetFloat(ctx, s, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return f, err
}

// GetTimeDefault is GetTime with the zero time for a missing key.
func GetTimeDefault(ctx context.Context, s Store, key string) (time.Time, error) {
	t, err := GetTime(ctx, s, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	return t, err
}

func ParseBool(v string) bool {
	switch v {
	case "1", "true", "TRUE", "True":
		return true
	default:
		return false
	}
}

func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func FormatInt(n int) string { return strconv.Itoa(n) }

func FormatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// FormatTime encodes t as unix seconds; the zero time is "0".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}
