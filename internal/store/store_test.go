package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore(map[string]string{
		"flag":  "1",
		"count": "42",
		"ratio": "12.5",
		"when":  "1767268800",
		"never": "0",
		"bad":   "x",
	})

	if b, err := GetBool(ctx, s, "flag"); err != nil || !b {
		t.Errorf("GetBool: got %v, %v", b, err)
	}
	if n, err := GetInt(ctx, s, "count"); err != nil || n != 42 {
		t.Errorf("GetInt: got %v, %v", n, err)
	}
	if f, err := GetFloat(ctx, s, "ratio"); err != nil || f != 12.5 {
		t.Errorf("GetFloat: got %v, %v", f, err)
	}

	want := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if tm, err := GetTime(ctx, s, "when"); err != nil || !tm.Equal(want) {
		t.Errorf("GetTime: got %v, %v", tm, err)
	}
	if tm, err := GetTime(ctx, s, "never"); err != nil || !tm.IsZero() {
		t.Errorf("GetTime zero: got %v, %v", tm, err)
	}

	if _, err := GetInt(ctx, s, "bad"); err == nil {
		t.Error("GetInt: expected parse error")
	}
	if _, err := GetInt(ctx, s, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInt missing: got %v, want ErrNotFound", err)
	}
}

func TestDefaultHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore(nil)

	if b, err := GetBoolDefault(ctx, s, "x", true); err != nil || !b {
		t.Errorf("GetBoolDefault: got %v, %v", b, err)
	}
	if n, err := GetIntDefault(ctx, s, "x", 7); err != nil || n != 7 {
		t.Errorf("GetIntDefault: got %v, %v", n, err)
	}
	if f, err := GetFloatDefault(ctx, s, "x", 1.5); err != nil || f != 1.5 {
		t.Errorf("GetFloatDefault: got %v, %v", f, err)
	}

	s.GetError = errors.New("disk")
	if _, err := GetBoolDefault(ctx, s, "x", true); err == nil {
		t.Error("GetBoolDefault hid an I/O error")
	}
}

func TestFormatRoundTrip(t *testing.T) {
	if FormatBool(true) != "1" || FormatBool(false) != "0" {
		t.Error("FormatBool")
	}
	if !ParseBool("true") || ParseBool("0") || ParseBool("") {
		t.Error("ParseBool")
	}
	if got := FormatFloat(12); got != "12" {
		t.Errorf("FormatFloat(12): got %q", got)
	}
	if got := FormatTime(time.Time{}); got != "0" {
		t.Errorf("FormatTime(zero): got %q", got)
	}
}

func TestCounterKeys(t *testing.T) {
	k := Counter(CounterBK)
	if k.Hours != "bk_hours" || k.Limit != "bk_limit_hours" || k.Locked != "bk_locked" {
		t.Errorf("Counter(BK): got %+v", k)
	}
}
