package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"RUN", Command{Kind: Run}},
		{"STOP\n", Command{Kind: Stop}},
		{" GET_INFO", Command{Kind: GetInfo}},
		{"SET_PRESSURE_TARGET:12", Command{Kind: SetPressureTarget, Target: 12}},
		{"SET_PRESSURE_TARGET: 15", Command{Kind: SetPressureTarget, Target: 15}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q): got %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "run", "START", "SET_PRESSURE_TARGET", "SET_PRESSURE_TARGET:abc", "SET_PRESSURE_TARGET:1.5", "SET_PRESSURE_TARGET:0", "SET_PRESSURE_TARGET: -3", "FOO:1"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): got %v, want ErrInvalid", in, err)
		}
	}
}

func TestCommandString(t *testing.T) {
	if got := (Command{Kind: SetPressureTarget, Target: 9}).String(); got != "SET_PRESSURE_TARGET:9" {
		t.Errorf("got %q", got)
	}
	if got := (Command{Kind: Stop}).String(); got != "STOP" {
		t.Errorf("got %q", got)
	}
}

func TestInfoJSONNulls(t *testing.T) {
	b, err := json.Marshal(Info{OutletPressureTarget: 12})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(b, &m)

	if v, ok := m["inlet_pressure"]; !ok || v != nil {
		t.Errorf("inlet_pressure: got %v (present %v), want null", v, ok)
	}
	if m["outlet_pressure_target"] != 12.0 {
		t.Errorf("outlet_pressure_target: got %v", m["outlet_pressure_target"])
	}
	if len(m) != 13 {
		t.Errorf("field count: got %d, want 13", len(m))
	}
}

func TestChannelRoundTrip(t *testing.T) {
	ch := NewChannel(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		req := <-ch.Requests()
		if req.Cmd.Kind != Run {
			req.Reply(Response{Result: Invalid})
			return
		}
		req.Reply(Response{Result: OK})
	}()

	resp, err := ch.Submit(ctx, Command{Kind: Run})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result != OK {
		t.Errorf("Result: got %s, want OK", resp.Result)
	}
}

func TestChannelSubmitCancelled(t *testing.T) {
	ch := NewChannel(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ch.Submit(ctx, Command{Kind: Stop}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestReplyNeverBlocks(t *testing.T) {
	req := Request{Cmd: Command{Kind: Stop}, reply: make(chan Response, 1)}
	req.Reply(Response{Result: OK})
	req.Reply(Response{Result: OK})
}

func TestSubmitReturnsLoopError(t *testing.T) {
	ch := NewChannel(1)
	boom := errors.New("bus off")
	go func() {
		req := <-ch.Requests()
		req.Reply(Response{Err: boom})
	}()

	if _, err := ch.Submit(context.Background(), Command{Kind: Stop}); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}
