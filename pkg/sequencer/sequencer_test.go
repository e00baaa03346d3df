package sequencer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

// scriptChannel answers each sent line from replies and records the order of
// sends and reads.
type scriptChannel struct {
	events   []string
	replies  map[string]string
	readErrs map[string]error
	pending  string
}

func (c *scriptChannel) Send(line string) error {
	c.events = append(c.events, "send "+line)
	c.pending = line
	return nil
}

func (c *scriptChannel) ReadUntil(marker string, timeout time.Duration) ([]byte, error) {
	c.events = append(c.events, "read")
	if err := c.readErrs[c.pending]; err != nil {
		return nil, err
	}
	if r, ok := c.replies[c.pending]; ok {
		return []byte(r), nil
	}
	return []byte(c.pending + "\r\nsw" + marker), nil
}

func (c *scriptChannel) Close() error       { return nil }
func (c *scriptChannel) RemoteAddr() string { return "10.0.0.1" }

func TestRunOrder(t *testing.T) {
	ch := &scriptChannel{}
	seq := New(IOSFramer(), time.Second)

	resp, err := seq.RunLines(context.Background(), ch, "A", "B", "C")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"send A", "read", "send B", "read", "send C", "read"}
	if !reflect.DeepEqual(ch.events, want) {
		t.Errorf("events = %v, want %v", ch.events, want)
	}
	for i, r := range resp {
		if r.Index != i || r.Command != string(rune('A'+i)) {
			t.Errorf("resp[%d] = %+v", i, r)
		}
	}
}

func TestRunContinuesAfterRejection(t *testing.T) {
	ch := &scriptChannel{replies: map[string]string{
		"B": "B\r\n% Invalid input detected at '^' marker.\r\nsw#",
	}}
	seq := New(IOSFramer(), time.Second)

	resp, err := seq.RunLines(context.Background(), ch, "A", "B", "C")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(resp) != 3 {
		t.Fatalf("len(resp) = %d, want 3", len(resp))
	}
	failed := Failures(resp)
	if len(failed) != 1 || failed[0].Command != "B" {
		t.Errorf("Failures() = %+v", failed)
	}
}

func TestRunStopOnFailure(t *testing.T) {
	ch := &scriptChannel{replies: map[string]string{
		"B": "B\r\n% Invalid input detected at '^' marker.\r\nsw#",
	}}
	seq := New(IOSFramer(), time.Second)
	seq.StopOnFailure = true

	resp, err := seq.RunLines(context.Background(), ch, "A", "B", "C")
	if !errors.Is(err, util.ErrDriver) {
		t.Fatalf("Run() error = %v, want ErrDriver", err)
	}
	var se *util.StepError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *util.StepError", err)
	}
	if se.Index != 1 || se.Command != "B" || se.Step != util.StepCommand {
		t.Errorf("StepError = %+v", se)
	}
	if !strings.HasPrefix(se.LastResponse, "% Invalid input") {
		t.Errorf("LastResponse = %q", se.LastResponse)
	}
	if len(resp) != 2 {
		t.Errorf("len(resp) = %d, want 2", len(resp))
	}
	for _, e := range ch.events {
		if e == "send C" {
			t.Error("C sent after rejection")
		}
	}
}

func TestRunReadTimeout(t *testing.T) {
	ch := &scriptChannel{
		replies: map[string]string{"B": "B\r\nok B\r\nsw#"},
		readErrs: map[string]error{
			"C": &session.ReadTimeoutError{Marker: "#", Timeout: time.Second},
		},
	}
	seq := New(IOSFramer(), time.Second)

	resp, err := seq.Run(context.Background(), ch, []Command{{Line: "A"}, {Line: "B"}, {Line: "C", Timeout: 15 * time.Second}})
	if !errors.Is(err, util.ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
	var se *util.StepError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T", err)
	}
	if se.Index != 2 || se.LastResponse != "ok B" || se.Device != "10.0.0.1" {
		t.Errorf("StepError = %+v", se)
	}
	if len(resp) != 2 {
		t.Errorf("len(resp) = %d, want 2", len(resp))
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := &scriptChannel{}

	if _, err := New(IOSFramer(), 0).RunLines(ctx, ch, "A"); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(ch.events) != 0 {
		t.Errorf("events = %v, want none", ch.events)
	}
}

func TestQuery(t *testing.T) {
	ch := &scriptChannel{replies: map[string]string{
		"uci get x": "10\nrc=0\n" + ShellMarker,
		"uci get y": "uci: Entry not found\nrc=1\n" + ShellMarker,
	}}
	// The shell framer sends the line with the status trailer appended, so
	// key replies by the first line of what was sent.
	wrapped := &firstLineChannel{ch}
	seq := New(ShellFramer{}, time.Second)

	out, err := seq.Query(context.Background(), wrapped, "uci get x")
	if err != nil || out != "10" {
		t.Errorf("Query(x) = %q, %v", out, err)
	}
	_, err = seq.Query(context.Background(), wrapped, "uci get y")
	if !errors.Is(err, util.ErrDriver) {
		t.Errorf("Query(y) error = %v, want ErrDriver", err)
	}
}

type firstLineChannel struct{ *scriptChannel }

func (c *firstLineChannel) Send(line string) error {
	first, _, _ := strings.Cut(line, "\n")
	return c.scriptChannel.Send(first)
}

func TestShellFramer(t *testing.T) {
	f := ShellFramer{}
	framed := f.Frame("uci commit")
	if strings.Contains(framed, ShellMarker) {
		t.Errorf("Frame() = %q contains the marker verbatim", framed)
	}
	if !strings.HasPrefix(framed, "uci commit\n") {
		t.Errorf("Frame() = %q", framed)
	}

	tests := []struct {
		raw  string
		out  string
		code int
	}{
		{"hello\nworld\nrc=0\n" + ShellMarker, "hello\nworld", 0},
		{"\nrc=1\n" + ShellMarker, "", 1},
		{"\r\nveth0\r\nveth1\r\nrc=0\r\n" + ShellMarker, "veth0\nveth1", 0},
		{"no status\n" + ShellMarker, "no status", -1},
	}
	for _, tt := range tests {
		out, code := f.Parse("", []byte(tt.raw))
		if out != tt.out || code != tt.code {
			t.Errorf("Parse(%q) = %q,%d want %q,%d", tt.raw, out, code, tt.out, tt.code)
		}
	}
}

func TestPromptFramerParse(t *testing.T) {
	f := IOSFramer()
	tests := []struct {
		line, raw string
		out       string
		code      int
	}{
		{"configure terminal", "configure terminal\r\nEnter configuration commands, one per line.\r\nsw(config)#",
			"Enter configuration commands, one per line.", 0},
		{"exit", "exit\r\nsw#", "", 0},
		{"vlan 5000", "vlan 5000\r\n% Invalid input detected at '^' marker.\r\nsw(vlan)#",
			"% Invalid input detected at '^' marker.", 1},
	}
	for _, tt := range tests {
		out, code := f.Parse(tt.line, []byte(tt.raw))
		if out != tt.out || code != tt.code {
			t.Errorf("Parse(%q) = %q,%d want %q,%d", tt.line, out, code, tt.out, tt.code)
		}
	}
}
