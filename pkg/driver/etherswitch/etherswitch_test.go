package etherswitch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/newtron-network/extport/internal/testutil"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/util"
)

const swAddr = "10.0.0.2"

func newTestDriver(t *testing.T, sw *testutil.FakeSwitch, identifier string, index int) (*Driver, *testutil.Dialer) {
	t.Helper()
	dialer := testutil.NewDialer()
	dialer.Add(swAddr, sw)
	d, err := New(driver.Params{
		LocalAddress:  "192.168.1.10",
		RemoteAddress: swAddr,
		Identifier:    identifier,
		Technology:    "gre",
		Index:         index,
	}, driver.Env{Dialer: dialer})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d.(*Driver), dialer
}

func TestAttachDetachRoundTrip(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	before := sw.Snapshot()
	d, dialer := newTestDriver(t, sw, "usr=admin;pwd=cisco;port=3;", 5)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if sw.VLANs[15] != "AP0015" {
		t.Errorf("VLAN 15 = %q, want AP0015", sw.VLANs[15])
	}
	tunnel := sw.Interfaces["Tunnel15"]
	for _, st := range []string{"tunnel key 5", "tunnel source Vlan1", "tunnel destination 192.168.1.10", "bridge-group 15"} {
		if !tunnel[st] {
			t.Errorf("Tunnel15 missing %q", st)
		}
	}
	if !sw.Global["bridge 15 protocol ieee"] {
		t.Error("bridge group 15 not created")
	}
	if !sw.Interfaces["FastEthernet0/3"]["switchport access vlan 15"] {
		t.Error("access port not assigned to VLAN 15")
	}

	if err := d.Detach(context.Background()); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if after := sw.Snapshot(); after != before {
		t.Errorf("configuration after detach differs:\n--- before\n%s\n--- after\n%s", before, after)
	}
	if dialer.Opens() != 2 || dialer.Leaked() != 0 {
		t.Errorf("opens = %d leaked = %d, want 2 and 0", dialer.Opens(), dialer.Leaked())
	}
}

func TestCommandsSentInOrder(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	d, _ := newTestDriver(t, sw, "usr=admin;pwd=cisco;port=3;", 0)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got, want := sw.Commands(), d.AttachCommands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v\nwant %v", got, want)
	}
}

func TestDerivedIdentifiers(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	d, _ := newTestDriver(t, sw, "usr=a;pwd=b;port=1;iface=GigabitEthernet1/;", 37)
	if d.Tag() != 47 {
		t.Errorf("Tag() = %d, want 47", d.Tag())
	}
	cmds := strings.Join(d.AttachCommands(), "\n")
	for _, want := range []string{"vlan 47 name AP0047", "tunnel key 37", "interface GigabitEthernet1/1"} {
		if !strings.Contains(cmds, want) {
			t.Errorf("attach commands missing %q", want)
		}
	}
}

func TestNewRejectsBadIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		technology string
		key        string
	}{
		{name: "missing pwd", identifier: "usr=a;port=1;", key: KeyPassword},
		{name: "missing port", identifier: "usr=a;pwd=b;", key: KeyPort},
		{name: "bad port", identifier: "usr=a;pwd=b;port=x;", key: KeyPort},
		{name: "unsupported comm", identifier: "usr=a;pwd=b;port=1;comm=ssh;", key: KeyComm},
		{name: "unsupported technology", identifier: "usr=a;pwd=b;port=1;", technology: "vxlan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := testutil.NewDialer()
			dialer.Add(swAddr, testutil.NewFakeSwitch("b", 1))
			_, err := New(driver.Params{RemoteAddress: swAddr, Identifier: tt.identifier, Technology: tt.technology}, driver.Env{Dialer: dialer})
			if !errors.Is(err, util.ErrConfiguration) {
				t.Fatalf("New() error = %v, want ErrConfiguration", err)
			}
			var ce *util.ConfigError
			if tt.key != "" && (!errors.As(err, &ce) || ce.Key != tt.key) {
				t.Errorf("New() error = %v, want key %q", err, tt.key)
			}
			if dialer.Opens() != 0 {
				t.Error("session opened for invalid identifier")
			}
		})
	}
}

func TestAttachCommandRejected(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	sw.FailOn["tunnel key 5"] = "% Invalid input detected at '^' marker."
	d, dialer := newTestDriver(t, sw, "usr=admin;pwd=cisco;port=3;", 5)

	err := d.Attach(context.Background())
	if !errors.Is(err, util.ErrDriver) {
		t.Fatalf("Attach() error = %v, want ErrDriver", err)
	}
	var se *util.StepError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T", err)
	}
	if se.Driver != Name || se.Step != util.StepCommand || se.Index != 8 || se.Command != "tunnel key 5" {
		t.Errorf("StepError = %+v", se)
	}
	if !strings.HasPrefix(se.LastResponse, "% Invalid input") {
		t.Errorf("LastResponse = %q", se.LastResponse)
	}
	if n := len(sw.Commands()); n != 9 {
		t.Errorf("%d commands sent, want 9 (stop at the rejected one)", n)
	}
	if dialer.Leaked() != 0 {
		t.Error("session not closed after failure")
	}
}

func TestAttachTimeout(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	sw.HangOn["configure terminal"] = true
	d, dialer := newTestDriver(t, sw, "usr=admin;pwd=cisco;port=3;", 5)

	err := d.Attach(context.Background())
	if !errors.Is(err, util.ErrTimeout) {
		t.Fatalf("Attach() error = %v, want ErrTimeout", err)
	}
	if dialer.Leaked() != 0 {
		t.Error("session not closed after timeout")
	}
}

func TestAttachAuthRejected(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	d, _ := newTestDriver(t, sw, "usr=admin;pwd=wrong;port=3;", 5)

	err := d.Attach(context.Background())
	if !errors.Is(err, util.ErrConnection) {
		t.Fatalf("Attach() error = %v, want ErrConnection", err)
	}
	var se *util.StepError
	if !errors.As(err, &se) || se.Step != util.StepOpen {
		t.Errorf("error = %v, want open step", err)
	}
	if len(sw.Commands()) != 0 {
		t.Error("commands sent without a session")
	}
}

func TestRegister(t *testing.T) {
	reg := driver.NewRegistry()
	Register(reg)
	if _, ok := reg.Resolve(Name); !ok {
		t.Errorf("Resolve(%q) not found", Name)
	}
}
