package openwrt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/extport/internal/testutil"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

const rtAddr = "10.0.0.3"

// draws replays fixed random draws.
type draws struct {
	seq []int
	i   int
}

func (d *draws) IntN(n int) int {
	v := d.seq[d.i%len(d.seq)] % n
	d.i++
	return v
}

type fixture struct {
	router *testutil.FakeRouter
	dialer *testutil.Dialer
	random *draws
}

func newFixture(draw ...int) *fixture {
	f := &fixture{
		router: testutil.NewFakeRouter("root", "secret"),
		dialer: testutil.NewDialer(),
		random: &draws{seq: draw},
	}
	f.dialer.Add(rtAddr, f.router)
	return f
}

func (f *fixture) driver(t *testing.T, identifier string, index int) *Driver {
	t.Helper()
	d, err := New(driver.Params{
		LocalAddress:  "192.168.1.10",
		RemoteAddress: rtAddr,
		Identifier:    identifier,
		Technology:    "gre",
		Index:         index,
	}, driver.Env{Dialer: f.dialer, Random: f.random})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d.(*Driver)
}

const ident = "usr=root;pwd=secret;ssid_name=guest-ap;ssid_pass=p4ssw0rd;"

func TestAttachDetachRoundTrip(t *testing.T) {
	f := newFixture(98) // tag 100
	before := f.router.Snapshot()
	d := f.driver(t, ident, 5)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	r := f.router
	checks := map[string]string{
		"network.vlan0100.ifname":             "eth0.100 veth0",
		"network.vlan0100.type":               "bridge",
		"network.@switch_vlan[-1].vlan":       "100",
		"network.@switch_vlan[-1].ports":      "5t",
		"network.@switch[0].enable_vlan4k":    "1",
		"network.@switch[0].extport_vlan4k":   "1",
		"firewall.@zone[0].network":           "lan vlan0100",
		"dhcp.vlan0100.ignore":                "1",
		"wireless.@wifi-iface[-1].ssid":       "guest-ap",
		"wireless.@wifi-iface[-1].key":        "p4ssw0rd",
		"wireless.@wifi-iface[-1].network":    "vlan0100",
		"wireless.@wifi-iface[-1].encryption": "psk2",
	}
	for path, want := range checks {
		if got, _ := r.Option(path); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
	if ports := r.Bridges["br-ap0100"]; len(ports) != 2 || ports[0] != "gre-0100" || ports[1] != "veth1" {
		t.Errorf("br-ap0100 ports = %v", ports)
	}
	gre := r.Interfaces["gre-0100"]
	for _, want := range []string{"type=gre", "options:remote_ip=192.168.1.10", "options:local_ip=10.0.0.3", "options:key=5"} {
		if !strings.Contains(gre, want) {
			t.Errorf("gre-0100 = %q, missing %q", gre, want)
		}
	}
	if got := strings.Join(r.Restarts(), ","); got != "network,dnsmasq,firewall" {
		t.Errorf("restarts = %s", got)
	}

	if err := d.Detach(context.Background()); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if after := r.Snapshot(); after != before {
		t.Errorf("configuration after detach differs:\n--- before\n%s\n--- after\n%s", before, after)
	}
	if f.dialer.Opens() != 2 || f.dialer.Leaked() != 0 {
		t.Errorf("opens = %d leaked = %d", f.dialer.Opens(), f.dialer.Leaked())
	}
}

func TestAttachAvoidsVLANsInUse(t *testing.T) {
	// First draw lands on VLAN 2, which the stock config uses.
	f := newFixture(0, 40)
	d := f.driver(t, ident, 1)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got, _ := f.router.Option("network.@switch_vlan[-1].vlan"); got != "42" {
		t.Errorf("allocated VLAN = %s, want 42", got)
	}
}

func TestAttachSkipsReservedVLANs(t *testing.T) {
	f := newFixture(98, 198) // tags 100, then 200
	d, err := New(driver.Params{
		LocalAddress:  "192.168.1.10",
		RemoteAddress: rtAddr,
		Identifier:    ident,
		Technology:    "gre",
		Index:         1,
	}, driver.Env{Dialer: f.dialer, Random: f.random, ReservedVLANs: []int{100}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got, _ := f.router.Option("network.@switch_vlan[-1].vlan"); got != "200" {
		t.Errorf("allocated VLAN = %s, want 200", got)
	}
}

func TestAttachFillsVethGap(t *testing.T) {
	f := newFixture(98)
	f.router.AddVeth("veth2", "veth3")
	f.router.AddVeth("veth10", "veth11")
	d := f.driver(t, ident, 1)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got, _ := f.router.Option("network.vlan0100.ifname"); got != "eth0.100 veth4" {
		t.Errorf("ifname = %q, want veth4 on the bridge", got)
	}
	if _, ok := f.router.Links["veth5"]; !ok {
		t.Error("veth5 not created")
	}
}

func TestTwoAttachmentsShareVLAN4k(t *testing.T) {
	f := newFixture(98, 198) // tags 100, 200
	before := f.router.Snapshot()
	a := f.driver(t, ident, 1)
	b := f.driver(t, "usr=root;pwd=secret;ssid_name=lobby;ssid_pass=x;", 2)

	for _, d := range []*Driver{a, b} {
		if err := d.Attach(context.Background()); err != nil {
			t.Fatalf("Attach(%s) error = %v", d.ssidName, err)
		}
	}
	if got, _ := f.router.Option("firewall.@zone[0].network"); got != "lan vlan0100 vlan0200" {
		t.Errorf("zone networks = %q", got)
	}

	if err := a.Detach(context.Background()); err != nil {
		t.Fatalf("Detach(a) error = %v", err)
	}
	if v, _ := f.router.Option("network.@switch[0].enable_vlan4k"); v != "1" {
		t.Error("enable_vlan4k cleared while another attachment remains")
	}
	if _, ok := f.router.Bridges["br-ap0200"]; !ok {
		t.Error("second attachment's bridge removed")
	}

	if err := b.Detach(context.Background()); err != nil {
		t.Fatalf("Detach(b) error = %v", err)
	}
	if after := f.router.Snapshot(); after != before {
		t.Errorf("configuration after both detaches differs:\n--- before\n%s\n--- after\n%s", before, after)
	}
}

func TestRoundTripKeepsPresetVLAN4k(t *testing.T) {
	f := newFixture(98)
	f.router.Sections("network", "switch")[0].Options["enable_vlan4k"] = "1"
	before := f.router.Snapshot()
	d := f.driver(t, ident, 1)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, ok := f.router.Option("network.@switch[0].extport_vlan4k"); ok {
		t.Error("attach claimed an enable_vlan4k it did not set")
	}
	if err := d.Detach(context.Background()); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if v, _ := f.router.Option("network.@switch[0].enable_vlan4k"); v != "1" {
		t.Error("detach removed the preset enable_vlan4k")
	}
	if after := f.router.Snapshot(); after != before {
		t.Errorf("configuration after detach differs:\n--- before\n%s\n--- after\n%s", before, after)
	}
}

func TestAttachZoneWithoutNetworks(t *testing.T) {
	f := newFixture(98)
	delete(f.router.Sections("firewall", "zone")[0].Options, "network")
	before := f.router.Snapshot()
	d := f.driver(t, ident, 1)

	if err := d.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got, _ := f.router.Option("firewall.@zone[0].network"); got != "vlan0100" {
		t.Errorf("zone networks = %q, want vlan0100", got)
	}
	if err := d.Detach(context.Background()); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if _, ok := f.router.Option("firewall.@zone[0].network"); ok {
		t.Error("detach left an empty zone network option")
	}
	if after := f.router.Snapshot(); after != before {
		t.Errorf("configuration after detach differs:\n--- before\n%s\n--- after\n%s", before, after)
	}
}

func TestAttachZoneMissing(t *testing.T) {
	f := newFixture(98)
	before := f.router.Snapshot()
	d := f.driver(t, ident+"zone=dmz;", 1)

	err := d.Attach(context.Background())
	if !errors.Is(err, util.ErrResourceNotFound) {
		t.Fatalf("Attach() error = %v, want ErrResourceNotFound", err)
	}
	var se *util.StepError
	if !errors.As(err, &se) || se.Step != util.StepAllocate || se.Driver != Name {
		t.Fatalf("error = %#v, want allocation step", err)
	}
	if se.LastResponse != "R: wan" {
		t.Errorf("LastResponse = %q, want %q", se.LastResponse, "R: wan")
	}
	if f.router.Snapshot() != before {
		t.Error("device changed by a failed allocation")
	}
	if f.dialer.Leaked() != 0 {
		t.Error("session leaked")
	}
}

func TestDetachSSIDMissing(t *testing.T) {
	f := newFixture(98)
	before := f.router.Snapshot()
	d := f.driver(t, ident, 1)

	err := d.Detach(context.Background())
	if !errors.Is(err, util.ErrResourceNotFound) {
		t.Fatalf("Detach() error = %v, want ErrResourceNotFound", err)
	}
	for _, cmd := range f.router.Commands() {
		if strings.HasPrefix(cmd, "uci delete") || strings.HasPrefix(cmd, "ovs-vsctl del-br") {
			t.Errorf("detach ran %q after a failed lookup", cmd)
		}
	}
	if f.router.Snapshot() != before {
		t.Error("device changed by a failed detach")
	}
}

func TestAttachCommandFailure(t *testing.T) {
	f := newFixture(98)
	f.router.FailOn = []string{"ovs-vsctl add-br"}
	d := f.driver(t, ident, 1)

	err := d.Attach(context.Background())
	if !errors.Is(err, util.ErrDriver) {
		t.Fatalf("Attach() error = %v, want ErrDriver", err)
	}
	var se *util.StepError
	if !errors.As(err, &se) || se.Step != util.StepCommand || se.Command != "ovs-vsctl add-br br-ap0100" {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(se.LastResponse, "error:") {
		t.Errorf("LastResponse = %q", se.LastResponse)
	}
	for _, cmd := range f.router.Commands() {
		if strings.HasPrefix(cmd, "ovs-vsctl add-port") {
			t.Error("commands sent after the failed one")
		}
	}
}

func TestAttachRestartTimeout(t *testing.T) {
	f := newFixture(98)
	f.router.HangOn = []string{"/etc/init.d/network restart"}
	d := f.driver(t, ident, 1)

	err := d.Attach(context.Background())
	if !errors.Is(err, util.ErrTimeout) {
		t.Fatalf("Attach() error = %v, want ErrTimeout", err)
	}
	var te *session.ReadTimeoutError
	if !errors.As(err, &te) || te.Timeout != session.DefaultRestartTimeout {
		t.Errorf("timeout = %v, want the restart timeout", err)
	}
	if f.dialer.Leaked() != 0 {
		t.Error("session leaked")
	}
}

func TestRestartTimeoutOverride(t *testing.T) {
	d := &Driver{env: driver.Env{RestartTimeout: 30 * time.Second}}
	for _, c := range d.restarts() {
		if c.Timeout != 30*time.Second {
			t.Errorf("%s timeout = %v", c.Line, c.Timeout)
		}
	}
}

func TestNewRejectsBadIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		key        string
		missing    bool
	}{
		{name: "missing ssid_pass", identifier: "usr=root;pwd=x;ssid_name=a;", key: KeySSIDPass, missing: true},
		{name: "missing usr", identifier: "pwd=x;ssid_name=a;ssid_pass=b;", key: KeyUser, missing: true},
		{name: "bad port", identifier: ident + "port=ssh;", key: KeyPort},
		{name: "no equals", identifier: "usr=root;pwd;", key: "pwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(1)
			_, err := New(driver.Params{RemoteAddress: rtAddr, Identifier: tt.identifier}, driver.Env{Dialer: f.dialer})
			var ce *util.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("New() error = %v, want *util.ConfigError", err)
			}
			if ce.Key != tt.key || ce.Missing != tt.missing {
				t.Errorf("ConfigError = %+v", ce)
			}
			if f.dialer.Opens() != 0 {
				t.Error("session opened for invalid identifier")
			}
		})
	}
}

func TestForeachQuery(t *testing.T) {
	got := foreachQuery("firewall", "zone", "name")
	for _, want := range []string{`config_get v "$1" name;`, "config_load firewall;", "config_foreach q zone", `echo "R: $v"`} {
		if !strings.Contains(got, want) {
			t.Errorf("foreachQuery() = %q, missing %q", got, want)
		}
	}
}
