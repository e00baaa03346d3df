// Package openwrt drives UCI-configured routers with Open vSwitch over SSH.
// An attachment point becomes a Wi-Fi SSID on a new VLAN bridge, linked by a
// veth pair to an OVS bridge that carries a GRE tunnel back to the virtual
// network.
package openwrt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/newtron-network/extport/pkg/allocator"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/sequencer"
	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

// Name is the registry name of this driver.
const Name = "openwrt"

// Identifier keys.
const (
	KeyUser       = "usr"
	KeyPassword   = "pwd"
	KeySSIDName   = "ssid_name"
	KeySSIDPass   = "ssid_pass"
	KeyPort       = "port"
	KeyZone       = "zone"
	KeyRadio      = "radio"
	KeySwitch     = "switch"
	KeyCPUPort    = "cpu_port"
	KeyIfname     = "ifname"
	KeyEncryption = "encryption"
)

// Register adds the driver to reg.
func Register(reg *driver.Registry) {
	reg.Register(Name, New)
}

// Driver configures one attachment point on one router.
type Driver struct {
	p   driver.Params
	env driver.Env

	creds      session.Credentials
	ssidName   string
	ssidPass   string
	zone       string
	radio      string
	switchName string
	cpuPort    string
	ifname     string
	encryption string
	greKey     int
}

// New validates the identifier. No session is opened.
func New(p driver.Params, env driver.Env) (driver.Driver, error) {
	id, err := driver.ParseIdentifier(p.Identifier)
	if err != nil {
		return nil, err
	}
	if err := id.RequireAll(KeyUser, KeyPassword, KeySSIDName, KeySSIDPass); err != nil {
		return nil, err
	}
	if p.Technology != "" && p.Technology != "gre" {
		return nil, util.NewConfigError("%s: unsupported technology %q", Name, p.Technology)
	}
	port, _, err := id.Int(KeyPort)
	if err != nil {
		return nil, err
	}
	key, err := allocator.TunnelKey(p.Index)
	if err != nil {
		return nil, driver.StepFailure(Name, p.RemoteAddress, util.StepAllocate, err)
	}

	if env.Dialer == nil {
		env.Dialer = &session.SSHDialer{DialTimeout: env.DialTimeout}
	}
	if env.Random == nil {
		env.Random = allocator.NewSource(0)
	}

	usr, _ := id.Get(KeyUser)
	pwd, _ := id.Get(KeyPassword)
	ssid, _ := id.Get(KeySSIDName)
	pass, _ := id.Get(KeySSIDPass)
	return &Driver{
		p:          p,
		env:        env,
		creds:      session.Credentials{Username: usr, Password: pwd, Port: port},
		ssidName:   ssid,
		ssidPass:   pass,
		zone:       id.GetOr(KeyZone, "lan"),
		radio:      id.GetOr(KeyRadio, "radio0"),
		switchName: id.GetOr(KeySwitch, "switch0"),
		cpuPort:    id.GetOr(KeyCPUPort, "5t"),
		ifname:     id.GetOr(KeyIfname, "eth0"),
		encryption: id.GetOr(KeyEncryption, "psk2"),
		greKey:     key,
	}, nil
}

// foreachQuery lists option of every section of sectionType in config, one
// "R: value" line per section, in config order.
func foreachQuery(config, sectionType, option string) string {
	return fmt.Sprintf(`. /lib/functions.sh; q() { local v; config_get v "$1" %s; echo "R: $v"; }; config_load %s; config_foreach q %s`,
		option, config, sectionType)
}

const (
	vlan4kQuery = "uci -q get network.@switch[0].enable_vlan4k || true"
	// vlan4kOwner marks enable_vlan4k as set by an attach, so only the
	// last detach removes it and an operator's own setting survives.
	vlan4kOwner      = "network.@switch[0].extport_vlan4k"
	vlan4kOwnerQuery = "uci -q get " + vlan4kOwner + " || true"
)

// zoneNetworksQuery reads a firewall zone's network list. A zone without
// the option yields an empty list.
func zoneNetworksQuery(zoneIndex int) string {
	return "uci -q get firewall.@zone[" + strconv.Itoa(zoneIndex) + "].network || true"
}

func vlanNetwork(tag int) string { return fmt.Sprintf("vlan%04d", tag) }
func ovsBridge(tag int) string   { return fmt.Sprintf("br-ap%04d", tag) }
func greIface(tag int) string    { return fmt.Sprintf("gre-%04d", tag) }
func veth(n int) string          { return "veth" + strconv.Itoa(n) }

// conn is one open session with its sequencer.
type conn struct {
	d   *Driver
	ch  session.Channel
	seq *sequencer.Sequencer
}

func (d *Driver) open(ctx context.Context) (*conn, error) {
	ch, err := driver.Open(ctx, d.env.Dialer, Name, d.p.RemoteAddress, d.creds)
	if err != nil {
		return nil, err
	}
	seq := sequencer.New(sequencer.ShellFramer{}, d.env.ReadTimeoutOr(session.DefaultReadTimeout))
	seq.StopOnFailure = true
	if err := seq.Sync(ctx, ch); err != nil {
		ch.Close()
		return nil, driver.StepFailure(Name, d.p.RemoteAddress, util.StepOpen, err)
	}
	return &conn{d: d, ch: ch, seq: seq}, nil
}

// query runs an introspection command during allocation.
func (c *conn) query(ctx context.Context, line string) (string, error) {
	out, err := c.seq.Query(ctx, c.ch, line)
	if err != nil {
		return "", driver.AllocationFailure(Name, c.d.p.RemoteAddress, line, "", err)
	}
	return out, nil
}

// indexOf runs a foreach query and locates name among the results.
func (c *conn) indexOf(ctx context.Context, kind, config, sectionType, option, name string) (int, error) {
	q := foreachQuery(config, sectionType, option)
	out, err := c.query(ctx, q)
	if err != nil {
		return -1, err
	}
	i, err := allocator.IndexOf(kind, allocator.ParseTaggedValues(out), name)
	if err != nil {
		return -1, driver.AllocationFailure(Name, c.d.p.RemoteAddress, q, session.LastLine(out), err)
	}
	return i, nil
}

func (c *conn) apply(ctx context.Context, cmds []sequencer.Command) error {
	if _, err := c.seq.Run(ctx, c.ch, cmds); err != nil {
		return driver.StepFailure(Name, c.d.p.RemoteAddress, util.StepCommand, err)
	}
	return nil
}

func (d *Driver) restarts() []sequencer.Command {
	timeout := d.env.RestartTimeoutOr(session.DefaultRestartTimeout)
	var cmds []sequencer.Command
	for _, svc := range []string{"network", "dnsmasq", "firewall"} {
		cmds = append(cmds, sequencer.Command{Line: "/etc/init.d/" + svc + " restart", Timeout: timeout})
	}
	return cmds
}
