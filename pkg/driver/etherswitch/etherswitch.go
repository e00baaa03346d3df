// Package etherswitch drives IOS-style managed switches over telnet. An
// attachment point becomes a VLAN bridged through IRB to a GRE tunnel back
// to the virtual network, with one access port in the VLAN.
package etherswitch

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
const Name = "etherswitch"

// TagOffset keeps derived VLAN tags clear of the low reserved range.
const TagOffset = 10

// Identifier keys.
const (
	KeyUser      = "usr"
	KeyPassword  = "pwd"
	KeyPort      = "port"
	KeyComm      = "comm"
	KeyIface     = "iface"
	KeyTunnelSrc = "tunnel_src"
)

// Register adds the driver to reg.
func Register(reg *driver.Registry) {
	reg.Register(Name, New)
}

// Driver configures one attachment point on one switch.
type Driver struct {
	p   driver.Params
	env driver.Env

	creds     session.Credentials
	port      string
	iface     string
	tunnelSrc string

	tag int
	key int
}

// New validates the identifier and derives the VLAN tag and tunnel key. No
// session is opened.
func New(p driver.Params, env driver.Env) (driver.Driver, error) {
	id, err := driver.ParseIdentifier(p.Identifier)
	if err != nil {
		return nil, err
	}
	if err := id.RequireAll(KeyUser, KeyPassword, KeyPort); err != nil {
		return nil, err
	}
	if p.Technology != "" && p.Technology != "gre" {
		return nil, util.NewConfigError("%s: unsupported technology %q", Name, p.Technology)
	}
	if comm := id.GetOr(KeyComm, "telnet"); comm != "telnet" {
		return nil, util.NewMalformedKeyError(KeyComm, fmt.Sprintf("unsupported transport %q", comm))
	}
	port, _ := id.Get(KeyPort)
	if _, err := strconv.Atoi(port); err != nil {
		return nil, util.NewMalformedKeyError(KeyPort, "not a port number")
	}

	tag, err := allocator.StaticTag(p.Index, TagOffset)
	if err != nil {
		return nil, driver.StepFailure(Name, p.RemoteAddress, util.StepAllocate, err)
	}
	key, err := allocator.TunnelKey(p.Index)
	if err != nil {
		return nil, driver.StepFailure(Name, p.RemoteAddress, util.StepAllocate, err)
	}

	usr, _ := id.Get(KeyUser)
	pwd, _ := id.Get(KeyPassword)
	if env.Dialer == nil {
		env.Dialer = &session.TelnetDialer{DialTimeout: env.DialTimeout}
	}
	return &Driver{
		p:         p,
		env:       env,
		creds:     session.Credentials{Username: usr, Password: pwd},
		port:      port,
		iface:     id.GetOr(KeyIface, "FastEthernet0/"),
		tunnelSrc: id.GetOr(KeyTunnelSrc, "Vlan1"),
		tag:       tag,
		key:       key,
	}, nil
}

// Tag returns the VLAN tag this driver configures.
func (d *Driver) Tag() int { return d.tag }

func (d *Driver) tagZero() string { return fmt.Sprintf("%04d", d.tag) }

// AttachCommands returns the configuration applied by Attach.
func (d *Driver) AttachCommands() []string {
	tag := strconv.Itoa(d.tag)
	return []string{
		"enable",
		"vlan database",
		"vlan " + tag + " name AP" + d.tagZero(),
		"exit",
		"configure terminal",
		"bridge irb",
		"bridge " + tag + " protocol ieee",
		"interface Tunnel" + tag,
		"tunnel key " + strconv.Itoa(d.key),
		"no ip address",
		"tunnel source " + d.tunnelSrc,
		"tunnel destination " + d.p.LocalAddress,
		"bridge-group " + tag,
		"bridge-group " + tag + " spanning-disabled",
		"no shutdown",
		"exit",
		"interface Vlan" + tag,
		"no ip address",
		"bridge-group " + tag,
		"no shutdown",
		"exit",
		"interface " + d.iface + d.port,
		"switchport access vlan " + tag,
		"spanning-tree portfast",
		"no shutdown",
		"end",
	}
}

// DetachCommands returns the statements that undo AttachCommands, in
// reverse order of the objects they created.
func (d *Driver) DetachCommands() []string {
	tag := strconv.Itoa(d.tag)
	return []string{
		"enable",
		"configure terminal",
		"interface " + d.iface + d.port,
		"no switchport access vlan " + tag,
		"no spanning-tree portfast",
		"exit",
		"no interface Vlan" + tag,
		"interface Tunnel" + tag,
		"no bridge-group " + tag + " spanning-disabled",
		"no bridge-group " + tag,
		"no tunnel destination " + d.p.LocalAddress,
		"no tunnel source " + d.tunnelSrc,
		"no tunnel key " + strconv.Itoa(d.key),
		"exit",
		"no interface Tunnel" + tag,
		"no bridge " + tag + " protocol ieee",
		"end",
		"vlan database",
		"no vlan " + tag,
		"exit",
	}
}

// Attach implements driver.Driver.
func (d *Driver) Attach(ctx context.Context) error {
	return d.run(ctx, "attach", d.AttachCommands())
}

// Detach implements driver.Driver.
func (d *Driver) Detach(ctx context.Context) error {
	return d.run(ctx, "detach", d.DetachCommands())
}

func (d *Driver) run(ctx context.Context, op string, lines []string) error {
	log := util.WithDevice(d.p.RemoteAddress).WithField("operation", op)
	log.Infof("%s VLAN %d (GRE key %d) on port %s%s", op, d.tag, d.key, d.iface, d.port)

	ch, err := driver.Open(ctx, d.env.Dialer, Name, d.p.RemoteAddress, d.creds)
	if err != nil {
		return err
	}
	defer ch.Close()

	seq := sequencer.New(sequencer.IOSFramer(), d.env.ReadTimeoutOr(session.DefaultReadTimeout))
	seq.StopOnFailure = true
	if _, err := seq.RunLines(ctx, ch, lines...); err != nil {
		return driver.StepFailure(Name, d.p.RemoteAddress, util.StepCommand, err)
	}

	log.Infof("%s complete", op)
	return nil
}
