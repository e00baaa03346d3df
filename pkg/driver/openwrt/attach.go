package openwrt

import (
	"context"
	"strconv"
	"strings"

	"github.com/newtron-network/extport/pkg/allocator"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/sequencer"
	"github.com/newtron-network/extport/pkg/util"
)

// attachment is what Attach allocates on the device.
type attachment struct {
	tag       int
	zoneIndex int
	networks  string // firewall zone networks after adding the VLAN
	pair      allocator.Pair
	setVLAN4k bool
}

// Attach implements driver.Driver.
func (d *Driver) Attach(ctx context.Context) error {
	log := util.WithDevice(d.p.RemoteAddress).WithField("operation", "attach")

	c, err := d.open(ctx)
	if err != nil {
		return err
	}
	defer c.ch.Close()

	a, err := c.allocate(ctx)
	if err != nil {
		return err
	}
	log.Infof("VLAN %d, zone %s[%d], veth pair %d/%d, GRE key %d",
		a.tag, d.zone, a.zoneIndex, a.pair.A, a.pair.B, d.greKey)

	if err := c.apply(ctx, d.attachCommands(a)); err != nil {
		return err
	}
	log.Infof("SSID %q attached on %s", d.ssidName, vlanNetwork(a.tag))
	return nil
}

func (c *conn) allocate(ctx context.Context) (*attachment, error) {
	d := c.d
	a := &attachment{}

	q := foreachQuery("network", "switch_vlan", "vlan")
	out, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	inUse := allocator.Ints(allocator.ParseTaggedValues(out))
	util.WithDevice(d.p.RemoteAddress).Debugf("VLANs in use: %s", util.CompactRange(inUse))
	inUse = append(inUse, d.env.ReservedVLANs...)
	if a.tag, err = allocator.NewVLANSampler(d.env.Random).Allocate(inUse); err != nil {
		return nil, driver.AllocationFailure(Name, d.p.RemoteAddress, q, "", err)
	}

	if a.zoneIndex, err = c.indexOf(ctx, "firewall zone", "firewall", "zone", "name", d.zone); err != nil {
		return nil, err
	}
	networks, err := c.query(ctx, zoneNetworksQuery(a.zoneIndex))
	if err != nil {
		return nil, err
	}
	a.networks = util.AddToList(strings.TrimSpace(networks), vlanNetwork(a.tag))

	links, err := c.query(ctx, "ls /sys/class/net")
	if err != nil {
		return nil, err
	}
	if a.pair, err = allocator.InterfacePair(allocator.ParseSuffixes(links, "veth"), 0); err != nil {
		return nil, driver.AllocationFailure(Name, d.p.RemoteAddress, "ls /sys/class/net", "", err)
	}

	vlan4k, err := c.query(ctx, vlan4kQuery)
	if err != nil {
		return nil, err
	}
	a.setVLAN4k = strings.TrimSpace(vlan4k) != "1"
	return a, nil
}

func (d *Driver) attachCommands(a *attachment) []sequencer.Command {
	net := vlanNetwork(a.tag)
	br := ovsBridge(a.tag)
	gre := greIface(a.tag)
	tag := strconv.Itoa(a.tag)
	va, vb := veth(a.pair.A), veth(a.pair.B)
	zone := "firewall.@zone[" + strconv.Itoa(a.zoneIndex) + "]"

	lines := []string{
		"ip link add " + va + " type veth peer name " + vb,
		"ip link set up dev " + va,
		"ip link set up dev " + vb,
		"uci set network." + net + "=interface",
		"uci set network." + net + ".type=bridge",
		"uci set network." + net + ".proto=none",
		"uci set network." + net + ".ifname=" + util.ShellQuote(d.ifname+"."+tag+" "+va),
	}
	if a.setVLAN4k {
		lines = append(lines,
			"uci set network.@switch[0].enable_vlan4k=1",
			"uci set "+vlan4kOwner+"=1")
	}
	lines = append(lines,
		"uci add network switch_vlan",
		"uci set network.@switch_vlan[-1].device="+d.switchName,
		"uci set network.@switch_vlan[-1].ports="+util.ShellQuote(d.cpuPort),
		"uci set network.@switch_vlan[-1].vlan="+tag,
		"uci set "+zone+".network="+util.ShellQuote(a.networks),
		"uci set dhcp."+net+"=dhcp",
		"uci set dhcp."+net+".interface="+net,
		"uci set dhcp."+net+".ignore=1",
		"uci add wireless wifi-iface",
		"uci set wireless.@wifi-iface[-1].device="+d.radio,
		"uci set wireless.@wifi-iface[-1].mode=ap",
		"uci set wireless.@wifi-iface[-1].ssid="+util.ShellQuote(d.ssidName),
		"uci set wireless.@wifi-iface[-1].encryption="+d.encryption,
		"uci set wireless.@wifi-iface[-1].key="+util.ShellQuote(d.ssidPass),
		"uci set wireless.@wifi-iface[-1].network="+net,
		"uci commit",
		// OVS terminates GRE itself; the kernel module would claim the packets.
		"rmmod ip_gre 2>/dev/null || true",
	)

	cmds := sequencer.Commands(lines...)
	cmds = append(cmds, d.restarts()...)
	return append(cmds, sequencer.Commands(
		"ovs-vsctl add-br "+br,
		"ovs-vsctl add-port "+br+" "+gre,
		"ovs-vsctl set interface "+gre+" type=gre"+
			" options:remote_ip="+d.p.LocalAddress+
			" options:local_ip="+d.p.RemoteAddress+
			" options:key="+strconv.Itoa(d.greKey),
		"ovs-vsctl add-port "+br+" "+vb,
	)...)
}
