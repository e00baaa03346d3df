package openwrt

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/newtron-network/extport/pkg/allocator"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/sequencer"
	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

var vlanNetworkRE = regexp.MustCompile(`^vlan([0-9]+)$`)

// binding is what Detach reads back from the device.
type binding struct {
	tag         int
	network     string
	ssidIndex   int
	dhcpIndex   int
	vlanIndex   int
	zoneIndex   int
	networks    string // firewall zone networks after removing the VLAN
	veth        string
	clearVLAN4k bool
}

// Detach implements driver.Driver. Every index is re-derived from the
// device before anything is changed; a missing entry aborts the detach.
func (d *Driver) Detach(ctx context.Context) error {
	log := util.WithDevice(d.p.RemoteAddress).WithField("operation", "detach")

	c, err := d.open(ctx)
	if err != nil {
		return err
	}
	defer c.ch.Close()

	b, err := c.lookup(ctx)
	if err != nil {
		return err
	}
	log.Infof("SSID %q on %s: wifi-iface[%d] dhcp[%d] switch_vlan[%d] zone[%d] %s",
		d.ssidName, b.network, b.ssidIndex, b.dhcpIndex, b.vlanIndex, b.zoneIndex, b.veth)

	if err := c.apply(ctx, d.detachCommands(b)); err != nil {
		return err
	}
	log.Infof("SSID %q detached", d.ssidName)
	return nil
}

func (c *conn) lookup(ctx context.Context) (*binding, error) {
	d := c.d
	b := &binding{}
	var err error

	if b.ssidIndex, err = c.indexOf(ctx, "SSID", "wireless", "wifi-iface", "ssid", d.ssidName); err != nil {
		return nil, err
	}
	q := "uci get wireless.@wifi-iface[" + strconv.Itoa(b.ssidIndex) + "].network"
	out, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	b.network = strings.TrimSpace(out)
	m := vlanNetworkRE.FindStringSubmatch(b.network)
	if m == nil {
		return nil, driver.AllocationFailure(Name, d.p.RemoteAddress, q, session.LastLine(out),
			util.NewNotFoundOnDeviceError("VLAN network of SSID", d.ssidName))
	}
	b.tag, _ = strconv.Atoi(m[1])

	if b.dhcpIndex, err = c.indexOf(ctx, "DHCP pool", "dhcp", "dhcp", "interface", b.network); err != nil {
		return nil, err
	}
	if b.vlanIndex, err = c.indexOf(ctx, "switch VLAN", "network", "switch_vlan", "vlan", strconv.Itoa(b.tag)); err != nil {
		return nil, err
	}
	if b.zoneIndex, err = c.indexOf(ctx, "firewall zone", "firewall", "zone", "name", d.zone); err != nil {
		return nil, err
	}
	networks, err := c.query(ctx, zoneNetworksQuery(b.zoneIndex))
	if err != nil {
		return nil, err
	}
	b.networks = util.RemoveFromList(strings.TrimSpace(networks), b.network)

	q = "ovs-vsctl list-ports " + ovsBridge(b.tag)
	ports, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	veths := allocator.ParseSuffixes(ports, "veth")
	if len(veths) != 1 {
		return nil, driver.AllocationFailure(Name, d.p.RemoteAddress, q, session.LastLine(ports),
			util.NewNotFoundOnDeviceError("veth port on bridge", ovsBridge(b.tag)))
	}
	b.veth = veth(veths[0])

	// enable_vlan4k goes with the last attachment bridge, and only when an
	// attach turned it on.
	bridges, err := c.query(ctx, "ovs-vsctl list-br")
	if err != nil {
		return nil, err
	}
	others := 0
	for _, br := range strings.Fields(bridges) {
		if strings.HasPrefix(br, "br-ap") && br != ovsBridge(b.tag) {
			others++
		}
	}
	if others == 0 {
		owner, err := c.query(ctx, vlan4kOwnerQuery)
		if err != nil {
			return nil, err
		}
		b.clearVLAN4k = strings.TrimSpace(owner) == "1"
	}
	return b, nil
}

func (d *Driver) detachCommands(b *binding) []sequencer.Command {
	lines := []string{
		"ovs-vsctl del-br " + ovsBridge(b.tag),
		"ip link del " + b.veth,
		"uci delete wireless.@wifi-iface[" + strconv.Itoa(b.ssidIndex) + "]",
		"uci delete dhcp.@dhcp[" + strconv.Itoa(b.dhcpIndex) + "]",
		"uci delete network." + b.network,
		"uci delete network.@switch_vlan[" + strconv.Itoa(b.vlanIndex) + "]",
	}
	if b.clearVLAN4k {
		lines = append(lines,
			"uci delete network.@switch[0].enable_vlan4k",
			"uci delete "+vlan4kOwner)
	}
	zone := "firewall.@zone[" + strconv.Itoa(b.zoneIndex) + "].network"
	if b.networks == "" {
		lines = append(lines, "uci delete "+zone)
	} else {
		lines = append(lines, "uci set "+zone+"="+util.ShellQuote(b.networks))
	}
	lines = append(lines, "uci commit")
	return append(sequencer.Commands(lines...), d.restarts()...)
}
