package testutil

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/newtron-network/extport/pkg/session"
)

// UCISection is one section of a UCI config file. Anonymous sections have an
// empty Name.
type UCISection struct {
	Name    string
	Type    string
	Options map[string]string
}

// FakeRouter emulates the shell of a UCI-configured router with Open
// vSwitch: uci get/set/add/delete/commit, config_foreach queries, veth
// links, ovs-vsctl bridges and service restarts. Commands arrive one per
// line; a printf status trailer reports the last exit code.
type FakeRouter struct {
	mu sync.Mutex

	Username string
	Password string

	Configs map[string][]*UCISection
	// Links maps a net device to its veth peer ("" for other devices).
	Links map[string]string
	// Bridges maps an OVS bridge to its ports.
	Bridges map[string][]string
	// Interfaces holds OVS interface settings.
	Interfaces map[string]string
	Modules    map[string]bool

	FailOn []string // substrings of commands that exit 1
	HangOn []string // substrings of commands that never complete

	log      []string
	restarts []string
	anon     int
}

// NewFakeRouter returns a router with a stock LAN/WAN configuration, one
// radio with a default SSID and the ip_gre module loaded.
func NewFakeRouter(username, password string) *FakeRouter {
	return &FakeRouter{
		Username: username,
		Password: password,
		Configs: map[string][]*UCISection{
			"network": {
				{Name: "loopback", Type: "interface", Options: map[string]string{"ifname": "lo", "proto": "static"}},
				{Name: "lan", Type: "interface", Options: map[string]string{"ifname": "eth0.1", "type": "bridge", "proto": "static"}},
				{Name: "wan", Type: "interface", Options: map[string]string{"ifname": "eth0.2", "proto": "dhcp"}},
				{Type: "switch", Options: map[string]string{"name": "switch0", "reset": "1", "enable_vlan": "1"}},
				{Type: "switch_vlan", Options: map[string]string{"device": "switch0", "vlan": "1", "ports": "0 1 2 3 5t"}},
				{Type: "switch_vlan", Options: map[string]string{"device": "switch0", "vlan": "2", "ports": "4 5t"}},
			},
			"firewall": {
				{Type: "defaults", Options: map[string]string{"input": "ACCEPT"}},
				{Type: "zone", Options: map[string]string{"name": "lan", "network": "lan"}},
				{Type: "zone", Options: map[string]string{"name": "wan", "network": "wan wan6"}},
				{Type: "forwarding", Options: map[string]string{"src": "lan", "dest": "wan"}},
			},
			"dhcp": {
				{Type: "dnsmasq", Options: map[string]string{"domainneeded": "1"}},
				{Name: "lan", Type: "dhcp", Options: map[string]string{"interface": "lan", "start": "100"}},
				{Name: "wan", Type: "dhcp", Options: map[string]string{"interface": "wan", "ignore": "1"}},
			},
			"wireless": {
				{Name: "radio0", Type: "wifi-device", Options: map[string]string{"type": "mac80211", "channel": "11"}},
				{Type: "wifi-iface", Options: map[string]string{"device": "radio0", "network": "lan", "mode": "ap", "ssid": "OpenWrt"}},
			},
		},
		Links: map[string]string{
			"lo": "", "eth0": "", "eth0.1": "", "eth0.2": "", "br-lan": "", "wlan0": "",
		},
		Bridges:    map[string][]string{},
		Interfaces: map[string]string{},
		Modules:    map[string]bool{"ip_gre": true},
	}
}

// Login implements Device.
func (r *FakeRouter) Login(creds session.Credentials) error {
	if creds.Username != r.Username || creds.Password != r.Password {
		return &session.ConnectionError{Address: "router", Err: session.ErrAuthRejected}
	}
	return nil
}

// NewChannel implements Device.
func (r *FakeRouter) NewChannel(address string) session.Channel {
	st := &shellSession{r: r}
	return &lineChannel{addr: address, handle: st.handle}
}

// Commands returns every command line executed, in order.
func (r *FakeRouter) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// Restarts returns the services restarted, in order.
func (r *FakeRouter) Restarts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.restarts...)
}

// AddVeth creates a veth pair directly, bypassing the shell.
func (r *FakeRouter) AddVeth(a, b string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Links[a], r.Links[b] = b, a
}

// Option returns a UCI option addressed as config.section.option.
func (r *FakeRouter) Option(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.uciGet(path)
	return v, err == nil
}

// Sections returns the sections of a config with the given type.
func (r *FakeRouter) Sections(config, typ string) []*UCISection {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*UCISection
	for _, s := range r.Configs[config] {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot renders UCI, links and OVS state canonically. Anonymous section
// identifiers are omitted so the output only depends on content and order.
// Loaded kernel modules are not part of the snapshot.
func (r *FakeRouter) Snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, cfg := range sortedKeys(r.Configs) {
		for _, s := range r.Configs[cfg] {
			name := s.Name
			if name == "" || strings.HasPrefix(name, "cfg") {
				name = "@" + s.Type
			}
			fmt.Fprintf(&b, "%s.%s=%s\n", cfg, name, s.Type)
			for _, k := range sortedKeys(s.Options) {
				fmt.Fprintf(&b, "  %s=%s\n", k, s.Options[k])
			}
		}
	}
	for _, l := range sortedKeys(r.Links) {
		fmt.Fprintf(&b, "link %s peer=%s\n", l, r.Links[l])
	}
	for _, br := range sortedKeys(r.Bridges) {
		ports := append([]string(nil), r.Bridges[br]...)
		sort.Strings(ports)
		fmt.Fprintf(&b, "ovs %s ports=%v\n", br, ports)
	}
	for _, i := range sortedKeys(r.Interfaces) {
		fmt.Fprintf(&b, "ovs-if %s %s\n", i, r.Interfaces[i])
	}
	return b.String()
}

type shellSession struct {
	r      *FakeRouter
	lastRC int
}

func (st *shellSession) handle(text string) (string, bool) {
	r := st.r
	r.mu.Lock()
	defer r.mu.Unlock()

	var out strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "printf 'rc=") {
			f := shellFields(line)
			if len(f) < 5 {
				return out.String(), true
			}
			fmt.Fprintf(&out, "rc=%d\n%s%s\n", st.lastRC, f[3], f[4])
			continue
		}
		r.log = append(r.log, line)
		for _, h := range r.HangOn {
			if strings.Contains(line, h) {
				return out.String(), true
			}
		}
		res, rc := "", 0
		if r.fails(line) {
			res, rc = "error: "+line+"\n", 1
		} else {
			res, rc = r.run(line)
		}
		out.WriteString(res)
		st.lastRC = rc
	}
	return out.String(), false
}

func (r *FakeRouter) fails(line string) bool {
	for _, f := range r.FailOn {
		if strings.Contains(line, f) {
			return true
		}
	}
	return false
}

var foreachRE = regexp.MustCompile(`config_get \w+ "\$1" (\S+);.*config_load (\S+); config_foreach \w+ (\S+)`)

// run executes one command line and returns its output and exit code.
func (r *FakeRouter) run(line string) (string, int) {
	if m := foreachRE.FindStringSubmatch(line); m != nil {
		var b strings.Builder
		for _, s := range r.Configs[m[2]] {
			if s.Type == m[3] {
				fmt.Fprintf(&b, "R: %s\n", s.Options[m[1]])
			}
		}
		return b.String(), 0
	}

	orTrue := false
	if l, ok := strings.CutSuffix(line, "|| true"); ok {
		line, orTrue = strings.TrimSpace(l), true
	}
	line = strings.TrimSpace(strings.ReplaceAll(line, "2>/dev/null", ""))

	out, rc := r.exec(shellFields(line))
	if orTrue {
		rc = 0
	}
	return out, rc
}

func (r *FakeRouter) exec(f []string) (string, int) {
	if len(f) == 0 {
		return "", 0
	}
	switch f[0] {
	case "true", ":":
		return "", 0
	case "uci":
		return r.uci(f[1:])
	case "ls":
		if len(f) == 2 && f[1] == "/sys/class/net" {
			return strings.Join(sortedKeys(r.Links), "\n") + "\n", 0
		}
	case "ip":
		return r.ip(f[1:])
	case "ovs-vsctl":
		return r.ovs(f[1:])
	case "rmmod":
		if len(f) == 2 && r.Modules[f[1]] {
			r.Modules[f[1]] = false
			return "", 0
		}
		return "rmmod: ERROR: Module is not currently loaded\n", 1
	}
	if strings.HasPrefix(f[0], "/etc/init.d/") && len(f) == 2 && f[1] == "restart" {
		r.restarts = append(r.restarts, strings.TrimPrefix(f[0], "/etc/init.d/"))
		return "", 0
	}
	return "sh: " + f[0] + ": not found\n", 127
}

func (r *FakeRouter) ip(f []string) (string, int) {
	switch {
	// ip link add A type veth peer name B
	case len(f) == 8 && f[0] == "link" && f[1] == "add" && f[3] == "type" && f[4] == "veth":
		a, b := f[2], f[7]
		if _, ok := r.Links[a]; ok {
			return "RTNETLINK answers: File exists\n", 2
		}
		r.Links[a], r.Links[b] = b, a
		return "", 0
	// ip link set up dev A
	case len(f) == 5 && f[0] == "link" && f[1] == "set" && f[3] == "dev":
		if _, ok := r.Links[f[4]]; !ok {
			return "Cannot find device \"" + f[4] + "\"\n", 1
		}
		return "", 0
	// ip link del A
	case len(f) == 3 && f[0] == "link" && f[1] == "del":
		peer, ok := r.Links[f[2]]
		if !ok {
			return "Cannot find device \"" + f[2] + "\"\n", 1
		}
		delete(r.Links, f[2])
		if peer != "" {
			delete(r.Links, peer)
		}
		return "", 0
	}
	return "ip: bad arguments\n", 1
}

func (r *FakeRouter) ovs(f []string) (string, int) {
	if len(f) == 0 {
		return "ovs-vsctl: missing command\n", 1
	}
	switch f[0] {
	case "add-br":
		if _, ok := r.Bridges[f[1]]; ok {
			return "ovs-vsctl: cannot create a bridge named " + f[1] + " because a bridge named " + f[1] + " already exists\n", 1
		}
		r.Bridges[f[1]] = nil
		return "", 0
	case "del-br":
		ports, ok := r.Bridges[f[1]]
		if !ok {
			return "ovs-vsctl: no bridge named " + f[1] + "\n", 1
		}
		for _, p := range ports {
			delete(r.Interfaces, p)
		}
		delete(r.Bridges, f[1])
		return "", 0
	case "add-port":
		if _, ok := r.Bridges[f[1]]; !ok || len(f) < 3 {
			return "ovs-vsctl: no bridge named " + f[1] + "\n", 1
		}
		r.Bridges[f[1]] = append(r.Bridges[f[1]], f[2])
		return "", 0
	case "list-ports":
		ports, ok := r.Bridges[f[1]]
		if !ok {
			return "ovs-vsctl: no bridge named " + f[1] + "\n", 1
		}
		sorted := append([]string(nil), ports...)
		sort.Strings(sorted)
		if len(sorted) == 0 {
			return "", 0
		}
		return strings.Join(sorted, "\n") + "\n", 0
	case "list-br":
		if len(r.Bridges) == 0 {
			return "", 0
		}
		return strings.Join(sortedKeys(r.Bridges), "\n") + "\n", 0
	case "set":
		// set interface NAME k=v ...
		if len(f) < 4 || f[1] != "interface" {
			return "ovs-vsctl: bad set\n", 1
		}
		r.Interfaces[f[2]] = strings.Join(f[3:], " ")
		return "", 0
	}
	return "ovs-vsctl: unknown command '" + f[0] + "'\n", 1
}

func (r *FakeRouter) uci(f []string) (string, int) {
	quiet := false
	for len(f) > 0 && strings.HasPrefix(f[0], "-") {
		quiet = quiet || f[0] == "-q"
		f = f[1:]
	}
	if len(f) == 0 {
		return "Usage: uci [<options>] <command> [<arguments>]\n", 1
	}
	out, rc := r.uciCmd(f)
	if quiet && rc != 0 {
		out = ""
	}
	return out, rc
}

func (r *FakeRouter) uciCmd(f []string) (string, int) {
	switch f[0] {
	case "commit":
		return "", 0
	case "get":
		if len(f) != 2 {
			break
		}
		v, err := r.uciGet(f[1])
		if err != nil {
			return "uci: Entry not found\n", 1
		}
		return v + "\n", 0
	case "set":
		if len(f) != 2 {
			break
		}
		if err := r.uciSet(f[1]); err != nil {
			return "uci: " + err.Error() + "\n", 1
		}
		return "", 0
	case "add":
		if len(f) != 3 {
			break
		}
		r.anon++
		name := fmt.Sprintf("cfg%06x", r.anon)
		r.Configs[f[1]] = append(r.Configs[f[1]], &UCISection{Name: name, Type: f[2], Options: map[string]string{}})
		return name + "\n", 0
	case "delete":
		if len(f) != 2 {
			break
		}
		if err := r.uciDelete(f[1]); err != nil {
			return "uci: Entry not found\n", 1
		}
		return "", 0
	}
	return "uci: Invalid argument\n", 1
}

var anonRE = regexp.MustCompile(`^@([\w-]+)\[(-?\d+)\]$`)

// section resolves "name" or "@type[idx]" within config.
func (r *FakeRouter) section(config, ref string) (*UCISection, int, error) {
	secs := r.Configs[config]
	if m := anonRE.FindStringSubmatch(ref); m != nil {
		idx, _ := strconv.Atoi(m[2])
		var matches []int
		for i, s := range secs {
			if s.Type == m[1] {
				matches = append(matches, i)
			}
		}
		if idx < 0 {
			idx += len(matches)
		}
		if idx < 0 || idx >= len(matches) {
			return nil, -1, fmt.Errorf("entry not found")
		}
		return secs[matches[idx]], matches[idx], nil
	}
	for i, s := range secs {
		if s.Name == ref {
			return s, i, nil
		}
	}
	return nil, -1, fmt.Errorf("entry not found")
}

func (r *FakeRouter) uciGet(path string) (string, error) {
	p := strings.SplitN(path, ".", 3)
	if len(p) < 2 {
		return "", fmt.Errorf("invalid path")
	}
	s, _, err := r.section(p[0], p[1])
	if err != nil {
		return "", err
	}
	if len(p) == 2 {
		return s.Type, nil
	}
	v, ok := s.Options[p[2]]
	if !ok {
		return "", fmt.Errorf("entry not found")
	}
	return v, nil
}

func (r *FakeRouter) uciSet(expr string) error {
	path, value, ok := strings.Cut(expr, "=")
	if !ok {
		return fmt.Errorf("invalid argument")
	}
	p := strings.SplitN(path, ".", 3)
	if len(p) < 2 {
		return fmt.Errorf("invalid argument")
	}
	if len(p) == 2 {
		if s, _, err := r.section(p[0], p[1]); err == nil {
			s.Type = value
			return nil
		}
		if strings.HasPrefix(p[1], "@") {
			return fmt.Errorf("entry not found")
		}
		r.Configs[p[0]] = append(r.Configs[p[0]], &UCISection{Name: p[1], Type: value, Options: map[string]string{}})
		return nil
	}
	s, _, err := r.section(p[0], p[1])
	if err != nil {
		return err
	}
	s.Options[p[2]] = value
	return nil
}

func (r *FakeRouter) uciDelete(path string) error {
	p := strings.SplitN(path, ".", 3)
	if len(p) < 2 {
		return fmt.Errorf("invalid argument")
	}
	s, i, err := r.section(p[0], p[1])
	if err != nil {
		return err
	}
	if len(p) == 3 {
		if _, ok := s.Options[p[2]]; !ok {
			return fmt.Errorf("entry not found")
		}
		delete(s.Options, p[2])
		return nil
	}
	secs := r.Configs[p[0]]
	r.Configs[p[0]] = append(secs[:i:i], secs[i+1:]...)
	return nil
}

// shellFields splits a command line into words, honouring single and double
// quotes.
func shellFields(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		in     bool
		quote  byte
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote, in = c, true
		case c == ' ' || c == '\t':
			if in {
				fields = append(fields, cur.String())
				cur.Reset()
				in = false
			}
		default:
			cur.WriteByte(c)
			in = true
		}
	}
	if in {
		fields = append(fields, cur.String())
	}
	return fields
}
