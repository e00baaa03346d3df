package testutil

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/newtron-network/extport/pkg/session"
)

// FakeSwitch emulates the subset of an IOS-style managed switch CLI that
// the etherswitch driver drives: the VLAN database, global bridge
// statements and per-interface statements. A statement "no X" removes X.
type FakeSwitch struct {
	mu sync.Mutex

	Hostname string
	Password string

	VLANs      map[int]string
	Global     map[string]bool
	Interfaces map[string]map[string]bool

	// FailOn maps a command to the error line the switch prints for it.
	FailOn map[string]string
	// HangOn lists commands the switch never answers.
	HangOn map[string]bool

	log []string
}

// NewFakeSwitch returns a switch with VLAN 1, IRB enabled, an addressed
// Vlan1 SVI and ports FastEthernet0/1..ports.
func NewFakeSwitch(password string, ports int) *FakeSwitch {
	s := &FakeSwitch{
		Hostname:   "sw",
		Password:   password,
		VLANs:      map[int]string{1: "default"},
		Global:     map[string]bool{"bridge irb": true},
		Interfaces: map[string]map[string]bool{"Vlan1": {"ip address 10.0.0.2 255.255.255.0": true}},
		FailOn:     map[string]string{},
		HangOn:     map[string]bool{},
	}
	for i := 1; i <= ports; i++ {
		s.Interfaces[fmt.Sprintf("FastEthernet0/%d", i)] = map[string]bool{}
	}
	return s
}

// Login implements Device.
func (s *FakeSwitch) Login(creds session.Credentials) error {
	if creds.Password != s.Password {
		return &session.ConnectionError{Address: s.Hostname, Err: session.ErrAuthRejected}
	}
	return nil
}

// NewChannel implements Device. Each channel starts in privileged exec mode.
func (s *FakeSwitch) NewChannel(address string) session.Channel {
	st := &switchSession{sw: s, mode: "exec"}
	return &lineChannel{addr: address, handle: st.handle}
}

// Commands returns every command received, in order, across sessions.
func (s *FakeSwitch) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Snapshot renders the configuration surface in a canonical order.
func (s *FakeSwitch) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string
	ids := make([]int, 0, len(s.VLANs))
	for id := range s.VLANs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("vlan %d name %s", id, s.VLANs[id]))
	}
	for _, g := range sortedKeys(s.Global) {
		lines = append(lines, g)
	}
	for _, name := range sortedKeys(s.Interfaces) {
		lines = append(lines, "interface "+name)
		for _, st := range sortedKeys(s.Interfaces[name]) {
			lines = append(lines, " "+st)
		}
	}
	return strings.Join(lines, "\n")
}

type switchSession struct {
	sw    *FakeSwitch
	mode  string // exec, vlan, config, config-if
	iface string
}

func (st *switchSession) prompt() string {
	switch st.mode {
	case "vlan":
		return st.sw.Hostname + "(vlan)#"
	case "config":
		return st.sw.Hostname + "(config)#"
	case "config-if":
		return st.sw.Hostname + "(config-if)#"
	}
	return st.sw.Hostname + "#"
}

func (st *switchSession) handle(line string) (string, bool) {
	sw := st.sw
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cmd := strings.TrimSpace(line)
	sw.log = append(sw.log, cmd)
	if sw.HangOn[cmd] {
		return "", true
	}

	var out string
	if msg, ok := sw.FailOn[cmd]; ok {
		out = msg
	} else if cmd != "" {
		out = st.exec(cmd)
	}

	reply := line + "\r\n"
	if out != "" {
		reply += out + "\r\n"
	}
	return reply + st.prompt(), false
}

const invalidInput = "% Invalid input detected at '^' marker."

func (st *switchSession) exec(cmd string) string {
	sw := st.sw
	neg := strings.HasPrefix(cmd, "no ")
	body := strings.TrimPrefix(cmd, "no ")

	switch st.mode {
	case "exec":
		switch cmd {
		case "enable":
			return ""
		case "vlan database":
			st.mode = "vlan"
			return ""
		case "configure terminal":
			st.mode = "config"
			return "Enter configuration commands, one per line.  End with CNTL/Z."
		}
		return invalidInput

	case "vlan":
		if cmd == "exit" {
			st.mode = "exec"
			return "APPLY completed.\r\nExiting...."
		}
		f := strings.Fields(body)
		if len(f) < 2 || f[0] != "vlan" {
			return invalidInput
		}
		id, err := strconv.Atoi(f[1])
		if err != nil || id < 1 || id > 1005 {
			return invalidInput
		}
		if neg {
			delete(sw.VLANs, id)
			return fmt.Sprintf("Deleting VLAN %d...", id)
		}
		name := fmt.Sprintf("VLAN%04d", id)
		if len(f) == 4 && f[2] == "name" {
			name = f[3]
		}
		sw.VLANs[id] = name
		return fmt.Sprintf("VLAN %d added:\r\n    Name: %s", id, name)
	}

	// Global commands are accepted from interface mode too.
	switch {
	case cmd == "end":
		st.mode, st.iface = "exec", ""
		return ""
	case cmd == "exit":
		if st.mode == "config-if" {
			st.mode, st.iface = "config", ""
		} else {
			st.mode = "exec"
		}
		return ""
	case strings.HasPrefix(body, "interface "):
		name := strings.TrimSpace(strings.TrimPrefix(body, "interface "))
		if neg {
			delete(sw.Interfaces, name)
			st.mode, st.iface = "config", ""
			return ""
		}
		if _, ok := sw.Interfaces[name]; !ok {
			sw.Interfaces[name] = map[string]bool{}
		}
		st.mode, st.iface = "config-if", name
		return ""
	case strings.HasPrefix(body, "bridge "):
		st.mode, st.iface = "config", ""
		apply(sw.Global, neg, body)
		return ""
	}

	if st.mode != "config-if" {
		return invalidInput
	}
	apply(sw.Interfaces[st.iface], neg, body)
	return ""
}

func apply(set map[string]bool, neg bool, stmt string) {
	if set == nil {
		return
	}
	if neg {
		delete(set, stmt)
		return
	}
	set[stmt] = true
}
