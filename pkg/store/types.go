package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newtron-network/extport/pkg/util"
)

// Status is the user-visible health of a record.
type Status string

const (
	StatusBuild  Status = "BUILD"
	StatusActive Status = "ACTIVE"
	StatusDown   Status = "DOWN"
	StatusError  Status = "ERROR"
)

// BindState tracks where an attachment point is in its bind/unbind cycle.
type BindState string

const (
	StateUnbound   BindState = "unbound"
	StateAttaching BindState = "attaching"
	StateBound     BindState = "bound"
	StateDetaching BindState = "detaching"
)

// AttachmentPoint is a remote device port through which external hosts join
// a virtual network. Index is assigned by the store on create and never
// changes.
type AttachmentPoint struct {
	ID           string    `json:"id" validate:"required,uuid"`
	Name         string    `json:"name" validate:"max=255"`
	Description  string    `json:"description,omitempty" validate:"max=1024"`
	TenantID     string    `json:"tenant_id"`
	AdminStateUp bool      `json:"admin_state_up"`
	Status       Status    `json:"status" validate:"oneof=BUILD ACTIVE DOWN ERROR"`
	Error        string    `json:"error,omitempty"`
	IPAddress    string    `json:"ip_address" validate:"required,ip|hostname"`
	Driver       string    `json:"driver" validate:"required"`
	Identifier   string    `json:"identifier" validate:"required"`
	Technology   string    `json:"technology" validate:"required"`
	Index        int       `json:"index" validate:"gte=1"`
	NetworkID    string    `json:"network_id,omitempty"`
	State        BindState `json:"state" validate:"oneof=unbound attaching bound detaching"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Bound reports whether the attachment point currently belongs to a network.
func (ap *AttachmentPoint) Bound() bool {
	return ap.NetworkID != ""
}

func (ap *AttachmentPoint) Copy() *AttachmentPoint {
	c := *ap
	return &c
}

// ExternalPort is a host reached through an attachment point. PortID names
// the virtual port created when the external port is bound.
type ExternalPort struct {
	ID                string    `json:"id" validate:"required,uuid"`
	Name              string    `json:"name" validate:"max=255"`
	Description       string    `json:"description,omitempty" validate:"max=1024"`
	TenantID          string    `json:"tenant_id"`
	AdminStateUp      bool      `json:"admin_state_up"`
	Status            Status    `json:"status" validate:"oneof=BUILD ACTIVE DOWN ERROR"`
	MACAddress        string    `json:"mac_address" validate:"required,mac"`
	AttachmentPointID string    `json:"attachment_point_id" validate:"required,uuid"`
	PortID            string    `json:"port_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (ep *ExternalPort) Copy() *ExternalPort {
	c := *ep
	return &c
}

// Network is the virtual network an attachment point binds to.
type Network struct {
	ID       string `json:"id" validate:"required,uuid"`
	Name     string `json:"name" validate:"max=255"`
	TenantID string `json:"tenant_id"`
}

func (n *Network) Copy() *Network {
	c := *n
	return &c
}

// VirtualPort is the network-side port created for a bound external port.
type VirtualPort struct {
	ID         string `json:"id" validate:"required,uuid"`
	Name       string `json:"name"`
	NetworkID  string `json:"network_id" validate:"required"`
	DeviceID   string `json:"device_id" validate:"required"`
	MACAddress string `json:"mac_address" validate:"omitempty,mac"`
}

func (p *VirtualPort) Copy() *VirtualPort {
	c := *p
	return &c
}

// PortChain steers classified traffic through an ordered list of hops.
// Each hop is a set of virtual port IDs.
type PortChain struct {
	ID            string     `json:"id" validate:"required,uuid"`
	TenantID      string     `json:"tenant_id"`
	Name          string     `json:"name" validate:"max=255"`
	Description   string     `json:"description,omitempty" validate:"max=1024"`
	Ports         [][]string `json:"ports" validate:"dive,dive,uuid"`
	ClassifierIDs []string   `json:"steering_classifiers" validate:"dive,uuid"`
}

func (pc *PortChain) Copy() *PortChain {
	c := *pc
	c.Ports = make([][]string, len(pc.Ports))
	for i, hop := range pc.Ports {
		c.Ports[i] = append([]string(nil), hop...)
	}
	c.ClassifierIDs = append([]string(nil), pc.ClassifierIDs...)
	return &c
}

// DefaultProtocol is TCP.
const DefaultProtocol = 6

// SteeringClassifier selects the traffic a port chain applies to. Port
// ranges use the "min[:max]" form; an empty range matches any port.
type SteeringClassifier struct {
	ID           string `json:"id" validate:"required,uuid"`
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name" validate:"max=255"`
	Description  string `json:"description,omitempty" validate:"max=1024"`
	Protocol     int    `json:"protocol" validate:"gte=0,lte=255"`
	SrcPortRange string `json:"src_port_range,omitempty"`
	DstPortRange string `json:"dst_port_range,omitempty"`
	SrcIP        string `json:"src_ip,omitempty" validate:"omitempty,ip|cidr"`
	DstIP        string `json:"dst_ip,omitempty" validate:"omitempty,ip|cidr"`
}

func (sc *SteeringClassifier) Copy() *SteeringClassifier {
	c := *sc
	return &c
}

// PortRange is a parsed "min[:max]" range. A zero Min means unset.
type PortRange struct {
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`
}

// ParsePortRange parses "min[:max]". "80" yields 80-80 and "" yields the
// zero range.
func ParsePortRange(s string) (PortRange, error) {
	if s == "" {
		return PortRange{}, nil
	}
	lo, hi, found := strings.Cut(s, ":")
	if !found {
		hi = lo
	}
	min, err := parsePort(lo)
	if err != nil {
		return PortRange{}, err
	}
	max, err := parsePort(hi)
	if err != nil {
		return PortRange{}, err
	}
	if max < min {
		return PortRange{}, fmt.Errorf("port range %q: max below min", s)
	}
	return PortRange{Min: min, Max: max}, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a valid number", s)
	}
	if n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// String formats the range back to its "min[:max]" form.
func (r PortRange) String() string {
	if r.Min == 0 {
		return ""
	}
	return util.FormatBounds(r.Min, r.Max, ":")
}
