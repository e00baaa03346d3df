// Package driver defines the attachment driver contract, the identifier
// grammar drivers are configured with, and the registry that maps driver
// names to constructors.
package driver

import (
	"context"
	"time"

	"github.com/newtron-network/extport/pkg/allocator"
	"github.com/newtron-network/extport/pkg/session"
)

// Driver provisions one attachment point on one device.
//
// Attach and Detach each open their own session and close it on every exit
// path. Detach re-derives from the device whatever Attach allocated.
// Calling Attach twice is not guarded against; callers own idempotence.
type Driver interface {
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
}

// Params is the attach/detach invocation boundary.
type Params struct {
	LocalAddress  string // tunnel endpoint on the virtual network side
	RemoteAddress string // attachment point device address
	Identifier    string // key=value;... driver configuration
	Technology    string // tunnelling technology tag, e.g. "gre"
	Index         int    // attachment point index
}

// Env carries the collaborators a constructor wires into its driver.
// Zero values select the driver's defaults.
type Env struct {
	Dialer         session.Dialer
	Random         allocator.Source
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	RestartTimeout time.Duration
	// ReservedVLANs are never chosen by sampled VLAN allocation.
	ReservedVLANs []int
}

// ReadTimeoutOr returns the configured read timeout or def.
func (e Env) ReadTimeoutOr(def time.Duration) time.Duration {
	if e.ReadTimeout > 0 {
		return e.ReadTimeout
	}
	return def
}

// RestartTimeoutOr returns the configured restart timeout or def.
func (e Env) RestartTimeoutOr(def time.Duration) time.Duration {
	if e.RestartTimeout > 0 {
		return e.RestartTimeout
	}
	return def
}

// Constructor builds a driver. It must validate the identifier and return a
// *util.ConfigError before any session is opened.
type Constructor func(p Params, env Env) (Driver, error)
