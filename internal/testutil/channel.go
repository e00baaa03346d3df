// Package testutil provides scripted fake devices for driver and lifecycle
// tests, and Redis helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/extport/pkg/session"
)

// Device is a scripted device reachable through a Dialer.
type Device interface {
	Login(creds session.Credentials) error
	NewChannel(address string) session.Channel
}

// lineChannel runs each sent line through handle and buffers the reply.
// ReadUntil never blocks: a missing marker is reported as a timeout at once.
type lineChannel struct {
	addr   string
	handle func(line string) (reply string, hang bool)

	mu      sync.Mutex
	pending string
	closed  bool
	onClose func()
}

func (c *lineChannel) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &session.ConnectionError{Address: c.addr, Err: fmt.Errorf("closed")}
	}
	reply, hang := c.handle(line)
	if !hang {
		c.pending += reply
	}
	return nil
}

func (c *lineChannel) ReadUntil(marker string, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &session.ConnectionError{Address: c.addr, Err: fmt.Errorf("closed")}
	}
	i := strings.Index(c.pending, marker)
	if i < 0 {
		return nil, &session.ReadTimeoutError{Marker: marker, Timeout: timeout, Partial: c.pending}
	}
	out := c.pending[:i+len(marker)]
	c.pending = c.pending[i+len(marker):]
	return []byte(out), nil
}

func (c *lineChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		if c.onClose != nil {
			c.onClose()
		}
	}
	return nil
}

func (c *lineChannel) RemoteAddr() string { return c.addr }

// Dialer hands out channels to registered fake devices and counts opens and
// closes so tests can check every session was released.
type Dialer struct {
	mu      sync.Mutex
	devices map[string]Device
	opens   int
	closes  int
	// OpenErr, when set, fails every Open.
	OpenErr error
}

// NewDialer creates a Dialer with no devices.
func NewDialer() *Dialer {
	return &Dialer{devices: make(map[string]Device)}
}

// Add makes dev reachable at address.
func (d *Dialer) Add(address string, dev Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[address] = dev
}

// Open implements session.Dialer.
func (d *Dialer) Open(ctx context.Context, address string, creds session.Credentials) (session.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	dev, ok := d.devices[address]
	if !ok {
		return nil, &session.ConnectionError{Address: address, Err: fmt.Errorf("no route to host")}
	}
	if err := dev.Login(creds); err != nil {
		return nil, err
	}
	d.opens++
	ch := dev.NewChannel(address)
	if lc, ok := ch.(*lineChannel); ok {
		lc.onClose = func() {
			d.mu.Lock()
			d.closes++
			d.mu.Unlock()
		}
	}
	return ch, nil
}

// Opens returns the number of sessions opened.
func (d *Dialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Leaked returns the number of sessions opened and not closed.
func (d *Dialer) Leaked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens - d.closes
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
