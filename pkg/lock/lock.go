// Package lock serializes allocate-and-commit sequences per device. Device
// shells offer no test-and-set, so two operations against the same device
// would otherwise read the same free identifiers.
package lock

import (
	"context"
	"sync"

	"github.com/newtron-network/extport/pkg/util"
)

// Locker grants exclusive leases on devices.
type Locker interface {
	// Acquire blocks until the device is free or ctx ends.
	Acquire(ctx context.Context, device string) (*Lease, error)
}

// Lease is a held device lock.
type Lease struct {
	Device string
	Holder string

	once    sync.Once
	release func() error
	err     error
}

// Release gives the lock back. Only the first call has an effect.
func (l *Lease) Release() error {
	l.once.Do(func() {
		if l.release != nil {
			l.err = l.release()
		}
		util.WithDevice(l.Device).Debugf("Lock released by %s", l.Holder)
	})
	return l.err
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(device string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[device]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[device] = s
	}
	return s
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, device string) (*Lease, error) {
	s := l.slot(device)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	util.WithDevice(device).Debug("Lock acquired (local)")
	return &Lease{
		Device: device,
		Holder: "local",
		release: func() error {
			<-s
			return nil
		},
	}, nil
}

// Nop never blocks. It is the accepted-race configuration.
type Nop struct{}

// Acquire implements Locker.
func (Nop) Acquire(ctx context.Context, device string) (*Lease, error) {
	return &Lease{Device: device, Holder: "none"}, nil
}
