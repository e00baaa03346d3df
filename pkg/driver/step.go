package driver

import (
	"context"
	"errors"

	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

// StepFailure attributes err to a driver and device. An existing
// *util.StepError in the chain is filled in and returned; anything else is
// wrapped in a new StepError for step.
func StepFailure(driverName, device, step string, err error) error {
	if err == nil {
		return nil
	}
	var se *util.StepError
	if errors.As(err, &se) {
		if se.Driver == "" {
			se.Driver = driverName
		}
		if se.Device == "" {
			se.Device = device
		}
		return err
	}
	return &util.StepError{Driver: driverName, Device: device, Step: step, Err: err}
}

// AllocationFailure reports err as a failure of the allocation step. When
// err comes from a device query the query and its last response line are
// kept; cmd and lastResponse name them otherwise.
func AllocationFailure(driverName, device, cmd, lastResponse string, err error) error {
	se := &util.StepError{
		Driver:       driverName,
		Device:       device,
		Step:         util.StepAllocate,
		Command:      cmd,
		LastResponse: lastResponse,
		Err:          err,
	}
	var inner *util.StepError
	if errors.As(err, &inner) {
		se.Command = inner.Command
		se.LastResponse = inner.LastResponse
		se.Err = inner.Err
	}
	return se
}

// Open dials the device and attributes a failure to the session-open step.
func Open(ctx context.Context, d session.Dialer, driverName, address string, creds session.Credentials) (session.Channel, error) {
	ch, err := d.Open(ctx, address, creds)
	if err != nil {
		return nil, StepFailure(driverName, address, util.StepOpen, err)
	}
	return ch, nil
}
