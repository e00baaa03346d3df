// Package audit records lifecycle and steering operations as JSON lines.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operations recorded by the orchestrator and the steering service.
const (
	OpAttach              = "attachment-point.attach"
	OpDetach              = "attachment-point.detach"
	OpCreateAP            = "attachment-point.create"
	OpUpdateAP            = "attachment-point.update"
	OpDeleteAP            = "attachment-point.delete"
	OpBindPort            = "external-port.bind"
	OpUnbindPort          = "external-port.unbind"
	OpCreatePortChain     = "port-chain.create"
	OpUpdatePortChain     = "port-chain.update"
	OpDeletePortChain     = "port-chain.delete"
	OpCreateClassifier    = "steering-classifier.create"
	OpUpdateClassifier    = "steering-classifier.update"
	OpDeleteClassifier    = "steering-classifier.delete"
	OpCompensatingDelete  = "steering.compensate"
	OpCompensatingRestore = "steering.restore"
)

// Event is one audited operation.
type Event struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	User       string        `json:"user"`
	Operation  string        `json:"operation"`
	ResourceID string        `json:"resource_id"`
	Device     string        `json:"device,omitempty"`
	Driver     string        `json:"driver,omitempty"`
	NetworkID  string        `json:"network_id,omitempty"`
	Index      int           `json:"index,omitempty"`
	Step       string        `json:"step,omitempty"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	Operation   string
	ResourceID  string
	Device      string
	User        string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, operation, resourceID string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		User:       user,
		Operation:  operation,
		ResourceID: resourceID,
	}
}

// WithDevice records the device address and driver the operation ran against.
func (e *Event) WithDevice(device, driver string) *Event {
	e.Device = device
	e.Driver = driver
	return e
}

// WithBinding records the network and attachment index involved.
func (e *Event) WithBinding(networkID string, index int) *Event {
	e.NetworkID = networkID
	e.Index = index
	return e
}

// WithResult marks the event successful when err is nil, failed otherwise.
func (e *Event) WithResult(err error) *Event {
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithStep records the driver step that failed.
func (e *Event) WithStep(step string) *Event {
	e.Step = step
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
