// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the attachment engine. Every typed error below
// unwraps to exactly one of these so callers can use errors.Is.
var (
	ErrConnection       = errors.New("connection failed")
	ErrTimeout          = errors.New("timed out waiting for device")
	ErrResourceNotFound = errors.New("resource not found on device")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrDriver           = errors.New("driver failure")
	ErrSteeringDriver   = errors.New("steering driver failure")
	ErrDeviceLocked     = errors.New("device locked by another holder")

	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrPreconditionFailed = errors.New("precondition not met")
	ErrValidationFailed   = errors.New("validation failed")
	ErrInUse              = errors.New("resource in use")
	ErrDependencyMissing  = errors.New("required dependency missing")
)

// ConfigError reports a malformed or incomplete driver configuration.
// Missing distinguishes an absent key from one that is present but malformed.
type ConfigError struct {
	Key     string
	Missing bool
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Missing {
		return fmt.Sprintf("configuration: required key %q is missing", e.Key)
	}
	if e.Key == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: key %q is malformed: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// NewMissingKeyError creates a ConfigError for an absent key
func NewMissingKeyError(key string) *ConfigError {
	return &ConfigError{Key: key, Missing: true}
}

// NewMalformedKeyError creates a ConfigError for a key with a bad value
func NewMalformedKeyError(key, reason string) *ConfigError {
	return &ConfigError{Key: key, Reason: reason}
}

// NewConfigError creates a ConfigError not tied to a single key
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Steps reported by StepError.
const (
	StepParse    = "parse"
	StepOpen     = "session open"
	StepAllocate = "allocation"
	StepCommand  = "command"
	StepClose    = "session close"
)

// StepError records where a driver run failed: the step, the command index
// (for StepCommand) and the last line the device sent back.
type StepError struct {
	Driver       string
	Device       string
	Step         string
	Index        int
	Command      string
	LastResponse string
	Err          error
}

func (e *StepError) Error() string {
	var b strings.Builder
	if e.Driver != "" {
		b.WriteString(e.Driver)
		b.WriteString(" ")
	}
	if e.Device != "" {
		b.WriteString(e.Device)
		b.WriteString(": ")
	}
	b.WriteString(e.Step)
	if e.Step == StepCommand {
		fmt.Fprintf(&b, " #%d %q", e.Index, e.Command)
	} else if e.Command != "" {
		fmt.Fprintf(&b, " (%q)", e.Command)
	}
	b.WriteString(" failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.LastResponse != "" {
		fmt.Fprintf(&b, " (last response: %q)", e.LastResponse)
	}
	return b.String()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CommandRejectedError is returned when a device answers a command with an
// error. It unwraps to ErrDriver.
type CommandRejectedError struct {
	Command  string
	Response string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("device rejected %q: %s", e.Command, e.Response)
}

func (e *CommandRejectedError) Unwrap() error {
	return ErrDriver
}

// NotFoundOnDeviceError names the configuration entry that a scan expected
// to find. It unwraps to ErrResourceNotFound.
type NotFoundOnDeviceError struct {
	Kind string
	Name string
}

func (e *NotFoundOnDeviceError) Error() string {
	return fmt.Sprintf("%s %q not found on device", e.Kind, e.Name)
}

func (e *NotFoundOnDeviceError) Unwrap() error {
	return ErrResourceNotFound
}

// NewNotFoundOnDeviceError creates a NotFoundOnDeviceError
func NewNotFoundOnDeviceError(kind, name string) *NotFoundOnDeviceError {
	return &NotFoundOnDeviceError{Kind: kind, Name: name}
}

// SteeringDriverError reports a failed steering driver hook.
type SteeringDriverError struct {
	Driver string
	Method string
	Err    error
}

func (e *SteeringDriverError) Error() string {
	return fmt.Sprintf("%s failed in driver %s: %v", e.Method, e.Driver, e.Err)
}

// Is matches ErrSteeringDriver so the cause stays reachable via Unwrap.
func (e *SteeringDriverError) Is(target error) bool {
	return target == ErrSteeringDriver
}

func (e *SteeringDriverError) Unwrap() error {
	return e.Err
}

// PreconditionError represents a failed precondition check with context
type PreconditionError struct {
	Operation    string
	Resource     string
	Precondition string
	Details      string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("precondition failed for %s on %s: %s", e.Operation, e.Resource, e.Precondition)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(operation, resource, precondition, details string) *PreconditionError {
	return &PreconditionError{
		Operation:    operation,
		Resource:     resource,
		Precondition: precondition,
		Details:      details,
	}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// DependencyError represents a missing dependency
type DependencyError struct {
	Resource      string
	DependsOn     string
	DependsOnType string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s requires %s '%s' to exist", e.Resource, e.DependsOnType, e.DependsOn)
}

func (e *DependencyError) Unwrap() error {
	return ErrDependencyMissing
}

// NewDependencyError creates a dependency error
func NewDependencyError(resource, dependsOnType, dependsOn string) *DependencyError {
	return &DependencyError{
		Resource:      resource,
		DependsOn:     dependsOn,
		DependsOnType: dependsOnType,
	}
}

// InUseError represents a resource that cannot be modified because it's in use
type InUseError struct {
	Resource string
	UsedBy   []string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s is in use by: %s", e.Resource, strings.Join(e.UsedBy, ", "))
}

func (e *InUseError) Unwrap() error {
	return ErrInUse
}

// NewInUseError creates an in-use error
func NewInUseError(resource string, usedBy ...string) *InUseError {
	return &InUseError{
		Resource: resource,
		UsedBy:   usedBy,
	}
}
