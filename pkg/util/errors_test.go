package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigError(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		err := NewMissingKeyError("pwd")
		if !strings.Contains(err.Error(), `"pwd"`) || !strings.Contains(err.Error(), "missing") {
			t.Errorf("unexpected message: %s", err)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Error("ConfigError should unwrap to ErrConfiguration")
		}
	})

	t.Run("malformed key", func(t *testing.T) {
		err := NewMalformedKeyError("port", "not a number")
		if !strings.Contains(err.Error(), "malformed") || !strings.Contains(err.Error(), "not a number") {
			t.Errorf("unexpected message: %s", err)
		}
		if err.Missing {
			t.Error("malformed key should not be reported as missing")
		}
	})

	t.Run("no key", func(t *testing.T) {
		err := NewConfigError("unknown driver %q", "beta")
		if err.Error() != `configuration: unknown driver "beta"` {
			t.Errorf("unexpected message: %s", err)
		}
	})
}

func TestStepError(t *testing.T) {
	err := &StepError{
		Driver:       "etherswitch",
		Device:       "192.0.2.10",
		Step:         StepCommand,
		Index:        3,
		Command:      "bridge 12 protocol ieee",
		LastResponse: "% Invalid input detected at '^' marker.",
		Err:          &CommandRejectedError{Command: "bridge 12 protocol ieee", Response: "% Invalid input"},
	}

	msg := err.Error()
	for _, want := range []string{"etherswitch", "192.0.2.10", "#3", "bridge 12 protocol ieee", "last response"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q should contain %q", msg, want)
		}
	}
	if !errors.Is(err, ErrDriver) {
		t.Error("StepError wrapping a rejected command should match ErrDriver")
	}

	open := &StepError{Step: StepOpen, Err: fmt.Errorf("dial: %w", ErrConnection)}
	if strings.Contains(open.Error(), "#") {
		t.Errorf("non-command step should not print an index: %s", open)
	}
	if !errors.Is(open, ErrConnection) {
		t.Error("StepError should unwrap to its cause")
	}
}

func TestNotFoundOnDeviceError(t *testing.T) {
	err := NewNotFoundOnDeviceError("firewall zone", "lan")
	if !errors.Is(err, ErrResourceNotFound) {
		t.Error("should unwrap to ErrResourceNotFound")
	}
	if !strings.Contains(err.Error(), `"lan"`) {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestSteeringDriverError(t *testing.T) {
	cause := errors.New("controller unreachable")
	err := &SteeringDriverError{Driver: "controller", Method: "create_port_chain_postcommit", Err: cause}
	if !errors.Is(err, ErrSteeringDriver) {
		t.Error("should match ErrSteeringDriver")
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to the cause")
	}
}

func TestPreconditionError(t *testing.T) {
	err := NewPreconditionError("bind", "ap-1", "attachment point must be unbound", "bound to net-1")

	msg := err.Error()
	if !strings.Contains(msg, "bind") || !strings.Contains(msg, "ap-1") || !strings.Contains(msg, "bound to net-1") {
		t.Errorf("unexpected message: %s", msg)
	}
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("PreconditionError should unwrap to ErrPreconditionFailed")
	}
	if strings.HasSuffix(NewPreconditionError("x", "y", "z", "").Error(), ")") {
		t.Error("no details should mean no parenthesised suffix")
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		if !strings.Contains(err.Error(), "field is required") {
			t.Errorf("Error message should contain the error: %s", err)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("field1 is required", "field2 is invalid")
		msg := err.Error()
		if !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") {
			t.Errorf("Error message should contain all errors: %s", msg)
		}
	})
}

func TestDependencyAndInUseErrors(t *testing.T) {
	dep := NewDependencyError("external port ep1", "attachment point", "ap-9")
	if !errors.Is(dep, ErrDependencyMissing) {
		t.Error("DependencyError should unwrap to ErrDependencyMissing")
	}
	inUse := NewInUseError("attachment point ap-1", "network net-1")
	if !errors.Is(inUse, ErrInUse) {
		t.Error("InUseError should unwrap to ErrInUse")
	}
	if !strings.Contains(inUse.Error(), "network net-1") {
		t.Errorf("unexpected message: %s", inUse)
	}
}
